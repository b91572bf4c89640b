package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader reads configuration into a struct with mapstructure tags.
// Sources, lowest priority first: Defaults, File, environment variables with
// Prefix, then Flags that were set on the command line.
type Loader struct {
	Prefix   string                 // environment prefix without trailing underscore, e.g. "BUNQUERY"
	File     string                 // optional config file (yaml, json, toml, .env)
	Defaults map[string]any         // config key -> default value, e.g. "server.port"
	Flags    map[string]*pflag.Flag // config key -> flag
}

// Load fills target.
func (l Loader) Load(target interface{}) error {
	v := viper.New()

	// 1. Defaults make every key known to viper, which lets the environment
	// override keys that appear in no file.
	for key, value := range l.Defaults {
		v.SetDefault(key, value)
	}

	// 2. Optional config file
	if l.File != "" {
		v.SetConfigFile(l.File)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("failed to read config file %s: %w", l.File, err)
			}
		}
	}

	// 3. Environment variables: BUNQUERY_SERVER_PORT -> server.port
	if l.Prefix != "" {
		v.SetEnvPrefix(l.Prefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Flags (only those explicitly set override the layers above)
	for key, flag := range l.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	// 5. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
