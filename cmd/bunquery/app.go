package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kartikbazzad/bunbase/bunquery/internal/config"
	"github.com/kartikbazzad/bunbase/bunquery/internal/engine"
	"github.com/kartikbazzad/bunbase/bunquery/internal/store"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/logger"
)

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"timeout":     "query.timeout",
	"host":        "server.host",
	"port":        "server.port",
	"cors-origin": "server.cors_origin",
}

// loadConfig reads the configuration for cmd and initializes the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")

	flags := make(map[string]*pflag.Flag)
	for name, key := range flagKeys {
		// only flags given on the command line override the file and environment
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[key] = f
		}
	}

	cfg, err := config.Load(file, flags)
	if err != nil {
		return nil, err
	}

	logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return cfg, nil
}

func newDialer(cfg *config.Config) store.RedisDialer {
	return store.RedisDialer{
		DialTimeout: cfg.Store.DialTimeout,
		ReadTimeout: cfg.Store.ReadTimeout,
	}
}

func newEngine(cfg *config.Config) (*engine.Engine, error) {
	return engine.New(newDialer(cfg), engine.Config{
		Timeout:              cfg.Query.Timeout,
		MaxConcurrentTargets: cfg.Query.MaxConcurrentTargets,
		LogQueries:           cfg.Log.Queries,
		LogTimings:           cfg.Log.Timings,
	}, logger.Get())
}
