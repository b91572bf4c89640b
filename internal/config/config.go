// Package config provides bunquery server, logging and query configuration.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	pkgconfig "github.com/kartikbazzad/bunbase/bunquery/pkg/config"
)

// EnvPrefix prefixes every environment variable, e.g. BUNQUERY_SERVER_PORT.
const EnvPrefix = "BUNQUERY"

// Config holds bunquery configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Query  QueryConfig  `mapstructure:"query"`
	Store  StoreConfig  `mapstructure:"store"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	CORSOrigin         string `mapstructure:"cors_origin"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"` // 0 disables rate limiting
	RateLimitBurst     int    `mapstructure:"rate_limit_burst"`
}

// LogConfig configures logging. Requests, Queries and Timings switch on the
// request body dump, per-command and per-target timing log lines.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Requests bool   `mapstructure:"requests"`
	Queries  bool   `mapstructure:"queries"`
	Timings  bool   `mapstructure:"timings"`
}

// QueryConfig bounds query execution.
type QueryConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxConcurrentTargets int           `mapstructure:"max_concurrent_targets"`
}

// StoreConfig configures store connections.
type StoreConfig struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3333,
			CORSOrigin:     "*",
			RateLimitBurst: 20,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
		Query: QueryConfig{
			Timeout:              30 * time.Second,
			MaxConcurrentTargets: 256,
		},
		Store: StoreConfig{
			DialTimeout: 5 * time.Second,
			ReadTimeout: 10 * time.Second,
		},
	}
}

// Defaults returns the value of every key in Default, keyed by config key.
func Defaults() map[string]any {
	d := Default()
	return map[string]any{
		"server.host":                  d.Server.Host,
		"server.port":                  d.Server.Port,
		"server.cors_origin":           d.Server.CORSOrigin,
		"server.rate_limit_per_minute": d.Server.RateLimitPerMinute,
		"server.rate_limit_burst":      d.Server.RateLimitBurst,
		"log.level":                    d.Log.Level,
		"log.format":                   d.Log.Format,
		"log.requests":                 d.Log.Requests,
		"log.queries":                  d.Log.Queries,
		"log.timings":                  d.Log.Timings,
		"query.timeout":                d.Query.Timeout,
		"query.max_concurrent_targets": d.Query.MaxConcurrentTargets,
		"store.dial_timeout":           d.Store.DialTimeout,
		"store.read_timeout":           d.Store.ReadTimeout,
	}
}

// Load reads configuration from defaults, file (optional), BUNQUERY_*
// environment variables and the given flags (config key -> flag).
func Load(file string, flags map[string]*pflag.Flag) (*Config, error) {
	cfg := &Config{}
	l := pkgconfig.Loader{
		Prefix:   EnvPrefix,
		File:     file,
		Defaults: Defaults(),
		Flags:    flags,
	}
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must not be negative")
	}
	if c.Server.RateLimitPerMinute > 0 && c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be positive when rate limiting is enabled")
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive")
	}
	if c.Query.MaxConcurrentTargets <= 0 {
		return fmt.Errorf("query.max_concurrent_targets must be positive")
	}
	if c.Store.DialTimeout <= 0 || c.Store.ReadTimeout <= 0 {
		return fmt.Errorf("store timeouts must be positive")
	}
	return nil
}

// ListenAddr returns host:port for the HTTP listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
