// Package config loads contexd configuration from TOML files and
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/junctive/contexd/errors"
)

// Config is the full contexd configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig tunes the HTTP API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// DefaultPageSize applies when a request gives no limit.
	DefaultPageSize int `mapstructure:"default_page_size"`
	// MaxPageSize caps the limit parameter.
	MaxPageSize int `mapstructure:"max_page_size"`
}

// DatabaseConfig locates the SQLite database. An empty path selects
// the in-memory-only mode.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig tunes the notification dispatch engine.
type NotifyConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueSize      int `mapstructure:"queue_size"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxFailures    int `mapstructure:"max_failures"`
}

// LogConfig selects the logging output format.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// Timeout returns the notification delivery timeout as a duration.
func (n NotifyConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// SetDefaults registers default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 1026)
	v.SetDefault("server.default_page_size", 20)
	v.SetDefault("server.max_page_size", 1000)
	v.SetDefault("database.path", "contexd.db")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("notify.max_failures", 3)
	v.SetDefault("log.json", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("contexd")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.contexd")
	v.AddConfigPath("/etc/contexd")

	v.SetEnvPrefix("CONTEXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// Load reads configuration from the standard search paths. A missing
// config file is not an error; defaults and environment apply.
func Load() (*Config, error) {
	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return unmarshal(v)
}

// LoadFromFile reads configuration from an explicit path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("invalid server port: %d", c.Server.Port)
	}
	if c.Notify.Workers <= 0 {
		return errors.Newf("notify.workers must be positive")
	}
	if c.Notify.QueueSize <= 0 {
		return errors.Newf("notify.queue_size must be positive")
	}
	if c.Notify.MaxFailures <= 0 {
		return errors.Newf("notify.max_failures must be positive")
	}
	return nil
}
