package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all gateway settings. Values come from defaults, an optional
// YAML file, and BROWSERGATE_* environment variables, in increasing priority.
type Config struct {
	Addr    string `mapstructure:"addr"`
	BaseURL string `mapstructure:"base_url"` // external URL used to build live view links

	Backend     string `mapstructure:"backend"` // "local" or "docker"
	DockerImage string `mapstructure:"docker_image"`

	MaxSessions     int64         `mapstructure:"max_sessions"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	CreateTimeout   time.Duration `mapstructure:"create_timeout"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`

	LiveViewInterval time.Duration `mapstructure:"live_view_interval"`

	RatePerMinute int `mapstructure:"rate_per_minute"`
	RateBurst     int `mapstructure:"rate_burst"`

	StoreDriver string `mapstructure:"store_driver"` // "memory" or "postgres"
	PostgresDSN string `mapstructure:"postgres_dsn"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the given file path (optional, "" skips the
// file) plus environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("base_url", "")
	v.SetDefault("backend", "local")
	v.SetDefault("docker_image", "browserless/chrome:latest")
	v.SetDefault("max_sessions", 10)
	v.SetDefault("session_timeout", time.Hour)
	v.SetDefault("create_timeout", 30*time.Second)
	v.SetDefault("navigate_timeout", 30*time.Second)
	v.SetDefault("live_view_interval", time.Second)
	v.SetDefault("rate_per_minute", 60)
	v.SetDefault("rate_burst", 10)
	v.SetDefault("store_driver", "memory")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("browsergate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("unknown backend %q (want local or docker)", c.Backend)
	}

	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("store_driver postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory or postgres)", c.StoreDriver)
	}

	if c.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1")
	}

	return nil
}
