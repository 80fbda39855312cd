// Package config loads the bridge configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Floors and defaults for the polling knobs. The floors keep a
// misconfigured bridge from hammering the inbox or giving up before a
// human-latency backend can possibly answer.
const (
	MinPollInterval = 2 * time.Second
	MinTimeout      = 30 * time.Second

	DefaultPollInterval = 15 * time.Second
	DefaultTimeout      = 5 * time.Minute
	DefaultPageSize     = 25
	MaxPageSize         = 100
)

// Config is the full bridge configuration.
type Config struct {
	// Sender is the address outbound requests are sent from.
	Sender string `mapstructure:"sender" yaml:"sender"`

	// Recipient is the backend address requests are sent to.
	Recipient string `mapstructure:"recipient" yaml:"recipient"`

	// ResponseFrom is the address replies are expected from. Defaults to
	// Recipient.
	ResponseFrom string `mapstructure:"response_from" yaml:"response_from"`

	// PollInterval is the sleep between inbox polls while awaiting a reply.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// RequestTimeout bounds one logical call end to end.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// SupportedActions is the allow-list of actions the backend implements.
	SupportedActions []string `mapstructure:"supported_actions" yaml:"supported_actions"`

	// PageSize caps how many candidates one poll lists.
	PageSize int64 `mapstructure:"page_size" yaml:"page_size"`

	// CredentialsDir holds credentials.json and the cached OAuth token.
	CredentialsDir string `mapstructure:"credentials_dir" yaml:"credentials_dir"`
}

// DefaultConfigPath returns ~/.config/calbridge/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "calbridge", "config.yaml")
}

// Load reads the YAML file at path using Viper, fills defaults, and
// enforces the floors. The addresses are required.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("request_timeout", DefaultTimeout)
	v.SetDefault("page_size", DefaultPageSize)
	v.SetDefault("supported_actions", []string{"list", "health"})

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Sender == "" {
		return fmt.Errorf("sender is required")
	}
	if c.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if c.ResponseFrom == "" {
		c.ResponseFrom = c.Recipient
	}
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.RequestTimeout < MinTimeout {
		c.RequestTimeout = MinTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
	if c.CredentialsDir == "" {
		c.CredentialsDir = filepath.Dir(DefaultConfigPath())
	}
	return nil
}
