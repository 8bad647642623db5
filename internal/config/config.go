// Package config handles configuration loading for Jarvis. It supports XDG
// config paths and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Jarvis daemon.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// DaemonConfig holds daemon settings.
type DaemonConfig struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"addr"`
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path"`
}

// JobsConfig holds job dispatcher settings.
type JobsConfig struct {
	// PollIntervalMS is how often the queue is checked, in milliseconds.
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	// MaxConcurrent is the maximum number of jobs in flight at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Load loads configuration with this precedence (highest to lowest):
// 1. Environment variables (JARVIS_* and ANTHROPIC_API_KEY)
// 2. User config (~/.config/jarvis/config.yaml)
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	v.SetEnvPrefix("JARVIS")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("daemon.addr", "JARVIS_ADDR")
	v.BindEnv("daemon.db_path", "JARVIS_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("daemon.addr", "127.0.0.1:7777")
	v.SetDefault("daemon.db_path", defaultDBPath())

	v.SetDefault("jobs.poll_interval_ms", 1000)
	v.SetDefault("jobs.max_concurrent", 4)
}

// getUserConfigDir returns the XDG config directory for Jarvis.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "jarvis")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "jarvis")
	}
	return filepath.Join(home, ".config", "jarvis")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".jarvis", "jarvis.db")
	}
	return filepath.Join(home, ".jarvis", "jarvis.db")
}
