// Package config loads runtime configuration from config.json with
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
)

const envConfigPath = "GOTOCK_CONFIG_PATH"

const (
	defaultPort               = 443
	defaultReconnectInitialMS = 500
	defaultReconnectMaxMS     = 30000
)

// Config is the root runtime configuration.
type Config struct {
	Bot                   BotConfig       `json:"bot"`
	Reconnect             ReconnectConfig `json:"reconnect"`
	RequestTimeoutSeconds int             `json:"request_timeout_seconds,omitempty" env:"GOTOCK_REQUEST_TIMEOUT_SECONDS"`
	Logging               LoggingConfig   `json:"logging,omitempty"`
}

// BotConfig identifies the platform endpoint: the bot's api key is a path
// segment, host and port address the gateway.
type BotConfig struct {
	APIKey string `json:"api_key" env:"GOTOCK_API_KEY"`
	Host   string `json:"host" env:"GOTOCK_HOST"`
	Port   int    `json:"port" env:"GOTOCK_PORT"`
}

// ReconnectConfig bounds the session reconnect backoff.
type ReconnectConfig struct {
	InitialIntervalMS int `json:"initial_interval_ms" env:"GOTOCK_RECONNECT_INITIAL_MS"`
	MaxIntervalMS     int `json:"max_interval_ms" env:"GOTOCK_RECONNECT_MAX_MS"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" env:"GOTOCK_LOG_FORMAT"`
	Level     string `json:"level,omitempty" env:"GOTOCK_LOG_LEVEL"`
	AddSource bool   `json:"add_source,omitempty" env:"GOTOCK_LOG_ADD_SOURCE"`
}

// LoadConfig resolves config.json, unmarshals it, applies environment
// overrides and defaults, and validates the result. A missing file is not an
// error: the endpoint can be supplied entirely through the environment.
func LoadConfig() (*Config, error) {
	var cfg Config

	if configPath, err := findConfigPath(); err == nil {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings a bot cannot run without.
func (c *Config) Validate() error {
	if c.Bot.APIKey == "" {
		return errors.New("bot.api_key is required")
	}
	if c.Bot.Host == "" {
		return errors.New("bot.host is required")
	}
	if c.Bot.Port < 0 {
		return fmt.Errorf("bot.port %d is invalid", c.Bot.Port)
	}
	if c.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("request_timeout_seconds %d is invalid", c.RequestTimeoutSeconds)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Bot.Port == 0 {
		c.Bot.Port = defaultPort
	}
	if c.Reconnect.InitialIntervalMS <= 0 {
		c.Reconnect.InitialIntervalMS = defaultReconnectInitialMS
	}
	if c.Reconnect.MaxIntervalMS <= 0 {
		c.Reconnect.MaxIntervalMS = defaultReconnectMaxMS
	}
}

// findConfigPath checks the override env var, the working directory, then
// the user config directory.
func findConfigPath() (string, error) {
	if override := os.Getenv(envConfigPath); override != "" {
		return override, nil
	}

	if _, err := os.Stat("config.json"); err == nil {
		return "config.json", nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	candidate := filepath.Join(home, ".config", "gotock", "config.json")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	return "", os.ErrNotExist
}
