// Package config defines the runtime configuration and its loader.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Visor configuration
type Config struct {
	// Provider
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Judge model used by the verification gate
	Judge JudgeConfig `json:"judge" mapstructure:"judge"`

	// Run loop settings
	Run RunConfig `json:"run" mapstructure:"run"`

	// Verification gate
	Verify VerifyConfig `json:"verify" mapstructure:"verify"`

	// Session persistence
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Browser screen
	Browser BrowserConfig `json:"browser" mapstructure:"browser"`

	// Gateway (websocket event fan-out)
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig holds the generation model credentials and settings
type ProviderConfig struct {
	Name        string  `json:"name" mapstructure:"name"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// JudgeConfig selects the model that reads verification screenshots. Empty
// fields fall back to the generation provider.
type JudgeConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// RunConfig holds execution loop settings
type RunConfig struct {
	MaxSteps    int    `json:"max_steps" mapstructure:"max_steps"`
	QueuePolicy string `json:"queue_policy" mapstructure:"queue_policy"` // all, one-at-a-time
}

// VerifyConfig holds verification gate settings
type VerifyConfig struct {
	Enabled      bool `json:"enabled" mapstructure:"enabled"`
	MaxRetries   int  `json:"max_retries" mapstructure:"max_retries"`
	RetryDelayMS int  `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// RetryDelay returns the configured retry delay as a duration.
func (v VerifyConfig) RetryDelay() time.Duration {
	return time.Duration(v.RetryDelayMS) * time.Millisecond
}

// SessionsConfig holds session store settings
type SessionsConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // file, sqlite
	Dir     string `json:"dir" mapstructure:"dir"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// BrowserConfig holds browser screen settings
type BrowserConfig struct {
	Headless   bool   `json:"headless" mapstructure:"headless"`
	ChromePath string `json:"chrome_path" mapstructure:"chrome_path"`
	StartURL   string `json:"start_url" mapstructure:"start_url"`
	NoSandbox  bool   `json:"no_sandbox" mapstructure:"no_sandbox"`
}

// GatewayConfig holds websocket gateway settings
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with sane defaults
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "anthropic",
			MaxTokens:   4096,
			Temperature: 0,
		},
		Run: RunConfig{
			MaxSteps:    20,
			QueuePolicy: "all",
		},
		Verify: VerifyConfig{
			Enabled:      true,
			MaxRetries:   2,
			RetryDelayMS: 500,
		},
		Sessions: SessionsConfig{
			Backend: "file",
		},
		Browser: BrowserConfig{
			Headless: true,
			StartURL: "about:blank",
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7690",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Provider.Name != "anthropic" && c.Provider.Name != "openai" {
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai)", c.Provider.Name)
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api_key is required")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}

	if c.Run.MaxSteps <= 0 {
		return fmt.Errorf("run max_steps must be positive")
	}
	if c.Run.QueuePolicy != "all" && c.Run.QueuePolicy != "one-at-a-time" {
		return fmt.Errorf("invalid queue policy %s (must be: all, one-at-a-time)", c.Run.QueuePolicy)
	}

	if c.Verify.MaxRetries < 0 {
		return fmt.Errorf("verify max_retries cannot be negative")
	}

	if c.Sessions.Backend != "file" && c.Sessions.Backend != "sqlite" {
		return fmt.Errorf("invalid session backend %s (must be: file, sqlite)", c.Sessions.Backend)
	}

	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return fmt.Errorf("gateway addr is required when gateway is enabled")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
