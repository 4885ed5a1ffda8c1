package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all application configuration
type Config struct {
	Provider  ProviderConfig `json:"provider"`
	Remote    RemoteConfig   `json:"remote"`
	Server    ServerConfig   `json:"server"`
	Auth      AuthConfig     `json:"auth"`
	Logging   LoggingConfig  `json:"logging"`
	CachePath string         `json:"cache_path"` // sqlite local cache location
}

// ProviderConfig configures the LLM provider
type ProviderConfig struct {
	Type        string `json:"type"` // "gemini", "openai"
	GeminiKey   string `json:"gemini_key"`
	GeminiModel string `json:"gemini_model"`
	OpenAIKey   string `json:"openai_key"`
	OpenAIModel string `json:"openai_model"`
}

// RemoteConfig configures the remote session repository
type RemoteConfig struct {
	Type    string `json:"type"` // "none", "http", "memory"
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	UserID  string `json:"user_id"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`
}

// AuthConfig controls authentication
type AuthConfig struct {
	Enabled           bool   `json:"enabled"`
	SessionExpiryDays int    `json:"session_expiry_days"`
	DefaultAdminUser  string `json:"default_admin_user"`
	DefaultAdminPass  string `json:"default_admin_pass"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level string `json:"level"` // "debug", "info", "warn", "error"
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Type:        "gemini",
			GeminiModel: "gemini-2.0-flash",
			OpenAIModel: "gpt-4o-mini",
		},
		Remote: RemoteConfig{Type: "none"},
		Server: ServerConfig{
			BindAddress: "127.0.0.1",
			Port:        8080,
		},
		Auth: AuthConfig{
			Enabled:           true,
			SessionExpiryDays: 7,
			DefaultAdminUser:  "admin",
		},
		Logging:   LoggingConfig{Level: "info"},
		CachePath: "neuroai.db",
	}
}

// Load reads configuration from the given path, creating it with defaults
// when absent
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case "gemini", "openai":
	default:
		return fmt.Errorf("config: unknown provider type %q", c.Provider.Type)
	}

	switch c.Remote.Type {
	case "none", "memory":
	case "http":
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("config: remote.base_url is required for http remote")
		}
		if c.Remote.UserID == "" {
			return fmt.Errorf("config: remote.user_id is required for http remote")
		}
	default:
		return fmt.Errorf("config: unknown remote type %q", c.Remote.Type)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	return nil
}
