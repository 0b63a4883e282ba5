package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrMissingCredential is returned when the enabled provider has no API key
// available, neither inline nor through its environment variable.
var ErrMissingCredential = errors.New("missing model API credential")

type Config struct {
	App       AppConfig                 `json:"app"`
	Browser   BrowserConfig             `json:"browser"`
	Agent     AgentConfig               `json:"agent"`
	Gateways  map[string]GatewayConfig  `json:"gateways"`
	Providers map[string]ProviderConfig `json:"providers"`
	Memory    MemoryConfig              `json:"memory"`
	Logging   LoggingConfig             `json:"logging"`
}

type AppConfig struct {
	Name          string `json:"name"`
	ScreenshotDir string `json:"screenshot_dir"`
	PromptsDir    string `json:"prompts_dir,omitempty"`
	PlatformsFile string `json:"platforms_file,omitempty"`
}

type BrowserConfig struct {
	Headless      bool `json:"headless"`
	NavTimeoutSec int  `json:"nav_timeout_sec"`
	ActTimeoutSec int  `json:"act_timeout_sec"`
}

type AgentConfig struct {
	MaxPlanSteps int `json:"max_plan_steps"`
	MaxRetries   int `json:"max_retries"`
	MaxReplans   int `json:"max_replans"`
}

type GatewayConfig struct {
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

type ProviderConfig struct {
	APIKey    string `json:"api_key,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url,omitempty"`
	Enabled   bool   `json:"enabled"`
}

type MemoryConfig struct {
	Path string `json:"path"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "gemini-web-browser"
	}
	if c.App.ScreenshotDir == "" {
		c.App.ScreenshotDir = "screenshots"
	}
	if c.Browser.NavTimeoutSec <= 0 {
		c.Browser.NavTimeoutSec = 30
	}
	if c.Browser.ActTimeoutSec <= 0 {
		c.Browser.ActTimeoutSec = 15
	}
	if c.Agent.MaxPlanSteps <= 0 {
		c.Agent.MaxPlanSteps = 20
	}
	if c.Agent.MaxRetries < 0 {
		c.Agent.MaxRetries = 0
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = 2
	}
	if c.Agent.MaxReplans <= 0 {
		c.Agent.MaxReplans = 1
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "history.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 3
	}
}

func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

func (c BrowserConfig) ActTimeout() time.Duration {
	return time.Duration(c.ActTimeoutSec) * time.Second
}

// GetDefaultProvider returns the first enabled provider. Known providers are
// checked in a fixed preference order since map iteration order is random.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for _, name := range []string{"gemini", "openai", "openrouter"} {
		if p, ok := c.Providers[name]; ok && p.Enabled {
			return name, p
		}
	}
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// Credential resolves the API key for a provider, preferring the inline key
// and falling back to the configured environment variable. The key is treated
// as opaque; validation happens at the first model call.
func (p ProviderConfig) Credential() (string, error) {
	if p.APIKey != "" {
		return p.APIKey, nil
	}
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrMissingCredential, p.APIKeyEnv)
	}
	return "", ErrMissingCredential
}

// GetTelegramConfig returns telegram gateway config if enabled.
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}
