package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models tracelayer.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Pipeline struct {
		DefaultProvider       string                    `yaml:"default_provider"`
		RequestTimeoutSeconds int                       `yaml:"request_timeout_seconds"`
		MaxSourceChars        int                       `yaml:"max_source_chars"`
		Providers             map[string]ProviderConfig `yaml:"providers"`
	} `yaml:"pipeline"`
	Sharing struct {
		DefaultTTLHours   int    `yaml:"default_ttl_hours"`
		DefaultPermission string `yaml:"default_permission"`
	} `yaml:"sharing"`
	Retention struct {
		KeepLatestRuns int `yaml:"keep_latest_runs"`
	} `yaml:"retention"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ProviderConfig describes one LLM backend the pipeline agents can call.
type ProviderConfig struct {
	Kind      string `yaml:"kind"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var providerKinds = map[string]bool{"openai": true, "anthropic": true}

var sharePermissions = map[string]bool{"view": true, "comment": true, "edit": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Pipeline.Providers) == 0 {
		return fmt.Errorf("config.pipeline.providers is required")
	}
	for name, p := range c.Pipeline.Providers {
		if name == "" {
			return fmt.Errorf("config.pipeline.providers contains empty name")
		}
		if !providerKinds[p.Kind] {
			return fmt.Errorf("provider %s has unsupported kind %q", name, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s requires a model", name)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("provider %s has negative max_tokens", name)
		}
	}
	if c.Pipeline.DefaultProvider != "" {
		if _, ok := c.Pipeline.Providers[c.Pipeline.DefaultProvider]; !ok {
			return fmt.Errorf("default provider %s not defined", c.Pipeline.DefaultProvider)
		}
	}
	if c.Pipeline.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("config.pipeline.request_timeout_seconds must not be negative")
	}
	if c.Sharing.DefaultTTLHours < 0 {
		return fmt.Errorf("config.sharing.default_ttl_hours must not be negative")
	}
	if c.Sharing.DefaultPermission != "" && !sharePermissions[c.Sharing.DefaultPermission] {
		return fmt.Errorf("config.sharing.default_permission must be view, comment or edit")
	}
	if c.Retention.KeepLatestRuns < 0 {
		return fmt.Errorf("config.retention.keep_latest_runs must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// RequestTimeout returns the per-call LLM timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Pipeline.RequestTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Pipeline.RequestTimeoutSeconds) * time.Second
}

// ShareTTL returns the default lifetime of a share link; zero means no expiry.
func (c *Config) ShareTTL() time.Duration {
	return time.Duration(c.Sharing.DefaultTTLHours) * time.Hour
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tracelayer.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

pipeline:
  default_provider: openai
  request_timeout_seconds: 120
  max_source_chars: 12000
  providers:
    openai:
      kind: openai
      base_url: https://api.openai.com/v1
      model: gpt-4o-mini
      max_tokens: 2048
    anthropic:
      kind: anthropic
      base_url: https://api.anthropic.com/v1
      model: claude-3-5-haiku-latest
      max_tokens: 2048

sharing:
  default_ttl_hours: 168
  default_permission: view

retention:
  keep_latest_runs: 20
`
