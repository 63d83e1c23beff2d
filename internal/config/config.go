package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models heartmend.yml.
type Config struct {
	Server struct {
		Addr                  string `yaml:"addr"`
		BasePath              string `yaml:"base_path"`
		JWTSecret             string `yaml:"jwt_secret"`
		AllowLegacyUserHeader bool   `yaml:"allow_legacy_user_header"`
	} `yaml:"server"`
	AI struct {
		DefaultProvider string              `yaml:"default_provider"`
		Providers       map[string]Provider `yaml:"providers"`
		MaxRetries     int `yaml:"max_retries"`
		AttemptTimeout int `yaml:"attempt_timeout_seconds"`
		// Pointers so an explicit 0 is distinguishable from an omitted key.
		Temperature     *float64 `yaml:"temperature"`
		ChatTemperature *float64 `yaml:"chat_temperature"`
	} `yaml:"ai"`
	RateLimits map[string]RateLimit `yaml:"rate_limits"`
	Analytics  struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"analytics"`
}

// Provider describes one generation backend. The API key is never stored in
// the file; APIKeyEnv names the environment variable holding it.
type Provider struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type RateLimit struct {
	MaxRequests   int `yaml:"max_requests"`
	WindowMinutes int `yaml:"window_minutes"`
}

// Window returns the rate-limit window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run hm config init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.AI.DefaultProvider == "" {
		return fmt.Errorf("config.ai.default_provider is required")
	}
	if len(c.AI.Providers) == 0 {
		return fmt.Errorf("config.ai.providers is required")
	}
	if _, ok := c.AI.Providers[c.AI.DefaultProvider]; !ok {
		return fmt.Errorf("default provider %s not defined in config.ai.providers", c.AI.DefaultProvider)
	}
	for name, p := range c.AI.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s missing base_url", name)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s missing model", name)
		}
		if p.APIKeyEnv == "" {
			return fmt.Errorf("provider %s missing api_key_env", name)
		}
	}
	if c.AI.MaxRetries < 1 {
		return fmt.Errorf("config.ai.max_retries must be >= 1")
	}
	if c.AI.AttemptTimeout < 1 {
		return fmt.Errorf("config.ai.attempt_timeout_seconds must be >= 1")
	}
	if c.AI.Temperature != nil && (*c.AI.Temperature < 0 || *c.AI.Temperature > 2) {
		return fmt.Errorf("config.ai.temperature must be between 0 and 2")
	}
	if c.AI.ChatTemperature != nil && (*c.AI.ChatTemperature < 0 || *c.AI.ChatTemperature > 2) {
		return fmt.Errorf("config.ai.chat_temperature must be between 0 and 2")
	}
	for action, rl := range c.RateLimits {
		if rl.MaxRequests < 1 || rl.WindowMinutes < 1 {
			return fmt.Errorf("rate limit %s must have positive max_requests and window_minutes", action)
		}
	}
	return nil
}

// AttemptTimeout returns the per-attempt provider timeout as a duration.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AI.AttemptTimeout) * time.Second
}

// Temperature returns the generation sampling temperature, defaulting when
// the file omits it. An explicit 0 is honored.
func (c *Config) Temperature() float64 {
	if c.AI.Temperature != nil {
		return *c.AI.Temperature
	}
	return 0.7
}

// ChatTemperature returns the chat sampling temperature, defaulting when the
// file omits it.
func (c *Config) ChatTemperature() float64 {
	if c.AI.ChatTemperature != nil {
		return *c.AI.ChatTemperature
	}
	return 0.6
}

// Limit returns the rate limit for an action, falling back to a permissive
// default when the action is not configured.
func (c *Config) Limit(action string) RateLimit {
	if rl, ok := c.RateLimits[action]; ok {
		return rl
	}
	return RateLimit{MaxRequests: 60, WindowMinutes: 60}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "heartmend.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1
  jwt_secret: ""
  allow_legacy_user_header: false

ai:
  default_provider: qwen
  providers:
    qwen:
      base_url: https://dashscope.aliyuncs.com/compatible-mode/v1
      model: qwen-max
      api_key_env: QWEN_API_KEY
    openai:
      base_url: https://api.openai.com/v1
      model: gpt-4o
      api_key_env: OPENAI_API_KEY
  max_retries: 2
  attempt_timeout_seconds: 60
  temperature: 0.7
  chat_temperature: 0.6

rate_limits:
  create_case:
    max_requests: 20
    window_minutes: 60
  generate_case:
    max_requests: 5
    window_minutes: 60
  regenerate:
    max_requests: 10
    window_minutes: 60

analytics:
  enabled: true
`
