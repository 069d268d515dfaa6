package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models area.yml.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
		// BaseURL is the publicly reachable URL used when registering
		// webhook callbacks with third parties.
		BaseURL string `yaml:"base_url"`
	} `yaml:"http"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	// Webhooks maps service name to its inbound signature secret. An empty
	// secret disables signature verification for that service; this is the
	// documented insecure-by-default fallback, not an oversight.
	Webhooks map[string]WebhookConfig `yaml:"webhooks"`
	Integrations struct {
		Trello struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"trello"`
	} `yaml:"integrations"`
	Polling struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"polling"`
	Scheduler struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"scheduler"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// WebhookSecret returns the configured inbound secret for a service, empty
// when none is configured.
func (c *Config) WebhookSecret(serviceName string) string {
	if c == nil {
		return ""
	}
	return c.Webhooks[serviceName].Secret
}

func (c *Config) PollInterval() int {
	if c.Polling.IntervalSeconds > 0 {
		return c.Polling.IntervalSeconds
	}
	return 60
}

func (c *Config) SchedulerInterval() int {
	if c.Scheduler.IntervalSeconds > 0 {
		return c.Scheduler.IntervalSeconds
	}
	return 60
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config.http.addr is required")
	}
	if c.HTTP.BaseURL == "" {
		return fmt.Errorf("config.http.base_url is required")
	}
	if c.Polling.IntervalSeconds < 0 {
		return fmt.Errorf("config.polling.interval_seconds must be >= 0")
	}
	if c.Scheduler.IntervalSeconds < 0 {
		return fmt.Errorf("config.scheduler.interval_seconds must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "area.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a working local configuration.
func Default() *Config {
	var cfg Config
	cfg.HTTP.Addr = "127.0.0.1:8080"
	cfg.HTTP.BaseURL = "http://localhost:8080"
	cfg.Webhooks = map[string]WebhookConfig{}
	cfg.Polling.IntervalSeconds = 60
	cfg.Scheduler.IntervalSeconds = 60
	return &cfg
}
