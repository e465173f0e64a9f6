// Package main provides the AlertFlow server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/alertflow/internal/ingest"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Engine    EngineConfig    `yaml:"engine"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
	Ingest    ingest.Config   `yaml:"ingest"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Address string    `yaml:"address"` // HTTP listen address (default: :8080)
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the API server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database file path
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // metrics listen address (default: :9090)
}

// EngineConfig contains alert engine settings.
type EngineConfig struct {
	// RulesFile optionally bootstraps rules from a YAML file. The file
	// is watched and reloaded on change.
	RulesFile string `yaml:"rules_file"`

	// StatsTTLSeconds caches statistics responses for this long.
	StatsTTLSeconds int `yaml:"stats_ttl_seconds"`

	// Escalation re-notifies unacknowledged critical alerts.
	Escalation []EscalationStepConfig `yaml:"escalation"`
}

// EscalationStepConfig is one escalation step.
type EscalationStepConfig struct {
	AfterMinutes int      `yaml:"after_minutes"`
	Channels     []string `yaml:"channels"` // empty means the alert's own channels
}

// NotifiersConfig configures delivery channels. A channel is active
// when its section is present with the required fields.
type NotifiersConfig struct {
	MaxRetries     int     `yaml:"max_retries"`
	SendTimeoutSec int     `yaml:"send_timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`

	Slack     *SlackNotifierConfig     `yaml:"slack"`
	Teams     *TeamsNotifierConfig     `yaml:"teams"`
	Webhook   *WebhookNotifierConfig   `yaml:"webhook"`
	Email     *EmailNotifierConfig     `yaml:"email"`
	Dashboard *DashboardNotifierConfig `yaml:"dashboard"`
}

// SlackNotifierConfig configures the Slack channel.
type SlackNotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// TeamsNotifierConfig configures the Microsoft Teams channel.
type TeamsNotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookNotifierConfig configures the generic webhook channel.
type WebhookNotifierConfig struct {
	URL                 string            `yaml:"url"`
	Method              string            `yaml:"method"`
	Headers             map[string]string `yaml:"headers"`
	ExpectedStatusCodes []int             `yaml:"expected_status_codes"`
}

// EmailNotifierConfig configures the SMTP channel.
type EmailNotifierConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// DashboardNotifierConfig configures the in-memory dashboard feed.
type DashboardNotifierConfig struct {
	Capacity int `yaml:"capacity"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/alertflow.db"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Engine.StatsTTLSeconds == 0 {
		c.Engine.StatsTTLSeconds = 60
	}
	if c.Notifiers.Dashboard == nil {
		c.Notifiers.Dashboard = &DashboardNotifierConfig{}
	}
	c.Ingest.SetDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.Engine.StatsTTLSeconds < 0 {
		return fmt.Errorf("engine.stats_ttl_seconds must not be negative")
	}
	for i, step := range c.Engine.Escalation {
		if step.AfterMinutes <= 0 {
			return fmt.Errorf("engine.escalation[%d].after_minutes must be positive", i)
		}
	}
	if c.Notifiers.Slack != nil && c.Notifiers.Slack.WebhookURL == "" {
		return fmt.Errorf("notifiers.slack.webhook_url is required when slack is configured")
	}
	if c.Notifiers.Teams != nil && c.Notifiers.Teams.WebhookURL == "" {
		return fmt.Errorf("notifiers.teams.webhook_url is required when teams is configured")
	}
	if c.Notifiers.Webhook != nil && c.Notifiers.Webhook.URL == "" {
		return fmt.Errorf("notifiers.webhook.url is required when webhook is configured")
	}
	if c.Notifiers.Email != nil {
		if c.Notifiers.Email.Host == "" {
			return fmt.Errorf("notifiers.email.host is required when email is configured")
		}
		if c.Notifiers.Email.From == "" {
			return fmt.Errorf("notifiers.email.from is required when email is configured")
		}
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

// SendTimeout returns the notifier send timeout as a duration.
func (c *NotifiersConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

// StatsTTL returns the statistics cache TTL as a duration.
func (c *EngineConfig) StatsTTL() time.Duration {
	return time.Duration(c.StatsTTLSeconds) * time.Second
}
