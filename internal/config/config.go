// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"chatflow/internal/oauth"
)

// NATSConfig configures the JetStream chat event adapter.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	StreamName    string        `yaml:"stream"`
	Subject       string        `yaml:"subject"`
	DurableName   string        `yaml:"durable"`
	JoinSubject   string        `yaml:"join_subject"`
	AckWait       time.Duration `yaml:"ack_wait"`
	MaxDeliveries int           `yaml:"max_deliveries"`
}

// IRCConfig configures the direct websocket chat client. When enabled it is
// used instead of the NATS adapter.
type IRCConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Endpoint string   `yaml:"endpoint,omitempty"`
	Channels []string `yaml:"channels,omitempty"`
}

// FlowConfig is one user-configured flow: a trigger code plus its
// trigger-specific configuration payload.
type FlowConfig struct {
	ID      string    `yaml:"id,omitempty"`
	Name    string    `yaml:"name"`
	Trigger string    `yaml:"trigger"`
	Enabled bool      `yaml:"enabled"`
	Config  yaml.Node `yaml:"config,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	LogLevel  string       `yaml:"log_level,omitempty"`
	StorePath string       `yaml:"store_path"`
	NATS      NATSConfig   `yaml:"nats"`
	IRC       IRCConfig    `yaml:"irc"`
	OAuth     oauth.Config `yaml:"oauth"`
	Flows     []FlowConfig `yaml:"flows"`
}

// Defaults applied to missing fields.
const (
	DefaultNATSURL     = "nats://localhost:4222"
	DefaultStreamName  = "chat-events"
	DefaultSubject     = "chat.events.>"
	DefaultDurableName = "chatflow-consumer"
	DefaultJoinSubject = "chat.commands.join"
	DefaultStorePath   = "chatflow.db"
	DefaultAuthBaseURL = "https://id.twitch.tv/oauth2"
	DefaultAuthContext = "twitch"
)

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath
	}
	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}
	if c.NATS.StreamName == "" {
		c.NATS.StreamName = DefaultStreamName
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = DefaultSubject
	}
	if c.NATS.DurableName == "" {
		c.NATS.DurableName = DefaultDurableName
	}
	if c.NATS.JoinSubject == "" {
		c.NATS.JoinSubject = DefaultJoinSubject
	}
	if c.NATS.AckWait == 0 {
		c.NATS.AckWait = 30 * time.Second
	}
	if c.NATS.MaxDeliveries == 0 {
		c.NATS.MaxDeliveries = 5
	}
	if c.OAuth.BaseURL == "" {
		c.OAuth.BaseURL = DefaultAuthBaseURL
	}
	if c.OAuth.Context == "" {
		c.OAuth.Context = DefaultAuthContext
	}
}

// RawTriggerConfig re-marshals the flow's trigger-specific payload so it can
// be decoded by the trigger registry.
func (f *FlowConfig) RawTriggerConfig() ([]byte, error) {
	if f.Config.IsZero() {
		return []byte("{}"), nil
	}
	data, err := yaml.Marshal(&f.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger config for flow %q: %w", f.Name, err)
	}
	return data, nil
}
