// Package config loads the gateway's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Translate TranslateConfig `yaml:"translate"`
	Puppet    PuppetConfig    `yaml:"puppet"`
	Relay     RelayConfig     `yaml:"relay"`
	Discord   DiscordConfig   `yaml:"discord"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains listener and WebSocket settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Bind           string        `yaml:"bind"` // loopback or lan
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingPeriod     time.Duration `yaml:"ping_period"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	TickInterval   time.Duration `yaml:"tick_interval"`
}

type SessionConfig struct {
	// Wait is how long a new connection may take to announce its session.
	Wait time.Duration `yaml:"wait"`
}

type DispatchConfig struct {
	DegradeOperations []string      `yaml:"degrade_operations"`
	Workers           int           `yaml:"workers"`
	BroadcastTimeout  time.Duration `yaml:"broadcast_timeout"`
	EvalTimeout       time.Duration `yaml:"eval_timeout"`
	DefaultAngle      float64       `yaml:"default_angle"`
}

type TranslateConfig struct {
	DefaultAngle float64 `yaml:"default_angle"`
}

// PuppetConfig drives an optional headless browser as the direct
// execution path.
type PuppetConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	ControlURL  string        `yaml:"control_url"`
	Headful     bool          `yaml:"headful"` // show the browser window
	ChromeBin   string        `yaml:"chrome_bin"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

type RelayConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
}

type DiscoveryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	InstanceName string `yaml:"instance_name"`
	Iface        string `yaml:"iface"`
}

type MCPConfig struct {
	HTTP bool `yaml:"http"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes and fills unset fields with defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 18789
	}
	if c.Server.Bind == "" {
		c.Server.Bind = "loopback"
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = 512 * 1024
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.TickInterval == 0 {
		c.Server.TickInterval = 30 * time.Second
	}
	if c.Session.Wait == 0 {
		c.Session.Wait = 500 * time.Millisecond
	}
	if c.Dispatch.DegradeOperations == nil {
		c.Dispatch.DegradeOperations = []string{"rotate", "zoom"}
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 8
	}
	if c.Dispatch.BroadcastTimeout == 0 {
		c.Dispatch.BroadcastTimeout = 5 * time.Second
	}
	if c.Dispatch.EvalTimeout == 0 {
		c.Dispatch.EvalTimeout = 10 * time.Second
	}
	if c.Dispatch.DefaultAngle == 0 {
		c.Dispatch.DefaultAngle = 45
	}
	if c.Translate.DefaultAngle == 0 {
		c.Translate.DefaultAngle = 30
	}
	if c.Puppet.LoadTimeout == 0 {
		c.Puppet.LoadTimeout = 30 * time.Second
	}
	if c.Relay.Subject == "" {
		c.Relay.Subject = "twinctl.broadcast"
	}
	if c.Discovery.InstanceName == "" {
		c.Discovery.InstanceName = "twinctl gateway"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects settings the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.Bind != "loopback" && c.Server.Bind != "lan" {
		errs = append(errs, fmt.Errorf("invalid bind mode: %q (must be \"loopback\" or \"lan\")", c.Server.Bind))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must be >= 0"))
	}
	if c.Server.PingPeriod > 0 && c.Server.PingPeriod >= c.Server.PongWait {
		errs = append(errs, fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.Server.PingPeriod, c.Server.PongWait))
	}
	if c.Dispatch.Workers < 0 {
		errs = append(errs, fmt.Errorf("dispatch workers must be >= 0"))
	}
	if c.Puppet.Enabled && c.Puppet.URL == "" && c.Puppet.ControlURL == "" {
		errs = append(errs, fmt.Errorf("puppet enabled without url or control_url"))
	}
	return errors.Join(errs...)
}
