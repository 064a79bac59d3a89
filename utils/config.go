// File: utils/config.go
package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configurable host parameters.
type Config struct {
	// Listeners
	HTTPAddr string `yaml:"httpAddr"` // Address of the HTTP/WebSocket listener
	GRPCAddr string `yaml:"grpcAddr"` // Address of the gRPC listener, empty disables it

	// Actors
	MailboxSize    int           `yaml:"mailboxSize"`    // Queued messages per actor before sends are rejected
	PassivateAfter time.Duration `yaml:"passivateAfter"` // Idle time before an actor is evicted, zero keeps actors alive
	AskTimeout     time.Duration `yaml:"askTimeout"`     // How long HTTP and gRPC callers wait for a turn

	// Expressions
	MaxSegments int `yaml:"maxSegments"` // Longest chain accepted by the path adapter

	// Shutdown
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"` // Grace period for listeners and actors

	// Logging
	LogLevel       string `yaml:"logLevel"`       // debug, info, warn or error
	LogDevelopment bool   `yaml:"logDevelopment"` // Human-friendly console output

	// Metrics
	MetricsPrefix   string        `yaml:"metricsPrefix"`   // Root scope prefix
	MetricsInterval time.Duration `yaml:"metricsInterval"` // Reporting interval of the root scope
}

// DefaultConfig returns a Config struct with default values.
func DefaultConfig() Config {
	return Config{
		HTTPAddr: ":3001",
		GRPCAddr: ":3002",

		MailboxSize:    1024,
		PassivateAfter: 5 * time.Minute,
		AskTimeout:     10 * time.Second,

		MaxSegments: 20,

		ShutdownTimeout: 5 * time.Second,

		LogLevel:       "info",
		LogDevelopment: false,

		MetricsPrefix:   "rpcactor",
		MetricsInterval: time.Second,
	}
}

// GRPCEnabled reports whether the gRPC listener should run.
func (c Config) GRPCEnabled() bool { return c.GRPCAddr != "" }

// LoadConfig reads a YAML file over DefaultConfig. Fields absent from the
// file keep their defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the host cannot run with.
func (c Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return fmt.Errorf("config: httpAddr is required")
	case c.MailboxSize < 1:
		return fmt.Errorf("config: mailboxSize must be positive, got %d", c.MailboxSize)
	case c.AskTimeout <= 0:
		return fmt.Errorf("config: askTimeout must be positive, got %v", c.AskTimeout)
	case c.MaxSegments < 1:
		return fmt.Errorf("config: maxSegments must be positive, got %d", c.MaxSegments)
	case c.PassivateAfter < 0:
		return fmt.Errorf("config: passivateAfter must not be negative, got %v", c.PassivateAfter)
	}
	return nil
}
