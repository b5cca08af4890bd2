// Package config loads the tutor's YAML configuration with environment
// overrides and live reload.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edulab/tutor/internal/embedding"
	"github.com/edulab/tutor/internal/mcp"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIKey may be a literal or an env(VAR_NAME) reference.
	APIKey string `yaml:"api_key,omitempty"`
	// RateLimit is "rate:burst" per client IP, e.g. "10:20". Empty
	// disables throttling.
	RateLimit string `yaml:"rate_limit,omitempty"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxSteps    int      `yaml:"max_steps"`
	TimeBudget  Duration `yaml:"time_budget"`
	MaxTokens   int      `yaml:"max_tokens"`
	TokenBudget int      `yaml:"token_budget"`
	System      string   `yaml:"system,omitempty"`
}

// SandboxConfig tunes snippet execution.
type SandboxConfig struct {
	Backend       string   `yaml:"backend"` // "interp" or "process"
	Timeout       Duration `yaml:"timeout"`
	MemoryMB      int      `yaml:"memory_mb"`
	OutputLimit   int      `yaml:"output_limit"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	QueueWait     Duration `yaml:"queue_wait"`
}

// MemoryConfig bounds conversational memory.
type MemoryConfig struct {
	Cap int `yaml:"cap"`
}

// SessionConfig tunes session lifecycle.
type SessionConfig struct {
	IdleTimeout   Duration `yaml:"idle_timeout"`
	PartitionMode string   `yaml:"partition_mode"` // "shared" or "per_session"
	SweepSchedule string   `yaml:"sweep_schedule"`
}

// SemanticConfig locates the document index.
type SemanticConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Config is the complete tutor configuration.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Model      string             `yaml:"model"`
	Agent      AgentConfig        `yaml:"agent"`
	Sandbox    SandboxConfig      `yaml:"sandbox"`
	Memory     MemoryConfig       `yaml:"memory"`
	Session    SessionConfig      `yaml:"session"`
	Semantic   SemanticConfig     `yaml:"semantic"`
	Embedding  embedding.Config   `yaml:"embedding"`
	MCPServers []mcp.ServerConfig `yaml:"mcp_servers,omitempty"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Agent: AgentConfig{
			MaxSteps:   5,
			TimeBudget: Duration(60 * time.Second),
			MaxTokens:  2048,
		},
		Sandbox: SandboxConfig{
			Backend:       "interp",
			Timeout:       Duration(5 * time.Second),
			MemoryMB:      256,
			OutputLimit:   16 * 1024,
			MaxConcurrent: 4,
			QueueWait:     Duration(10 * time.Second),
		},
		Memory: MemoryConfig{Cap: 50},
		Session: SessionConfig{
			IdleTimeout:   Duration(30 * time.Minute),
			PartitionMode: "shared",
			SweepSchedule: "@every 1m",
		},
		Semantic:  SemanticConfig{Path: "tutor.db"},
		Embedding: embedding.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path, layering it over the defaults and
// then applying environment overrides. A missing file is not an error;
// the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TUTOR_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TUTOR_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("TUTOR_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("TUTOR_SEMANTIC_PATH"); v != "" {
		c.Semantic.Path = v
	}
	if v := os.Getenv("TUTOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TUTOR_RATE_LIMIT"); v != "" {
		c.Server.RateLimit = v
	}
}

func (c *Config) validate() error {
	switch c.Sandbox.Backend {
	case "interp", "process":
	default:
		return fmt.Errorf("sandbox.backend %q: want interp or process", c.Sandbox.Backend)
	}
	switch c.Session.PartitionMode {
	case "shared", "per_session":
	default:
		return fmt.Errorf("session.partition_mode %q: want shared or per_session", c.Session.PartitionMode)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q: want debug, info, warn, or error", c.Logging.Level)
	}
	if c.Memory.Cap <= 0 {
		return fmt.Errorf("memory.cap must be positive, got %d", c.Memory.Cap)
	}
	return nil
}
