package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all steward configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EmbeddingsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
}

type HeartbeatConfig struct {
	Interval   Duration `yaml:"interval"`    // between scheduled cycles
	TaskBudget int      `yaml:"task_budget"` // max tasks created per user per cycle
	BatchSize  int      `yaml:"batch_size"`  // users scanned concurrently
}

// Duration wraps time.Duration so YAML values like "6h" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38800,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embeddings: EmbeddingsConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
		},
		Heartbeat: HeartbeatConfig{
			Interval:   Duration(6 * time.Hour),
			TaskBudget: 15,
			BatchSize:  5,
		},
		Logging: LoggingConfig{},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Heartbeat.TaskBudget <= 0 {
		cfg.Heartbeat.TaskBudget = 15
	}
	if cfg.Heartbeat.BatchSize <= 0 {
		cfg.Heartbeat.BatchSize = 5
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
