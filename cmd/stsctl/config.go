package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bus profile loaded from a YAML file. Every field is optional;
// zero values fall back to the defaults below, and the --port flag overrides
// the file.
type Config struct {
	Port            string `yaml:"port"`
	BaudRate        int    `yaml:"baud_rate"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	MinCommandGapMs int    `yaml:"min_command_gap_ms"`
	Scan            Scan   `yaml:"scan"`
}

// Scan bounds the ID sweep of the scan subcommand.
type Scan struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

func defaultConfig() Config {
	return Config{
		Port:            "/dev/ttyUSB0",
		BaudRate:        1000000,
		TimeoutMs:       100,
		MinCommandGapMs: 1,
		Scan:            Scan{From: 0, To: 253},
	}
}

// LoadConfig reads path and merges it over the defaults. An empty path yields
// the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port must not be empty")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("config: baud_rate must be positive, got %d", c.BaudRate)
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("config: timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	if c.MinCommandGapMs < 0 {
		return fmt.Errorf("config: min_command_gap_ms must not be negative, got %d", c.MinCommandGapMs)
	}
	if c.Scan.From < 0 || c.Scan.To > 253 || c.Scan.From > c.Scan.To {
		return fmt.Errorf("config: scan range %d to %d is invalid", c.Scan.From, c.Scan.To)
	}
	return nil
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c Config) minCommandGap() time.Duration {
	return time.Duration(c.MinCommandGapMs) * time.Millisecond
}
