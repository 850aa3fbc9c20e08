// Package config loads the optional winkd YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tap configures the diagnostic packet tap.
type Tap struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Config is the file shape. Zero values mean defaults.
type Config struct {
	Device string `yaml:"device"`
	Debug  bool   `yaml:"debug"`
	Tap    Tap    `yaml:"tap"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: "pipe:windbg",
		Tap: Tap{
			Dir: os.TempDir(),
		},
	}
}

// Load reads path over the defaults. A missing file is not an error
// when path is empty (no --config given).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
