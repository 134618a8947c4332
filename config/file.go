package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile overlays the YAML document at path onto cfg.
// Keys absent from the file keep their current values.
func LoadFromFile(cfg *AppConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return nil
}

// Load builds the configuration from the environment and, when path is set, a YAML file
func Load(path string) (*AppConfig, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	if err := LoadFromFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
