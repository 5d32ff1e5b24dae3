package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// duration parses YAML strings like "30s" or "2m" into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// serveConfig mirrors the serve flags. A tandem.yaml at the archive root
// provides defaults; explicitly set flags win over it.
type serveConfig struct {
	Listen      string   `yaml:"listen"`
	Format      string   `yaml:"format"`
	Redis       string   `yaml:"redis"`
	RedisPrefix string   `yaml:"redis_prefix"`
	PresenceTTL duration `yaml:"presence_ttl"`
	ReadOnly    bool     `yaml:"read_only"`
}

// loadServeConfig reads tandem.yaml from the archive root. A missing file is
// not an error; it yields a zero config.
func loadServeConfig(root string) (serveConfig, error) {
	var cfg serveConfig
	data, err := os.ReadFile(filepath.Join(root, "tandem.yaml"))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read tandem.yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse tandem.yaml: %w", err)
	}
	return cfg, nil
}
