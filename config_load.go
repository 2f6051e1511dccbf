package llmgateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p.Name {
		case "openai", "anthropic":
		case "":
			return fmt.Errorf("provider name is required")
		default:
			return fmt.Errorf("unknown provider: %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = true
	}

	for i := range cfg.Guards {
		if err := cfg.Guards[i].Validate(); err != nil {
			return err
		}
	}

	switch cfg.RequestLog.Driver {
	case "", RequestLogNone, RequestLogSQLite:
	case RequestLogPostgres:
		if cfg.RequestLog.DSN == "" {
			return fmt.Errorf("postgres request log requires a dsn")
		}
	default:
		return fmt.Errorf("unknown request log driver: %q", cfg.RequestLog.Driver)
	}

	return nil
}
