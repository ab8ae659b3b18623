// Package aliasing provides table pattern aliasing for lineage stitching.
//
// Query logs frequently reference the same physical table under different
// names (temp schemas, environment prefixes, tool-specific qualifiers),
// fragmenting the lineage graph. This package provides configuration loading
// and pattern-based resolution to map those variant FQNs to a canonical one
// before edges are upserted.
//
// Example configuration (.aegis.yaml):
//
//	table_patterns:
//	  - pattern: "analytics_tmp.{name}"
//	    canonical: "analytics.{name}"
//
// This transforms "analytics_tmp.orders" → "analytics.orders"
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aegisdq/aegis/internal/config"
)

type (
	// TablePattern defines a pattern-based transformation rule for table FQNs.
	//
	// Patterns are evaluated in order; first match wins.
	// Pattern syntax:
	//   - {variable} captures any characters except "/"
	//   - {variable*} captures any characters including "/" (for paths)
	//   - Literal characters match exactly
	//
	// Examples:
	//
	//	Pattern: "analytics_tmp.{name}"
	//	Canonical: "analytics.{name}"
	//	Input: "analytics_tmp.orders" → Output: "analytics.orders"
	TablePattern struct {
		Pattern   string `yaml:"pattern"`
		Canonical string `yaml:"canonical"`
	}

	// Config holds table pattern configuration loaded from .aegis.yaml.
	Config struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		TablePatterns []TablePattern `yaml:"table_patterns"`
	}
)

const (
	// DefaultConfigPath is the default location for the aegis configuration file.
	// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
	DefaultConfigPath = ".aegis.yaml"

	// ConfigPathEnvVar is the environment variable name for custom config path.
	ConfigPathEnvVar = "AEGIS_CONFIG_PATH"
)

// LoadConfig loads pattern configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - patterns are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the server can start even without patterns
// configured, as table pattern aliasing is an optional feature.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		TablePatterns: []TablePattern{},
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - patterns are optional
			slog.Debug("Config file not found, continuing without patterns",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read config file, continuing without patterns",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no patterns
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse config file, continuing without patterns",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{TablePatterns: []TablePattern{}}, nil
	}

	// Ensure slice is initialized even if YAML had nil/empty section
	if cfg.TablePatterns == nil {
		cfg.TablePatterns = []TablePattern{}
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in AEGIS_CONFIG_PATH
// environment variable. Falls back to ".aegis.yaml" in current directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
