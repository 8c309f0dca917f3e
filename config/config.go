// Package config resolves server configuration from an optional YAML
// file, environment variables, and command-line flags. Precedence is
// flags over environment over YAML over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the resolved server configuration.
type Config struct {
	Port           int
	DBPath         string
	BedCount       int
	AllowedOrigins []string
	LogLevel       string
}

type configYAML struct {
	Port           int      `yaml:"port,omitempty"`
	DBPath         string   `yaml:"db_path,omitempty"`
	BedCount       int      `yaml:"bed_count,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	LogLevel       string   `yaml:"log_level,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           8080,
		DBPath:         "reception.db",
		BedCount:       2,
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		LogLevel:       "info",
	}
}

// Load resolves configuration starting from defaults, then the YAML
// file at path (if non-empty), then environment variables. Flags are
// applied by the caller on top of the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var y configYAML
		if err := yaml.Unmarshal(raw, &y); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.apply(y)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(y configYAML) {
	if y.Port != 0 {
		c.Port = y.Port
	}
	if y.DBPath != "" {
		c.DBPath = y.DBPath
	}
	if y.BedCount != 0 {
		c.BedCount = y.BedCount
	}
	if len(y.AllowedOrigins) != 0 {
		c.AllowedOrigins = y.AllowedOrigins
	}
	if y.LogLevel != "" {
		c.LogLevel = y.LogLevel
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT=%s: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("BED_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BED_COUNT=%s: %w", v, err)
		}
		c.BedCount = n
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
