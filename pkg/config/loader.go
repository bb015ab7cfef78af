package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warpdrive/accesslog/pkg/namespace"
)

// DefaultSizeFallback replaces a missing size column.
const DefaultSizeFallback = 2.9

// Load reads and parses an accesslog configuration file.
// Supports environment variable expansion in string values via ${VAR} syntax.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses configuration bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.parseSizes(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Source.Name == "" {
		c.Source.Name = "crab"
	}
	if c.Source.Type == "" {
		c.Source.Type = "local"
	}
	if c.Source.Suffix == "" {
		c.Source.Suffix = ".csv"
	}
	if c.PercentSource.Type != "" && c.PercentSource.Name == "" {
		c.PercentSource.Name = "percentages"
	}
	if c.Store.Type == "" {
		c.Store.Type = "badger"
	}
	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/accesslog"
	}
	if c.Store.Keys.Table == "" {
		c.Store.Keys.Table = "jobs/table"
	}
	if c.Store.Keys.Ledger == "" {
		c.Store.Keys.Ledger = "jobs/ledger"
	}
	if c.Store.Keys.Snapshot == "" {
		c.Store.Keys.Snapshot = "snapshot/percentages"
	}
	if c.Normalize.SiteFilter == "" {
		c.Normalize.SiteFilter = "all"
	}
	if c.Normalize.RewriteRules == nil {
		c.Normalize.RewriteRules = append([]namespace.Rule(nil), namespace.DefaultRules...)
	}
	if c.Ingest.DuplicatePolicy == "" {
		c.Ingest.DuplicatePolicy = "collapse"
	}
	if c.Report.Sink == "" {
		c.Report.Sink = "nop"
	}
}

// parseSizes converts human-readable size strings to int64 bytes.
func (c *Config) parseSizes() error {
	v, err := ParseSize(c.Store.ValueLogFileSizeRaw)
	if err != nil {
		return fmt.Errorf("config: invalid store.value_log_file_size %q: %w", c.Store.ValueLogFileSizeRaw, err)
	}
	c.Store.ValueLogFileSize = v
	return nil
}

// ParseSize converts a human-readable size like "2TB", "500GB", "4MB" to bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0, nil
	}

	multipliers := []struct {
		suffix string
		mult   int64
	}{
		{"PB", 1024 * 1024 * 1024 * 1024 * 1024},
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			numStr := strings.TrimSuffix(s, m.suffix)
			num, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("config.ParseSize: invalid size %q: %w", s, err)
			}
			return int64(num * float64(m.mult)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config.ParseSize: invalid size %q: %w", s, err)
	}
	return n, nil
}
