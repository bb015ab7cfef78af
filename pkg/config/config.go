package config

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/warpdrive/accesslog/pkg/namespace"
)

// Config is the top-level accesslog configuration.
type Config struct {
	LogLevel      string              `yaml:"log_level"`
	Source        SourceConfig        `yaml:"source"`
	PercentSource PercentSourceConfig `yaml:"percent_source"`
	Store         StoreConfig         `yaml:"store"`
	Normalize     NormalizeConfig     `yaml:"normalize"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Report        ReportConfig        `yaml:"report"`
}

// BackendConfig describes a single rclone storage backend.
type BackendConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"` // rclone backend: local, s3, azureblob, googlecloudstorage, sftp
	Root   string            `yaml:"root"` // bucket/container + optional prefix, or a local directory
	Config map[string]string `yaml:"config"`
}

// SourceConfig locates the job-access CSV drops.
type SourceConfig struct {
	BackendConfig `yaml:",inline"`
	Prefix        string `yaml:"prefix"` // directory inside the backend; "" = root
	Suffix        string `yaml:"suffix"` // default ".csv"
}

// PercentSourceConfig locates the percentage-downloaded log.
type PercentSourceConfig struct {
	BackendConfig `yaml:",inline"`
	Path          string `yaml:"path"`
}

// StoreConfig configures the blob store holding the baseline.
type StoreConfig struct {
	Type                string     `yaml:"type"` // "badger" or "dir"
	Path                string     `yaml:"path"`
	SyncWrites          *bool      `yaml:"sync_writes"` // pointer to distinguish unset from false; default true
	ValueLogFileSizeRaw string     `yaml:"value_log_file_size"`
	ValueLogFileSize    int64      `yaml:"-"`
	Keys                KeysConfig `yaml:"keys"`
}

// Sync returns whether badger should fsync every write.
func (s StoreConfig) Sync() bool {
	if s.SyncWrites == nil {
		return true
	}
	return *s.SyncWrites
}

// KeysConfig names the three persisted blobs.
type KeysConfig struct {
	Table    string `yaml:"table"`
	Ledger   string `yaml:"ledger"`
	Snapshot string `yaml:"snapshot"`
}

// NormalizeConfig controls row normalization.
type NormalizeConfig struct {
	SizeFallback *float64         `yaml:"size_fallback"` // pointer to distinguish unset from 0; default 2.9
	SiteFilter   string           `yaml:"site_filter"`   // all, remote, local
	RewriteRules []namespace.Rule `yaml:"rewrite_rules"`
}

// Fallback returns the size used for rows with no size column.
func (n NormalizeConfig) Fallback() float64 {
	if n.SizeFallback == nil {
		return DefaultSizeFallback
	}
	return *n.SizeFallback
}

// IngestConfig controls the merge engine.
type IngestConfig struct {
	DuplicatePolicy string `yaml:"duplicate_policy"` // collapse, fail, keep
}

// MetricsConfig configures Prometheus metric export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"` // node_exporter textfile; "" disables
}

// ReportConfig configures where run reports go.
type ReportConfig struct {
	Sink     string `yaml:"sink"` // "stdout", "file", "nop"
	FilePath string `yaml:"file_path"`
}

// SlogLevel parses the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if err := validateBackend("source", c.Source.BackendConfig); err != nil {
		return err
	}
	if c.PercentSource.Type != "" {
		if err := validateBackend("percent_source", c.PercentSource.BackendConfig); err != nil {
			return err
		}
		if c.PercentSource.Path == "" {
			return fmt.Errorf("config: percent_source.path is required")
		}
	}

	switch c.Store.Type {
	case "badger", "dir":
	default:
		return fmt.Errorf("config: unknown store.type %q", c.Store.Type)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}
	if c.Store.ValueLogFileSize < 0 {
		return fmt.Errorf("config: store.value_log_file_size must be positive, got %d", c.Store.ValueLogFileSize)
	}
	k := c.Store.Keys
	if k.Table == k.Ledger || k.Table == k.Snapshot || k.Ledger == k.Snapshot {
		return fmt.Errorf("config: store.keys must be distinct (table=%q ledger=%q snapshot=%q)",
			k.Table, k.Ledger, k.Snapshot)
	}

	if fb := c.Normalize.Fallback(); math.IsNaN(fb) || math.IsInf(fb, 0) {
		return fmt.Errorf("config: normalize.size_fallback must be finite")
	}
	switch c.Normalize.SiteFilter {
	case "all", "remote", "local":
	default:
		return fmt.Errorf("config: unknown normalize.site_filter %q", c.Normalize.SiteFilter)
	}
	for i, r := range c.Normalize.RewriteRules {
		if r.Root == "" || r.Category == "" || r.Replacement == "" {
			return fmt.Errorf("config: normalize.rewrite_rules[%d]: root, category and replacement are required", i)
		}
	}

	switch c.Ingest.DuplicatePolicy {
	case "collapse", "fail", "keep":
	default:
		return fmt.Errorf("config: unknown ingest.duplicate_policy %q", c.Ingest.DuplicatePolicy)
	}
	switch c.Report.Sink {
	case "stdout", "file", "nop":
	default:
		return fmt.Errorf("config: unknown report.sink %q", c.Report.Sink)
	}
	return nil
}

func validateBackend(section string, b BackendConfig) error {
	if b.Type == "" {
		return fmt.Errorf("config: %s.type is required", section)
	}
	if b.Name == "" {
		return fmt.Errorf("config: %s.name cannot be empty", section)
	}
	return nil
}
