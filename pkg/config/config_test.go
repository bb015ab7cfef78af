package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/warpdrive/accesslog/pkg/namespace"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
log_level: debug
source:
  name: crab
  type: local
  root: /data/cms/scratch2/xcache_studies/crab/out_processed
  suffix: .csv
percent_source:
  type: local
  root: /data/cms/scratch2/xcache_studies
  path: percentages.log
store:
  type: dir
  path: /var/lib/accesslog
  keys:
    table: crab/df
normalize:
  size_fallback: 3.5
  site_filter: remote
  rewrite_rules:
    - root: /store/mc
      category: GEN
      replacement: /store/mc/GEN
ingest:
  duplicate_policy: fail
metrics:
  textfile_path: /var/lib/node_exporter/accesslog.prom
report:
  sink: file
  file_path: /var/log/accesslog/runs.jsonl
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel = %v, want DEBUG", cfg.SlogLevel())
	}
	if cfg.Source.Root != "/data/cms/scratch2/xcache_studies/crab/out_processed" {
		t.Errorf("Source.Root = %q", cfg.Source.Root)
	}
	if cfg.PercentSource.Name != "percentages" {
		t.Errorf("PercentSource.Name default = %q, want percentages", cfg.PercentSource.Name)
	}
	if cfg.Store.Type != "dir" {
		t.Errorf("Store.Type = %q, want dir", cfg.Store.Type)
	}
	if cfg.Store.Keys.Table != "crab/df" {
		t.Errorf("Keys.Table = %q, want crab/df", cfg.Store.Keys.Table)
	}
	if cfg.Store.Keys.Ledger != "jobs/ledger" {
		t.Errorf("Keys.Ledger default = %q, want jobs/ledger", cfg.Store.Keys.Ledger)
	}
	if cfg.Normalize.Fallback() != 3.5 {
		t.Errorf("SizeFallback = %f, want 3.5", cfg.Normalize.Fallback())
	}
	if len(cfg.Normalize.RewriteRules) != 1 || cfg.Normalize.RewriteRules[0].Category != "GEN" {
		t.Errorf("RewriteRules = %+v", cfg.Normalize.RewriteRules)
	}
	if cfg.Ingest.DuplicatePolicy != "fail" {
		t.Errorf("DuplicatePolicy = %q, want fail", cfg.Ingest.DuplicatePolicy)
	}
	if cfg.Report.Sink != "file" {
		t.Errorf("Report.Sink = %q, want file", cfg.Report.Sink)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "source:\n  root: /tmp/csvs\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source.Name != "crab" || cfg.Source.Type != "local" || cfg.Source.Suffix != ".csv" {
		t.Errorf("Source defaults = %+v", cfg.Source)
	}
	if cfg.Store.Type != "badger" {
		t.Errorf("Default Store.Type = %q, want badger", cfg.Store.Type)
	}
	if !cfg.Store.Sync() {
		t.Error("sync_writes should default to true")
	}
	if cfg.Store.Keys != (KeysConfig{Table: "jobs/table", Ledger: "jobs/ledger", Snapshot: "snapshot/percentages"}) {
		t.Errorf("Default keys = %+v", cfg.Store.Keys)
	}
	if cfg.Normalize.SizeFallback != nil || cfg.Normalize.Fallback() != 2.9 {
		t.Errorf("Default SizeFallback = %f, want 2.9", cfg.Normalize.Fallback())
	}
	if cfg.Normalize.SiteFilter != "all" {
		t.Errorf("Default SiteFilter = %q, want all", cfg.Normalize.SiteFilter)
	}
	if len(cfg.Normalize.RewriteRules) != 1 || cfg.Normalize.RewriteRules[0].Replacement != "/store/data/.../RAW" {
		t.Errorf("Default RewriteRules = %+v", cfg.Normalize.RewriteRules)
	}
	if cfg.Ingest.DuplicatePolicy != "collapse" {
		t.Errorf("Default DuplicatePolicy = %q, want collapse", cfg.Ingest.DuplicatePolicy)
	}
	if cfg.Report.Sink != "nop" {
		t.Errorf("Default Report.Sink = %q, want nop", cfg.Report.Sink)
	}
	if cfg.PercentSource.Type != "" {
		t.Errorf("percent_source should stay unset, got %q", cfg.PercentSource.Type)
	}
}

func TestLoad_ZeroSizeFallback(t *testing.T) {
	cfg, err := Load(writeConfig(t, "normalize:\n  size_fallback: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Normalize.SizeFallback == nil || cfg.Normalize.Fallback() != 0 {
		t.Errorf("explicit size_fallback: 0 should be kept, got %v", cfg.Normalize.SizeFallback)
	}
}

func TestLoad_EmptyRulesDisableRewrite(t *testing.T) {
	cfg, err := Load(writeConfig(t, "normalize:\n  rewrite_rules: []\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Normalize.RewriteRules == nil || len(cfg.Normalize.RewriteRules) != 0 {
		t.Errorf("explicit empty rules should be kept, got %+v", cfg.Normalize.RewriteRules)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("ACCESSLOG_TEST_ROOT", "/scratch/crab")
	cfg, err := Load(writeConfig(t, "source:\n  root: ${ACCESSLOG_TEST_ROOT}/out\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.Root != "/scratch/crab/out" {
		t.Errorf("Source.Root = %q, want /scratch/crab/out", cfg.Source.Root)
	}
}

func TestLoad_ValueLogSize(t *testing.T) {
	cfg, err := Load(writeConfig(t, "store:\n  value_log_file_size: 256MB\n  sync_writes: false\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.ValueLogFileSize != 256*1024*1024 {
		t.Errorf("ValueLogFileSize = %d, want 256MB", cfg.Store.ValueLogFileSize)
	}
	if cfg.Store.Sync() {
		t.Error("sync_writes: false should disable sync")
	}
}

func TestLoad_InvalidValueLogSize(t *testing.T) {
	_, err := Load(writeConfig(t, "store:\n  value_log_file_size: lots\n"))
	if err == nil {
		t.Fatal("expected error for invalid value_log_file_size")
	}
	if !strings.Contains(err.Error(), "value_log_file_size") {
		t.Errorf("error should mention value_log_file_size: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "source: [unterminated\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

// ---- Validate tests ----

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Parse([]byte("source:\n  root: /tmp\n"))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"source type", func(c *Config) { c.Source.Type = "" }, "source.type"},
		{"source name", func(c *Config) { c.Source.Name = "" }, "source.name"},
		{"percent path", func(c *Config) {
			c.PercentSource.Type, c.PercentSource.Name = "local", "p"
		}, "percent_source.path"},
		{"store type", func(c *Config) { c.Store.Type = "sqlite" }, "store.type"},
		{"store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"duplicate keys", func(c *Config) { c.Store.Keys.Ledger = c.Store.Keys.Table }, "distinct"},
		{"site filter", func(c *Config) { c.Normalize.SiteFilter = "sideways" }, "site_filter"},
		{"incomplete rule", func(c *Config) {
			c.Normalize.RewriteRules = []namespace.Rule{{Root: "/store/data"}}
		}, "rewrite_rules[0]"},
		{"duplicate policy", func(c *Config) { c.Ingest.DuplicatePolicy = "ignore" }, "duplicate_policy"},
		{"report sink", func(c *Config) { c.Report.Sink = "kafka" }, "report.sink"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

// ---- ParseSize tests ----

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"0", 0},
		{"", 0},
		{"1024", 1024},
		{"4MB", 4 * 1024 * 1024},
		{"2TB", 2 * 1024 * 1024 * 1024 * 1024},
		{"500GB", 500 * 1024 * 1024 * 1024},
		{"1KB", 1024},
		{"1.5kb", 1536},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if err != nil {
			t.Errorf("ParseSize(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParseSize_Invalid(t *testing.T) {
	_, err := ParseSize("invalid")
	if err == nil {
		t.Error("ParseSize(\"invalid\") should return error")
	}
}
