// Package normalize parses job-access CSV exports into canonical records.
package normalize

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/warpdrive/accesslog/pkg/namespace"
	"github.com/warpdrive/accesslog/pkg/record"
)

// ErrSchemaMismatch is returned when a source does not follow the canonical
// column layout.
var ErrSchemaMismatch = record.ErrSchemaMismatch

// DefaultSizeFallback replaces a missing size column.
const DefaultSizeFallback = 2.9

// SiteFilter selects rows by comparing execution and open sites.
type SiteFilter string

const (
	SiteFilterAll    SiteFilter = "all"    // keep every row
	SiteFilterRemote SiteFilter = "remote" // exec_site != open_site
	SiteFilterLocal  SiteFilter = "local"  // exec_site == open_site
)

// Keep reports whether e passes the filter.
func (f SiteFilter) Keep(e record.Event) bool {
	switch f {
	case SiteFilterRemote:
		return e.ExecSite != e.OpenSite
	case SiteFilterLocal:
		return e.ExecSite == e.OpenSite
	default:
		return true
	}
}

// Valid reports whether f is a known filter. The empty filter means all.
func (f SiteFilter) Valid() bool {
	switch f {
	case "", SiteFilterAll, SiteFilterRemote, SiteFilterLocal:
		return true
	}
	return false
}

// Config controls normalization policy.
type Config struct {
	SizeFallback *float64         `yaml:"size_fallback"` // nil = DefaultSizeFallback; 0 is a valid fallback
	SiteFilter   SiteFilter       `yaml:"site_filter"`
	Rules        []namespace.Rule `yaml:"rewrite_rules"`
}

// Opener opens a source batch by identifier.
type Opener interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// Stats summarizes one Read call.
type Stats struct {
	Sources  int
	Rows     int
	Filtered int
}

// Normalizer turns raw CSV batches into sorted canonical records.
type Normalizer struct {
	sizeFallback float64
	filter       SiteFilter
	rewriter     *namespace.Rewriter
}

// New creates a Normalizer. A nil SizeFallback selects DefaultSizeFallback;
// nil Rules selects namespace.DefaultRules.
func New(cfg Config) (*Normalizer, error) {
	if !cfg.SiteFilter.Valid() {
		return nil, fmt.Errorf("normalize.New: unknown site filter %q", cfg.SiteFilter)
	}
	fallback := DefaultSizeFallback
	if cfg.SizeFallback != nil {
		fallback = *cfg.SizeFallback
	}
	if math.IsNaN(fallback) || math.IsInf(fallback, 0) {
		return nil, fmt.Errorf("normalize.New: size fallback must be finite")
	}
	rules := cfg.Rules
	if rules == nil {
		rules = namespace.DefaultRules
	}
	rw, err := namespace.NewRewriter(rules)
	if err != nil {
		return nil, fmt.Errorf("normalize.New: %w", err)
	}
	return &Normalizer{sizeFallback: fallback, filter: cfg.SiteFilter, rewriter: rw}, nil
}

// Read parses every source in ids, in order, into one sequence sorted by
// timestamp. Rows with equal timestamps keep their ingestion order. Any
// malformed source aborts the whole read.
func (n *Normalizer) Read(ctx context.Context, o Opener, ids []string) ([]record.Event, Stats, error) {
	var (
		out   []record.Event
		stats Stats
		seq   int
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		rc, err := o.Open(ctx, id)
		if err != nil {
			return nil, stats, fmt.Errorf("normalize.Read: open %q: %w", id, err)
		}
		rows, err := n.parse(id, rc, &seq)
		if cerr := rc.Close(); cerr != nil {
			slog.Warn("close source failed", "component", "normalize", "source", id, "error", cerr)
		}
		if err != nil {
			return nil, stats, err
		}
		stats.Sources++
		stats.Rows += len(rows)
		for _, e := range rows {
			if !n.filter.Keep(e) {
				stats.Filtered++
				continue
			}
			out = append(out, e)
		}
		slog.Debug("source parsed", "component", "normalize", "source", id, "rows", len(rows))
	}
	sort.SliceStable(out, func(i, j int) bool { return record.Less(out[i], out[j]) })
	return out, stats, nil
}

// Parse normalizes a single batch. seq numbering starts at zero.
func (n *Normalizer) Parse(id string, r io.Reader) ([]record.Event, error) {
	seq := 0
	return n.parse(id, r, &seq)
}

func (n *Normalizer) parse(id string, r io.Reader, seq *int) ([]record.Event, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1 // column count is checked per line
	cr.ReuseRecord = true

	var rows []record.Event
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("normalize: %s: %w: %v", id, ErrSchemaMismatch, err)
		}
		line, _ := cr.FieldPos(0)
		e, err := n.parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("normalize: %s line %d: %w", id, line, err)
		}
		e.Seq = *seq
		*seq++
		rows = append(rows, e)
	}
	return rows, nil
}

func (n *Normalizer) parseRow(f []string) (record.Event, error) {
	if len(f) != len(record.Columns) && len(f) != len(record.Columns)+1 {
		return record.Event{}, fmt.Errorf("%w: expected %d or %d fields, got %d",
			ErrSchemaMismatch, len(record.Columns), len(record.Columns)+1, len(f))
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}

	ts, err := parseTimestamp(f[0])
	if err != nil {
		return record.Event{}, err
	}
	size, err := parseFloat("size", f[3], n.sizeFallback)
	if err != nil {
		return record.Event{}, err
	}
	eff, err := parseFloat("cpu_eff", f[6], 0)
	if err != nil {
		return record.Event{}, err
	}
	cpu, err := parseFloat("cpu_time", f[7], 0)
	if err != nil {
		return record.Event{}, err
	}
	wall, err := parseFloat("wall_time", f[8], 0)
	if err != nil {
		return record.Event{}, err
	}

	e := record.Event{
		Timestamp:     ts,
		JobID:         f[1],
		FilePath:      f[2],
		SizeBytes:     size,
		ExecSite:      f[4],
		OpenSite:      f[5],
		CPUEfficiency: eff,
		CPUTime:       cpu,
		WallTime:      wall,
		Origin:        record.OriginNew,
	}
	if len(f) > len(record.Columns) {
		e.Category = f[len(record.Columns)]
	}
	e.Day = record.DayOf(ts)
	e.NamespaceRoot = n.rewriter.Rewrite(namespace.Root(e.FilePath), e.Category)
	return e, nil
}

// parseTimestamp accepts integer seconds and the "1700000000.0" form some
// exporters write.
func parseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty timestamp", ErrSchemaMismatch)
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: invalid timestamp %q", ErrSchemaMismatch, s)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if v < math.MinInt64 || v >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: timestamp %q out of range", ErrSchemaMismatch, s)
	}
	return int64(v), nil
}

// parseFloat returns fallback for empty and NaN values.
func parseFloat(name, s string, fallback float64) (float64, error) {
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrSchemaMismatch, name, s)
	}
	if math.IsNaN(v) {
		return fallback, nil
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: infinite %s", ErrSchemaMismatch, name)
	}
	return v, nil
}
