// Package snapshot computes and caches the per-category distributions of
// "percentage downloaded" ratios from the XCache access log.
package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/warpdrive/accesslog/pkg/namespace"
	"github.com/warpdrive/accesslog/pkg/record"
)

// ErrSchemaMismatch is returned for malformed log lines.
var ErrSchemaMismatch = record.ErrSchemaMismatch

// logFields is the column count of a percentage log line:
//
//	weekday month day time year fname size n_accesses percent%
const logFields = 9

const (
	fieldPath     = 5
	fieldAccesses = 7
	fieldPercent  = 8
)

// dataTypeSegment is the path segment that carries the data tier of a
// /store/data file, e.g. "RAW" in /store/data/Run2024A/Muon/RAW/v1/f.root.
const dataTypeSegment = 5

// Percentages holds ratios in [0,1] for each namespace category, in log
// order.
type Percentages struct {
	Data []float64 `json:"data"`
	MC   []float64 `json:"mc"`
	User []float64 `json:"user"`
}

// Len returns the total number of ratios.
func (p Percentages) Len() int { return len(p.Data) + len(p.MC) + len(p.User) }

// Parse reads a percentage log and sorts its ratios into categories. Any
// malformed line aborts the parse.
//
//   - data: root /store/data and data tier RAW
//   - mc:   root /store/mc and exactly one access
//   - user: root /store/user and exactly one access
func Parse(r io.Reader) (Percentages, int, error) {
	var (
		p    Percentages
		line int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		f := strings.Fields(text)
		if len(f) != logFields {
			return Percentages{}, line, fmt.Errorf("snapshot: line %d: %w: expected %d fields, got %d",
				line, ErrSchemaMismatch, logFields, len(f))
		}
		pct, err := parsePercent(f[fieldPercent])
		if err != nil {
			return Percentages{}, line, fmt.Errorf("snapshot: line %d: %w", line, err)
		}
		accesses, err := strconv.ParseFloat(f[fieldAccesses], 64)
		if err != nil {
			return Percentages{}, line, fmt.Errorf("snapshot: line %d: %w: invalid n_accesses %q",
				line, ErrSchemaMismatch, f[fieldAccesses])
		}

		path := f[fieldPath]
		switch namespace.Root(path) {
		case namespace.RootData:
			if dataType(path) == "RAW" {
				p.Data = append(p.Data, pct)
			}
		case namespace.RootMC:
			if accesses == 1 {
				p.MC = append(p.MC, pct)
			}
		case namespace.RootUser:
			if accesses == 1 {
				p.User = append(p.User, pct)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Percentages{}, line, fmt.Errorf("snapshot: read: %w", err)
	}
	return p, line, nil
}

// parsePercent turns "87.5%" into 0.875. Values are not clamped to [0,1].
func parsePercent(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: invalid percentage %q", ErrSchemaMismatch, s)
	}
	return v / 100, nil
}

// dataType returns segment 5 of path, or the last segment of a shorter path.
func dataType(path string) string {
	if s := namespace.Segment(path, dataTypeSegment); s != "" {
		return s
	}
	parts := strings.Split(path, "/")
	if len(parts) > dataTypeSegment {
		return ""
	}
	return parts[len(parts)-1]
}
