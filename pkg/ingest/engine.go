// Package ingest incrementally folds new job-access exports into the
// persisted baseline table.
//
// A run walks INIT → CHECK_LEDGER → NO_NEW_DATA | HAS_NEW_DATA and, when
// there is new data, NORMALIZE → DEDUP → LOAD_BASELINE → MERGE → VERIFY →
// PERSIST → DONE. PERSIST is always the last step: a failure anywhere
// earlier leaves the previous baseline untouched.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warpdrive/accesslog/pkg/blobstore"
	"github.com/warpdrive/accesslog/pkg/codec"
	"github.com/warpdrive/accesslog/pkg/dedup"
	"github.com/warpdrive/accesslog/pkg/metrics"
	"github.com/warpdrive/accesslog/pkg/normalize"
	"github.com/warpdrive/accesslog/pkg/record"
	"github.com/warpdrive/accesslog/pkg/report"
	"github.com/warpdrive/accesslog/pkg/source"
)

// DuplicatePolicy decides what happens when baseline and new rows share a
// natural key.
type DuplicatePolicy string

const (
	// DuplicateCollapse reports the violations and keeps the baseline row.
	DuplicateCollapse DuplicatePolicy = "collapse"
	// DuplicateFail reports the violations and aborts before persisting.
	DuplicateFail DuplicatePolicy = "fail"
	// DuplicateKeep reports the violations and persists every row.
	DuplicateKeep DuplicatePolicy = "keep"
)

// Keys names the blobs the engine owns.
type Keys struct {
	Table  string
	Ledger string
}

// Source lists and opens raw exports.
type Source interface {
	source.Enumerator
	source.Reader
}

// Options wires an Engine to its collaborators.
type Options struct {
	Store      blobstore.Store
	Source     Source // may be nil when every run is local
	Normalizer *normalize.Normalizer
	Keys       Keys
	Policy     DuplicatePolicy
	Reporter   report.Emitter // nil = no reports
}

// RunConfig holds the flags of one run. It is passed by value and never
// modified by the engine.
type RunConfig struct {
	// FirstRead skips the ledger and baseline: every available source is
	// new and the baseline is empty.
	FirstRead bool
	// LocalExecution skips the source listing and treats ingestion as up
	// to date.
	LocalExecution bool
}

// Result describes a completed run.
type Result struct {
	Table                []record.Event
	State                State
	NewSources           []string
	RowsRead             int
	RowsAdded            int
	IntraBatchDuplicates int
	Violations           int
	Persisted            bool
}

// Engine runs incremental merges against one baseline.
type Engine struct {
	store  blobstore.Store
	src    Source
	norm   *normalize.Normalizer
	keys   Keys
	policy DuplicatePolicy
	rep    report.Emitter
}

// tableBlob and ledgerBlob are the persisted layouts.
type tableBlob struct {
	Version int            `json:"v"`
	Rows    []record.Event `json:"rows"`
}

type ledgerBlob struct {
	Version int      `json:"v"`
	Sources []string `json:"sources"`
}

const blobVersion = 1

// New validates opts and creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ingest.New: store is required")
	}
	if opts.Normalizer == nil {
		return nil, fmt.Errorf("ingest.New: normalizer is required")
	}
	if opts.Keys.Table == "" || opts.Keys.Ledger == "" || opts.Keys.Table == opts.Keys.Ledger {
		return nil, fmt.Errorf("ingest.New: distinct table and ledger keys are required")
	}
	switch opts.Policy {
	case "":
		opts.Policy = DuplicateCollapse
	case DuplicateCollapse, DuplicateFail, DuplicateKeep:
	default:
		return nil, fmt.Errorf("ingest.New: unknown duplicate policy %q", opts.Policy)
	}
	rep := opts.Reporter
	if rep == nil {
		rep = report.NewNopEmitter()
	}
	return &Engine{
		store:  opts.Store,
		src:    opts.Source,
		norm:   opts.Normalizer,
		keys:   opts.Keys,
		policy: opts.Policy,
		rep:    rep,
	}, nil
}

// Run performs one merge. With no new sources it only reads the store.
func (e *Engine) Run(ctx context.Context, rc RunConfig) (res *Result, err error) {
	start := time.Now()
	res = &Result{State: StateInit}

	defer func() {
		e.finish(start, rc, res, err)
	}()

	if rc.FirstRead && rc.LocalExecution {
		return res, fmt.Errorf("ingest: %w: local execution needs an existing baseline", ErrInvalidRun)
	}
	if !rc.LocalExecution && e.src == nil {
		return res, fmt.Errorf("ingest: %w: no source configured", ErrInvalidRun)
	}

	if l, ok := e.store.(blobstore.Locker); ok {
		unlock, err := l.Lock(ctx)
		if err != nil {
			return res, fmt.Errorf("ingest: acquire lock: %w", err)
		}
		defer func() {
			if uerr := unlock(); uerr != nil {
				slog.Warn("release lock failed", "component", "ingest", "error", uerr)
			}
		}()
	}

	e.transition(res, StateCheckLedger)
	ledger := NewLedger(nil)
	if !rc.FirstRead {
		if ledger, err = e.loadLedger(ctx); err != nil {
			return res, err
		}
	}
	var available []string
	if rc.LocalExecution {
		available = ledger.IDs()
	} else {
		if available, err = e.src.List(ctx); err != nil {
			return res, fmt.Errorf("ingest: list sources: %w", err)
		}
	}
	res.NewSources = ledger.Missing(available)

	if len(res.NewSources) == 0 && !rc.FirstRead {
		e.transition(res, StateNoNewData)
		table, err := e.loadTable(ctx)
		if err != nil {
			return res, err
		}
		record.MarkOrigin(table, record.OriginOld)
		res.Table = table
		e.transition(res, StateDone)
		return res, nil
	}
	e.transition(res, StateHasNewData)

	e.transition(res, StateNormalize)
	rows, stats, err := e.norm.Read(ctx, e.src, res.NewSources)
	if err != nil {
		return res, fmt.Errorf("ingest: normalize: %w", err)
	}
	res.RowsRead = stats.Rows

	e.transition(res, StateDedup)
	rows, res.IntraBatchDuplicates = dedup.Collapse(rows)
	if res.IntraBatchDuplicates > 0 {
		metrics.Duplicates.WithLabelValues("batch").Add(float64(res.IntraBatchDuplicates))
		slog.Info("collapsed duplicate observations", "component", "ingest",
			"duplicates", res.IntraBatchDuplicates)
	}

	e.transition(res, StateLoadBaseline)
	var baseline []record.Event
	if !rc.FirstRead {
		if baseline, err = e.loadTable(ctx); err != nil {
			return res, err
		}
	}
	record.MarkOrigin(baseline, record.OriginOld)
	record.MarkOrigin(rows, record.OriginNew)

	e.transition(res, StateMerge)
	combined := merge(baseline, rows)

	e.transition(res, StateVerify)
	if res.Violations = dedup.Violations(combined); res.Violations > 0 {
		metrics.Duplicates.WithLabelValues("merge").Add(float64(res.Violations))
		slog.Warn("natural key repeated across baseline and new rows",
			"component", "ingest", "violations", res.Violations, "policy", string(e.policy))
		switch e.policy {
		case DuplicateFail:
			return res, fmt.Errorf("ingest: %w: %d rows", ErrDuplicateInvariant, res.Violations)
		case DuplicateCollapse:
			combined, _ = dedup.Collapse(combined)
		}
	}

	e.transition(res, StatePersist)
	if err := e.persist(ctx, combined, ledger.With(res.NewSources)); err != nil {
		return res, err
	}
	res.Persisted = true
	res.Table = combined
	res.RowsAdded = len(combined) - len(baseline)

	e.transition(res, StateDone)
	return res, nil
}

// merge concatenates baseline then new rows and stable-sorts by timestamp,
// so for a repeated natural key the baseline row comes first.
func merge(baseline, rows []record.Event) []record.Event {
	combined := make([]record.Event, 0, len(baseline)+len(rows))
	combined = append(combined, baseline...)
	combined = append(combined, rows...)
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Timestamp < combined[j].Timestamp
	})
	return combined
}

func (e *Engine) transition(res *Result, s State) {
	slog.Debug("merge state", "component", "ingest", "from", res.State.String(), "to", s.String())
	res.State = s
}

func (e *Engine) finish(start time.Time, rc RunConfig, res *Result, err error) {
	elapsed := time.Since(start)
	rep := report.RunReport{
		Timestamp:  start.UTC(),
		Kind:       "merge",
		State:      res.State.String(),
		FirstRead:  rc.FirstRead,
		Local:      rc.LocalExecution,
		NewSources: res.NewSources,
		RowsRead:   res.RowsRead,
		RowsAdded:  res.RowsAdded,
		TableRows:  len(res.Table),
		BatchDups:  res.IntraBatchDuplicates,
		Violations: res.Violations,
		Persisted:  res.Persisted,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
	}

	switch {
	case err != nil:
		rep.Error = err.Error()
		metrics.Runs.WithLabelValues("error").Inc()
		slog.Error("merge failed", "component", "ingest", "state", res.State.String(), "error", err)
	case res.Persisted:
		metrics.Runs.WithLabelValues("merged").Inc()
		metrics.SourcesIngested.Add(float64(len(res.NewSources)))
		metrics.RowsIngested.Add(float64(res.RowsAdded))
	default:
		metrics.Runs.WithLabelValues("cache_hit").Inc()
	}
	if err == nil {
		metrics.TableRows.Set(float64(len(res.Table)))
		metrics.LastSuccess.SetToCurrentTime()
		slog.Info("merge completed", "component", "ingest",
			"new_sources", len(res.NewSources), "rows_added", res.RowsAdded,
			"table_rows", len(res.Table), "persisted", res.Persisted, "duration", elapsed)
	}

	if eerr := e.rep.Emit(rep); eerr != nil {
		slog.Warn("run report failed", "component", "ingest", "error", eerr)
	}
}

// Baseline returns the persisted table without running a merge.
func (e *Engine) Baseline(ctx context.Context) ([]record.Event, error) {
	table, err := e.loadTable(ctx)
	if err != nil {
		return nil, err
	}
	record.MarkOrigin(table, record.OriginOld)
	return table, nil
}

// Ledger returns the persisted ingestion ledger.
func (e *Engine) Ledger(ctx context.Context) (Ledger, error) {
	return e.loadLedger(ctx)
}

func (e *Engine) loadTable(ctx context.Context) ([]record.Event, error) {
	var tb tableBlob
	if err := e.load(ctx, e.keys.Table, &tb); err != nil {
		return nil, err
	}
	return tb.Rows, nil
}

func (e *Engine) loadLedger(ctx context.Context) (Ledger, error) {
	var lb ledgerBlob
	if err := e.load(ctx, e.keys.Ledger, &lb); err != nil {
		return Ledger{}, err
	}
	return NewLedger(lb.Sources), nil
}

func (e *Engine) load(ctx context.Context, key string, v any) error {
	blob, err := e.store.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("ingest: %w: %q", ErrMissingBaseline, key)
	}
	if err != nil {
		return fmt.Errorf("ingest: load %q: %w: %w", key, ErrStorage, err)
	}
	if err := codec.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("ingest: decode %q: %w: %w", key, ErrStorage, err)
	}
	return nil
}

// persist writes the table before the ledger. Stores without batch support
// can crash between the two writes; the next run then re-reads the newest
// sources and VERIFY collapses the repeated rows.
func (e *Engine) persist(ctx context.Context, table []record.Event, ledger Ledger) error {
	tb, err := codec.Marshal(tableBlob{Version: blobVersion, Rows: table})
	if err != nil {
		return fmt.Errorf("ingest: encode table: %w", err)
	}
	lb, err := codec.Marshal(ledgerBlob{Version: blobVersion, Sources: ledger.IDs()})
	if err != nil {
		return fmt.Errorf("ingest: encode ledger: %w", err)
	}
	err = blobstore.PutAll(ctx, e.store, []blobstore.KeyBlob{
		{Key: e.keys.Table, Blob: tb},
		{Key: e.keys.Ledger, Blob: lb},
	})
	if err != nil {
		return fmt.Errorf("ingest: persist: %w: %w", ErrStorage, err)
	}
	return nil
}
