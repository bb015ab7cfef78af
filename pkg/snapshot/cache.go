package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warpdrive/accesslog/pkg/blobstore"
	"github.com/warpdrive/accesslog/pkg/codec"
	"github.com/warpdrive/accesslog/pkg/metrics"
	"github.com/warpdrive/accesslog/pkg/report"
	"github.com/warpdrive/accesslog/pkg/source"
)

var (
	// ErrMissingSnapshot is returned when a cached read finds nothing
	// persisted.
	ErrMissingSnapshot = errors.New("missing percentage snapshot")

	// ErrStorage wraps blob store and decode failures.
	ErrStorage = errors.New("snapshot storage failure")
)

// Options configures a Cache.
type Options struct {
	Store    blobstore.Store
	Key      string
	Source   source.Reader // only needed for first reads
	Path     string        // source id of the raw percentage log
	Reporter report.Emitter
}

// Cache computes the snapshot once and serves the persisted copy after.
type Cache struct {
	store blobstore.Store
	key   string
	src   source.Reader
	path  string
	rep   report.Emitter
}

type snapshotBlob struct {
	Version     int         `json:"v"`
	Percentages Percentages `json:"percentages"`
}

// NewCache validates opts and returns a Cache.
func NewCache(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("snapshot.NewCache: store is required")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("snapshot.NewCache: key is required")
	}
	rep := opts.Reporter
	if rep == nil {
		rep = report.NewNopEmitter()
	}
	return &Cache{store: opts.Store, key: opts.Key, src: opts.Source, path: opts.Path, rep: rep}, nil
}

// Get returns the snapshot. With firstRead it parses the raw log and
// persists the result; otherwise it returns the persisted snapshot verbatim
// without touching the raw log.
func (c *Cache) Get(ctx context.Context, firstRead bool) (p Percentages, err error) {
	start := time.Now()
	lines := 0
	defer func() {
		rep := report.RunReport{
			Timestamp:  start.UTC(),
			Kind:       "snapshot",
			State:      "cached",
			FirstRead:  firstRead,
			RowsRead:   lines,
			TableRows:  p.Len(),
			Persisted:  firstRead && err == nil,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		}
		if firstRead {
			rep.State = "computed"
		}
		if err != nil {
			rep.Error = err.Error()
			slog.Error("snapshot failed", "component", "snapshot", "first_read", firstRead, "error", err)
		} else {
			metrics.Snapshots.WithLabelValues(rep.State).Inc()
			slog.Info("snapshot ready", "component", "snapshot", "mode", rep.State,
				"data", len(p.Data), "mc", len(p.MC), "user", len(p.User))
		}
		if eerr := c.rep.Emit(rep); eerr != nil {
			slog.Warn("run report failed", "component", "snapshot", "error", eerr)
		}
	}()

	if !firstRead {
		return c.load(ctx)
	}
	if c.src == nil || c.path == "" {
		return Percentages{}, fmt.Errorf("snapshot: first read needs a percentage log source")
	}

	if l, ok := c.store.(blobstore.Locker); ok {
		unlock, err := l.Lock(ctx)
		if err != nil {
			return Percentages{}, fmt.Errorf("snapshot: acquire lock: %w", err)
		}
		defer unlock()
	}

	rc, err := c.src.Open(ctx, c.path)
	if err != nil {
		return Percentages{}, fmt.Errorf("snapshot: open %q: %w", c.path, err)
	}
	defer rc.Close()
	p, lines, err = Parse(rc)
	if err != nil {
		return Percentages{}, err
	}

	blob, err := codec.Marshal(snapshotBlob{Version: 1, Percentages: p})
	if err != nil {
		return Percentages{}, fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := c.store.Put(ctx, c.key, blob); err != nil {
		return Percentages{}, fmt.Errorf("snapshot: persist: %w: %w", ErrStorage, err)
	}
	return p, nil
}

func (c *Cache) load(ctx context.Context) (Percentages, error) {
	blob, err := c.store.Get(ctx, c.key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return Percentages{}, fmt.Errorf("snapshot: %w: %q", ErrMissingSnapshot, c.key)
	}
	if err != nil {
		return Percentages{}, fmt.Errorf("snapshot: load: %w: %w", ErrStorage, err)
	}
	var sb snapshotBlob
	if err := codec.Unmarshal(blob, &sb); err != nil {
		return Percentages{}, fmt.Errorf("snapshot: decode: %w: %w", ErrStorage, err)
	}
	return sb.Percentages, nil
}
