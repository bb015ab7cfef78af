package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/warpdrive/accesslog/pkg/metrics"
)

// BadgerOptions configures a badger-backed store.
type BadgerOptions struct {
	Path             string
	InMemory         bool
	ValueLogFileSize int64
	SyncWrites       bool
}

// Badger stores blobs in a badger database. Badger holds an exclusive
// directory lock for the lifetime of the DB, so only one process can open a
// given path; Lock adds exclusion between runs inside that process.
type Badger struct {
	db  *badger.DB
	mu  sync.Mutex
	run sync.Mutex
}

// OpenBadger opens (or creates) a badger store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	bo := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.InMemory {
		bo = bo.WithDir("").WithValueDir("")
	}
	if opts.ValueLogFileSize > 0 {
		bo = bo.WithValueLogFileSize(opts.ValueLogFileSize)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("blobstore.OpenBadger: %s: %w", opts.Path, err)
	}
	slog.Info("blob store opened", "component", "blobstore", "type", "badger",
		"path", opts.Path, "in_memory", opts.InMemory)
	return &Badger{db: db}, nil
}

// Get returns a copy of the blob stored under key.
func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	metrics.StoreDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("blobstore: get %q: %w", key, ErrNotFound)
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("blobstore: get %q: %w", key, err)
	}
	return blob, nil
}

// Put replaces the blob under key.
func (b *Badger) Put(ctx context.Context, key string, blob []byte) error {
	return b.PutAll(ctx, []KeyBlob{{Key: key, Blob: blob}})
}

// PutAll replaces every key in a single transaction.
func (b *Badger) PutAll(ctx context.Context, blobs []KeyBlob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, kb := range blobs {
			if err := txn.Set([]byte(kb.Key), kb.Blob); err != nil {
				return fmt.Errorf("set %q: %w", kb.Key, err)
			}
		}
		return nil
	})
	metrics.StoreDuration.WithLabelValues("put").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("blobstore: put: %w", err)
	}
	return nil
}

// Lock acquires the in-process run lock.
func (b *Badger) Lock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.run.TryLock() {
		return nil, fmt.Errorf("blobstore: badger: %w", ErrLocked)
	}
	var once sync.Once
	return func() error {
		once.Do(b.run.Unlock)
		return nil
	}, nil
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	slog.Info("blob store closed", "component", "blobstore", "type", "badger")
	return err
}
