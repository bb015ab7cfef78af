package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warpdrive/accesslog/pkg/metrics"
)

// lockName is the lock file created at the store root.
const lockName = ".lock"

// Dir stores each blob as a file under a root directory. Writes go to a
// temporary file in the same directory, are fsynced and then renamed over
// the previous blob, so a crash leaves either the old or the new blob.
type Dir struct {
	root string
}

// OpenDir creates root if needed and returns a directory store.
func OpenDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore.OpenDir: %w", err)
	}
	slog.Info("blob store opened", "component", "blobstore", "type", "dir", "path", root)
	return &Dir{root: root}, nil
}

// path maps a key such as "jobs/table" to a file under root.
func (d *Dir) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if key == "" || clean == "/" || strings.HasPrefix(filepath.Base(clean), ".") {
		return "", fmt.Errorf("blobstore: invalid key %q", key)
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

// Get reads the blob stored under key.
func (d *Dir) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	blob, err := os.ReadFile(p)
	metrics.StoreDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blobstore: get %q: %w", key, ErrNotFound)
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("blobstore: get %q: %w", key, err)
	}
	return blob, nil
}

// Put atomically replaces the blob under key.
func (d *Dir) Put(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.path(key)
	if err != nil {
		return err
	}
	start := time.Now()
	err = writeAtomic(p, blob)
	metrics.StoreDuration.WithLabelValues("put").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("blobstore: put %q: %w", key, err)
	}
	return nil
}

func writeAtomic(path string, blob []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	// Persist the rename itself.
	if df, err := os.Open(dir); err == nil {
		_ = df.Sync()
		df.Close()
	}
	return nil
}

// Lock takes an exclusive, non-blocking lock on the store root.
func (d *Dir) Lock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(d.root, lockName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() error {
		uerr := unlockFile(f)
		cerr := f.Close()
		return errors.Join(uerr, cerr)
	}, nil
}

// Close is a no-op for directory stores.
func (d *Dir) Close() error {
	return nil
}
