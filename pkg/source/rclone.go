package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	// Register rclone backends via blank imports.
	_ "github.com/rclone/rclone/backend/azureblob"
	_ "github.com/rclone/rclone/backend/googlecloudstorage"
	_ "github.com/rclone/rclone/backend/local"
	_ "github.com/rclone/rclone/backend/s3"
	_ "github.com/rclone/rclone/backend/sftp"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config/configmap"
)

// RcloneOptions describes where a feed lives.
type RcloneOptions struct {
	Name   string            // configured name, used in logs
	Type   string            // rclone backend: local, s3, azureblob, googlecloudstorage, sftp
	Root   string            // bucket/container + optional prefix, or a local directory
	Params map[string]string // rclone config keys
	Prefix string            // directory inside Root holding the exports
	Suffix string            // only names with this suffix are listed; "" = all
}

// Rclone lists and opens export files on any rclone backend.
type Rclone struct {
	name   string
	prefix string
	suffix string
	rfs    fs.Fs
}

// NewRclone creates a source from options.
func NewRclone(ctx context.Context, opts RcloneOptions) (*Rclone, error) {
	regInfo, err := fs.Find(opts.Type)
	if err != nil {
		return nil, fmt.Errorf("source.NewRclone: unknown type %q: %w", opts.Type, err)
	}
	params := opts.Params
	if params == nil {
		params = map[string]string{}
	}
	rfs, err := regInfo.NewFs(ctx, opts.Name, opts.Root, configmap.Simple(params))
	if err != nil {
		return nil, fmt.Errorf("source.NewRclone: create %q (%s): %w", opts.Name, opts.Type, err)
	}

	slog.Info("Source created",
		"component", "source", "name", opts.Name,
		"type", opts.Type, "root", opts.Root, "prefix", opts.Prefix,
	)
	return &Rclone{
		name:   opts.Name,
		prefix: strings.Trim(opts.Prefix, "/"),
		suffix: opts.Suffix,
		rfs:    rfs,
	}, nil
}

// List returns the sorted names of the files directly under the prefix that
// carry the configured suffix. Subdirectories are not descended.
func (r *Rclone) List(ctx context.Context) ([]string, error) {
	entries, err := r.rfs.List(ctx, r.prefix)
	if err != nil {
		if errors.Is(err, fs.ErrorDirNotFound) {
			return nil, fmt.Errorf("source %s: List %q: %w", r.name, r.prefix, ErrNotFound)
		}
		return nil, fmt.Errorf("source %s: List %q: %w", r.name, r.prefix, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, ok := entry.(fs.Object); !ok {
			continue
		}
		name := path.Base(entry.Remote())
		if r.suffix != "" && !strings.HasSuffix(name, r.suffix) {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// Open returns a reader for the file id under the prefix.
func (r *Rclone) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	remote := id
	if r.prefix != "" {
		remote = r.prefix + "/" + id
	}
	obj, err := r.rfs.NewObject(ctx, remote)
	if err != nil {
		if errors.Is(err, fs.ErrorObjectNotFound) {
			return nil, fmt.Errorf("source %s: Open %q: %w", r.name, remote, ErrNotFound)
		}
		return nil, fmt.Errorf("source %s: Open %q: %w", r.name, remote, err)
	}
	rc, err := obj.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("source %s: Open %q: %w", r.name, remote, err)
	}
	return rc, nil
}

// Close releases resources.
func (r *Rclone) Close() error {
	slog.Debug("Source closed", "component", "source", "name", r.name)
	return nil
}
