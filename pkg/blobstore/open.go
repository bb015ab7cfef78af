package blobstore

import "fmt"

// Options selects and configures a store implementation.
type Options struct {
	Type             string // "badger" or "dir"
	Path             string
	SyncWrites       bool
	ValueLogFileSize int64
}

// Open returns the store described by opts.
func Open(opts Options) (Store, error) {
	switch opts.Type {
	case "", "badger":
		return OpenBadger(BadgerOptions{
			Path:             opts.Path,
			SyncWrites:       opts.SyncWrites,
			ValueLogFileSize: opts.ValueLogFileSize,
		})
	case "dir":
		return OpenDir(opts.Path)
	default:
		return nil, fmt.Errorf("blobstore.Open: unknown store type %q", opts.Type)
	}
}
