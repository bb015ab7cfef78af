// Package source lists and opens the raw export files the merge engine
// ingests.
package source

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a source or its directory does not exist.
var ErrNotFound = errors.New("source not found")

// Enumerator lists the identifiers of every available source batch.
type Enumerator interface {
	List(ctx context.Context) ([]string, error)
}

// Reader opens one source batch by identifier.
type Reader interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// Source is both an Enumerator and a Reader.
type Source interface {
	Enumerator
	Reader
	Close() error
}
