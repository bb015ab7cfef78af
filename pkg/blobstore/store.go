// Package blobstore persists opaque blobs under string keys.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob exists for a key.
var ErrNotFound = errors.New("blob not found")

// ErrLocked is returned when another run already holds the store lock.
var ErrLocked = errors.New("store locked by another run")

// Store is a key to blob store. Put replaces the previous blob wholesale.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
	Close() error
}

// Batch is implemented by stores that can replace several keys in one step.
type Batch interface {
	PutAll(ctx context.Context, blobs []KeyBlob) error
}

// KeyBlob pairs a key with its new blob.
type KeyBlob struct {
	Key  string
	Blob []byte
}

// Locker is implemented by stores that can exclude concurrent writers.
// Lock never blocks: it fails with ErrLocked when the lock is held.
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

// PutAll writes blobs through Batch when s supports it, otherwise one key at
// a time in order.
func PutAll(ctx context.Context, s Store, blobs []KeyBlob) error {
	if b, ok := s.(Batch); ok {
		return b.PutAll(ctx, blobs)
	}
	for _, kb := range blobs {
		if err := s.Put(ctx, kb.Key, kb.Blob); err != nil {
			return err
		}
	}
	return nil
}
