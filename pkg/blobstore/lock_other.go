//go:build !unix

package blobstore

import (
	"fmt"
	"os"
	"sync"
)

// Without flock, locks only exclude runs inside this process.
var held sync.Map

func lockFile(f *os.File) error {
	if _, loaded := held.LoadOrStore(f.Name(), struct{}{}); loaded {
		return fmt.Errorf("blobstore: %s: %w", f.Name(), ErrLocked)
	}
	return nil
}

func unlockFile(f *os.File) error {
	held.Delete(f.Name())
	return nil
}
