package ingest

import (
	"errors"

	"github.com/warpdrive/accesslog/pkg/blobstore"
	"github.com/warpdrive/accesslog/pkg/record"
)

var (
	// ErrMissingBaseline is returned when a non-first run finds no
	// persisted table or ledger.
	ErrMissingBaseline = errors.New("missing baseline")

	// ErrDuplicateInvariant is returned under DuplicateFail when the merged
	// table repeats a natural key.
	ErrDuplicateInvariant = errors.New("duplicate natural key after merge")

	// ErrStorage wraps every blob store failure, including corrupt blobs.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidRun is returned for contradictory run flags.
	ErrInvalidRun = errors.New("invalid run configuration")

	ErrSchemaMismatch = record.ErrSchemaMismatch
	ErrLocked         = blobstore.ErrLocked
)
