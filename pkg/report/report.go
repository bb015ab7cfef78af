// Package report emits one JSON line per run so operators can audit what
// each merge ingested and whether the natural-key check flagged anything.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunReport summarizes one merge or snapshot run.
type RunReport struct {
	Timestamp  time.Time `json:"ts"`
	Kind       string    `json:"kind"` // "merge", "snapshot"
	State      string    `json:"state"`
	FirstRead  bool      `json:"first_read"`
	Local      bool      `json:"local"`
	NewSources []string  `json:"new_sources,omitempty"`
	RowsRead   int       `json:"rows_read"`
	RowsAdded  int       `json:"rows_added"`
	TableRows  int       `json:"table_rows"`
	BatchDups  int       `json:"batch_duplicates"`
	Violations int       `json:"violations"`
	Persisted  bool      `json:"persisted"`
	DurationMs float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Emitter sends run reports to a sink.
type Emitter interface {
	Emit(r RunReport) error
	Close() error
}

// New returns the emitter for a configured sink: "stdout", "file" or "nop".
func New(sink, path string) (Emitter, error) {
	switch sink {
	case "stdout":
		return NewWriterEmitter(os.Stdout), nil
	case "file":
		if path == "" {
			path = "/var/log/accesslog/runs.jsonl"
		}
		return NewFileEmitter(path)
	case "", "nop":
		return NewNopEmitter(), nil
	default:
		return nil, fmt.Errorf("report.New: unknown sink %q", sink)
	}
}

// WriterEmitter writes JSON lines to an io.Writer it does not own.
type WriterEmitter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriterEmitter creates an emitter writing to w.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{encoder: json.NewEncoder(w)}
}

// Emit writes r as one JSON line.
func (e *WriterEmitter) Emit(r RunReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.encoder.Encode(r); err != nil {
		return fmt.Errorf("report.WriterEmitter: %w", err)
	}
	return nil
}

// Close is a no-op.
func (e *WriterEmitter) Close() error {
	return nil
}

// FileEmitter appends JSON lines to a file.
type FileEmitter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileEmitter opens path for appending, creating parent directories.
func NewFileEmitter(path string) (*FileEmitter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("report.NewFileEmitter: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report.NewFileEmitter: %w", err)
	}
	return &FileEmitter{file: f, encoder: json.NewEncoder(f)}, nil
}

// Emit appends r as one JSON line.
func (e *FileEmitter) Emit(r RunReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.encoder.Encode(r); err != nil {
		return fmt.Errorf("report.FileEmitter: %w", err)
	}
	return nil
}

// Close closes the file.
func (e *FileEmitter) Close() error {
	return e.file.Close()
}

// NopEmitter discards all reports.
type NopEmitter struct{}

// NewNopEmitter creates a no-op emitter.
func NewNopEmitter() *NopEmitter {
	return &NopEmitter{}
}

// Emit discards r.
func (e *NopEmitter) Emit(RunReport) error { return nil }

// Close is a no-op.
func (e *NopEmitter) Close() error { return nil }

// MemoryEmitter stores reports in memory (for testing).
type MemoryEmitter struct {
	mu      sync.Mutex
	reports []RunReport
}

// NewMemoryEmitter creates a memory-backed emitter.
func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

// Emit stores r.
func (e *MemoryEmitter) Emit(r RunReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, r)
	return nil
}

// Close is a no-op.
func (e *MemoryEmitter) Close() error { return nil }

// Reports returns all stored reports.
func (e *MemoryEmitter) Reports() []RunReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RunReport, len(e.reports))
	copy(out, e.reports)
	return out
}
