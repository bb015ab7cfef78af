// Package record defines the canonical job-access row and its natural key.
package record

import (
	"errors"
	"time"
)

// ErrSchemaMismatch is returned when a raw feed does not follow its fixed
// column layout.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Origin marks whether a row came from the persisted baseline or the
// sources ingested in the current run.
type Origin string

const (
	OriginOld Origin = "OLD"
	OriginNew Origin = "NEW"
)

// Columns is the fixed canonical CSV layout of a job-access export.
var Columns = []string{
	"timestamp", "job_id", "file_path", "size", "exec_site",
	"open_site", "cpu_eff", "cpu_time", "wall_time",
}

// CategoryColumn is the optional trailing column some exports carry.
const CategoryColumn = "category"

// DayLayout is the format of Event.Day.
const DayLayout = "2006-01-02"

// Event is one logical job access of one file.
type Event struct {
	Timestamp     int64   `json:"ts"`
	JobID         string  `json:"job"`
	FilePath      string  `json:"path"`
	SizeBytes     float64 `json:"size"`
	ExecSite      string  `json:"exec"`
	OpenSite      string  `json:"open"`
	CPUEfficiency float64 `json:"cpu_eff"`
	CPUTime       float64 `json:"cpu_time"`
	WallTime      float64 `json:"wall_time"`
	Category      string  `json:"cat,omitempty"`

	// Derived columns.
	Day           string `json:"day"`
	NamespaceRoot string `json:"root"`
	Origin        Origin `json:"origin"`

	// Seq is the ingestion order inside a single run. Not persisted.
	Seq int `json:"-"`
}

// Key is the natural key of an Event.
type Key struct {
	FilePath  string
	Timestamp int64
}

// Key returns the (file_path, timestamp) identity of e.
func (e Event) Key() Key {
	return Key{FilePath: e.FilePath, Timestamp: e.Timestamp}
}

// Time returns the event timestamp as a UTC time.
func (e Event) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// DayOf truncates a unix timestamp to its UTC calendar date.
func DayOf(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(DayLayout)
}

// Less orders events by timestamp, then by ingestion sequence.
func Less(a, b Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}

// MarkOrigin sets the origin of every event in place.
func MarkOrigin(events []Event, o Origin) {
	for i := range events {
		events[i].Origin = o
	}
}
