// Package dedup enforces the (file_path, timestamp) natural key on record
// sequences.
//
// Both functions expect their input already ordered such that the preferred
// observation of a key comes first: after record.Less for a single batch, or
// baseline rows before new rows when merging.
package dedup

import "github.com/warpdrive/accesslog/pkg/record"

// Collapse keeps the first event of every natural key and drops the rest.
// The relative order of surviving events is preserved. It returns the
// surviving events and the number of dropped duplicates.
func Collapse(events []record.Event) ([]record.Event, int) {
	seen := make(map[record.Key]struct{}, len(events))
	out := make([]record.Event, 0, len(events))
	for _, e := range events {
		k := e.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out, len(events) - len(out)
}

// Violations counts events that share a natural key with an earlier event.
func Violations(events []record.Event) int {
	seen := make(map[record.Key]struct{}, len(events))
	n := 0
	for _, e := range events {
		k := e.Key()
		if _, dup := seen[k]; dup {
			n++
			continue
		}
		seen[k] = struct{}{}
	}
	return n
}

// Groups returns, for every natural key seen more than once, the number of
// events sharing it.
func Groups(events []record.Event) map[record.Key]int {
	counts := make(map[record.Key]int, len(events))
	for _, e := range events {
		counts[e.Key()]++
	}
	for k, c := range counts {
		if c < 2 {
			delete(counts, k)
		}
	}
	return counts
}
