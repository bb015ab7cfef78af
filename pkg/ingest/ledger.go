package ingest

import "sort"

// Ledger is the sorted set of source identifiers already folded into the
// baseline table. It only grows.
type Ledger struct {
	ids []string
}

// NewLedger builds a ledger from ids, dropping duplicates.
func NewLedger(ids []string) Ledger {
	return Ledger{ids: sortedSet(ids)}
}

// IDs returns a copy of the ingested identifiers in sorted order.
func (l Ledger) IDs() []string {
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

// Len returns the number of ingested sources.
func (l Ledger) Len() int { return len(l.ids) }

// Contains reports whether id has been ingested.
func (l Ledger) Contains(id string) bool {
	i := sort.SearchStrings(l.ids, id)
	return i < len(l.ids) && l.ids[i] == id
}

// Missing returns the sorted identifiers in available that the ledger has
// not seen.
func (l Ledger) Missing(available []string) []string {
	var out []string
	for _, id := range sortedSet(available) {
		if !l.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// With returns a new ledger that also contains ids.
func (l Ledger) With(ids []string) Ledger {
	all := make([]string, 0, len(l.ids)+len(ids))
	all = append(all, l.ids...)
	all = append(all, ids...)
	return NewLedger(all)
}

func sortedSet(ids []string) []string {
	cp := make([]string, len(ids))
	copy(cp, ids)
	sort.Strings(cp)
	out := cp[:0]
	for i, id := range cp {
		if i > 0 && id == cp[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
