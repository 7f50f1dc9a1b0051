// Package tally holds the counting core: the Tally mapping, the per-worker
// Local aggregator, field extraction and admissibility filtering, and the
// statistics reducer that runs over a finished tally.
//
// Nothing in this package synchronizes. A Tally is owned by exactly one
// goroutine at a time; cross-worker coordination lives in internal/merge and
// internal/spool.
package tally

import (
	"slices"
	"strings"
)

// Tally maps a category value to its occurrence count. Every key present has
// a count >= 1.
type Tally map[string]int64

// New returns an empty Tally sized for roughly n categories.
func New(n int) Tally { return make(Tally, n) }

// Add increases the count for v by n, inserting v when absent. It reports
// whether v was new to the tally. Non-positive n is ignored so the tally
// never holds a zero count.
func (t Tally) Add(v string, n int64) bool {
	if n <= 0 {
		return false
	}
	cur, ok := t[v]
	t[v] = cur + n
	return !ok
}

// Fold adds every entry of src into t (t[k] += src[k]). src is not modified.
func (t Tally) Fold(src Tally) {
	for k, n := range src {
		t.Add(k, n)
	}
}

// Sum returns the total of all counts.
func (t Tally) Sum() int64 {
	var s int64
	for _, n := range t {
		s += n
	}
	return s
}

// Clone returns an independent copy of t.
func (t Tally) Clone() Tally {
	out := make(Tally, len(t))
	for k, n := range t {
		out[k] = n
	}
	return out
}

// Entry is one (value, count) pair.
type Entry struct {
	Value string `json:"value" yaml:"value"`
	Count int64  `json:"count" yaml:"count"`
}

// Entries returns the tally as a slice sorted by value.
func (t Tally) Entries() []Entry {
	out := make([]Entry, 0, len(t))
	for k, n := range t {
		out = append(out, Entry{Value: k, Count: n})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Value, b.Value) })
	return out
}

// Equal reports whether t and o hold the same keys with the same counts.
func (t Tally) Equal(o Tally) bool {
	if len(t) != len(o) {
		return false
	}
	for k, n := range t {
		if m, ok := o[k]; !ok || m != n {
			return false
		}
	}
	return true
}

// Local is a worker-private aggregator: a Tally plus the number of records it
// accepted. It is built sequentially by one worker and treated as immutable
// once that worker finishes its partition.
type Local struct {
	Tally   Tally
	Records int64 // admissible records observed
	Skipped int64 // records that were short or failed Admissible
}

// NewLocal returns an empty Local.
func NewLocal() *Local { return &Local{Tally: New(64)} }

// Observe counts one admissible value.
func (l *Local) Observe(v string) {
	l.Tally.Add(v, 1)
	l.Records++
}

// Consume extracts column col from rec, filters it and observes it. It
// reports whether the record was counted; rejected records only bump Skipped.
func (l *Local) Consume(rec []string, col int) bool {
	v, ok := Extract(rec, col)
	if !ok || !Admissible(v) {
		l.Skipped++
		return false
	}
	// csv fields are substrings of the whole line; clone new keys so the
	// tally does not pin every line it has seen.
	if _, seen := l.Tally[v]; !seen {
		v = strings.Clone(v)
	}
	l.Observe(v)
	return true
}
