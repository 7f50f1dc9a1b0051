// Package merge implements the shared-memory merge: a Coordinator that owns
// the global tally behind a single mutex, and a Barrier that holds workers
// until every partition has been parsed.
//
// Workers never touch the global tally directly. They hand a finished
// tally.Local to Fold, which takes the lock once for the whole fold.
package merge

import (
	"sync"

	"tally/internal/tally"
)

// Coordinator owns the global tally while workers fold into it.
type Coordinator struct {
	mu      sync.Mutex
	global  tally.Tally
	records int64
	skipped int64
	folds   int
	sealed  bool
}

// NewCoordinator returns a Coordinator with an empty global tally.
func NewCoordinator() *Coordinator {
	return &Coordinator{global: tally.New(256)}
}

// Fold merges one worker's finished local result into the global tally. The
// lock is held for the entire fold so two folds never interleave.
//
// Fold panics if called after Global has sealed the coordinator.
func (c *Coordinator) Fold(l *tally.Local) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		panic("merge: Fold after Global")
	}
	c.global.Fold(l.Tally)
	c.records += l.Records
	c.skipped += l.Skipped
	c.folds++
}

// Folds returns how many locals have been folded (one lock acquisition each).
func (c *Coordinator) Folds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folds
}

// Result is the finished merge handed to the reducer.
type Result struct {
	Global  tally.Tally
	Records int64
	Skipped int64
}

// Global seals the coordinator and hands off the global tally. The caller
// must only call it after every worker has folded; the returned tally is
// read-only from then on.
func (c *Coordinator) Global() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	return Result{Global: c.global, Records: c.records, Skipped: c.skipped}
}
