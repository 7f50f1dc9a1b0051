// Package spool implements the cross-process merge: each worker process
// persists its local tally as a partial file plus a completion marker, and a
// single coordinator waits for every marker, verifies and folds the partials.
//
// Layout inside the spool directory, for rank r:
//
//	partial-000r.csv   value<delim>count<delim> per line, sorted by value
//	partial-000r.done  JSON Marker; written only after the partial is durable
//
// Both files are written to a temp name, fsynced and renamed, so a present
// marker always describes a complete, closed partial.
package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Marker declares partial-<rank> complete. Records and Skipped carry the
// worker's record totals, which the partial itself does not.
type Marker struct {
	Rank       int    `json:"rank"`
	Source     string `json:"source"`
	Records    int64  `json:"records"`
	Skipped    int64  `json:"skipped"`
	Categories int    `json:"categories"`
	Bytes      int64  `json:"bytes"`
	Digest     string `json:"xxh3"`
	Run        string `json:"run,omitempty"`
}

// ErrStaleMarker reports a marker written under a different run id.
var ErrStaleMarker = errors.New("marker belongs to another run")

// Spool is a directory of partials shared by workers and the coordinator.
// A non-empty RunID is stamped into every marker written and required of
// every marker read.
type Spool struct {
	Dir   string
	Comma rune
	RunID string
}

// New returns a Spool rooted at dir using comma as the field delimiter.
func New(dir string, comma rune) *Spool {
	if comma == 0 {
		comma = ','
	}
	return &Spool{Dir: dir, Comma: comma}
}

// DefaultDir returns a fresh, not yet created directory under the OS temp
// dir.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "tally-"+uuid.NewString())
}

// PartialPath is the data file for rank.
func (s *Spool) PartialPath(rank int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("partial-%04d.csv", rank))
}

// MarkerPath is the completion marker for rank.
func (s *Spool) MarkerPath(rank int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("partial-%04d.done", rank))
}

// ReadMarker loads the marker for rank.
func (s *Spool) ReadMarker(rank int) (Marker, error) {
	var m Marker
	b, err := os.ReadFile(s.MarkerPath(rank))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode marker: %w", err)
	}
	if m.Rank != rank {
		return m, fmt.Errorf("marker names rank %d", m.Rank)
	}
	if s.RunID != "" && m.Run != s.RunID {
		return m, fmt.Errorf("%w: run %q, want %q", ErrStaleMarker, m.Run, s.RunID)
	}
	return m, nil
}

// Cleanup removes the partials and markers for ranks [0, n) and then the
// directory itself if it is empty.
func (s *Spool) Cleanup(n int) error {
	var first error
	for r := 0; r < n; r++ {
		for _, p := range []string{s.PartialPath(r), s.MarkerPath(r)} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
				first = err
			}
		}
	}
	_ = os.Remove(s.Dir)
	return first
}

func formatDigest(sum uint64) string { return strconv.FormatUint(sum, 16) }
