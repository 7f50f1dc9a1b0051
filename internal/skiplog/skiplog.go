// Package skiplog records rejected input records to a CSV file so a run's
// skipped counts can be audited afterwards.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Header is the first row of every skip log.
var Header = []string{"reason", "rank", "record", "value"}

// Log is owned by a single worker; it does not synchronize.
type Log struct {
	rank    int
	reasons map[string]int64
	f       *os.File
	w       *csv.Writer
}

// PathFor returns the skip log path for rank inside dir.
func PathFor(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("skipped-%04d.csv", rank))
}

// Open creates (truncating) the skip log for rank in dir and writes Header.
func Open(dir string, rank int) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", dir, err)
	}
	path := PathFor(dir, rank)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Log{rank: rank, reasons: make(map[string]int64), f: f, w: w}, nil
}

// Add records one rejected record. record is its 1-based position in the
// partition; value is the extracted token, empty for short records.
func (l *Log) Add(reason string, record int64, value string) {
	l.reasons[reason]++
	_ = l.w.Write([]string{reason, strconv.Itoa(l.rank), strconv.FormatInt(record, 10), value})
}

// Reasons returns "reason=count" pairs sorted by reason.
func (l *Log) Reasons() []string {
	out := make([]string, 0, len(l.reasons))
	for r, n := range l.reasons {
		out = append(out, r+"="+strconv.FormatInt(n, 10))
	}
	sort.Strings(out)
	return out
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}
