package spool

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeebo/xxh3"

	"tally/internal/tally"
)

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WritePartial persists l as rank's partial and then publishes its marker.
// A stale marker for rank is removed first so the coordinator can never pair
// an old marker with a new partial.
func (s *Spool) WritePartial(rank int, source string, l *tally.Local) (Marker, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Marker{}, fmt.Errorf("create spool dir: %w", err)
	}
	if err := os.Remove(s.MarkerPath(rank)); err != nil && !os.IsNotExist(err) {
		return Marker{}, fmt.Errorf("remove stale marker: %w", err)
	}

	h := xxh3.New()
	var size int64
	err := writeAtomic(s.PartialPath(rank), func(f io.Writer) error {
		cw := &countingWriter{w: io.MultiWriter(f, h)}
		bw := bufio.NewWriterSize(cw, 1<<16)
		w := csv.NewWriter(bw)
		w.Comma = s.Comma
		// value, count and an empty field give the trailing delimiter.
		rec := make([]string, 3)
		for _, e := range l.Tally.Entries() {
			rec[0] = e.Value
			rec[1] = strconv.FormatInt(e.Count, 10)
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		size = cw.n
		return nil
	})
	if err != nil {
		return Marker{}, fmt.Errorf("write partial %d: %w", rank, err)
	}

	m := Marker{
		Rank:       rank,
		Source:     source,
		Records:    l.Records,
		Skipped:    l.Skipped,
		Categories: len(l.Tally),
		Bytes:      size,
		Digest:     formatDigest(h.Sum64()),
		Run:        s.RunID,
	}
	err = writeAtomic(s.MarkerPath(rank), func(f io.Writer) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
	if err != nil {
		return Marker{}, fmt.Errorf("write marker %d: %w", rank, err)
	}
	return m, nil
}

// writeAtomic writes path via a temp file in the same directory, fsyncs it
// and renames it into place.
func writeAtomic(path string, fill func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = fill(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
