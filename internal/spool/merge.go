package spool

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"tally/internal/tally"
)

// Result is the coordinator's view after every partial has been folded.
type Result struct {
	Global     tally.Tally
	Categories int   // distinct values, counted as they are first inserted
	Records    int64 // sum of the markers' record totals
	Skipped    int64 // sum of the markers' skipped totals
	Malformed  int64 // persisted lines that did not parse as (value, count)
	Markers    []Marker
}

// Await blocks until markers for ranks [0, n) all exist, polling every
// interval. With a RunID set, a marker from another run does not count; its
// worker is expected to replace it. There is no timeout; only ctx ends the
// wait early.
func (s *Spool) Await(ctx context.Context, n int, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	done := make([]bool, n)
	ready := 0
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		for r := 0; r < n; r++ {
			if done[r] {
				continue
			}
			if s.markerReady(r) {
				done[r] = true
				ready++
			}
		}
		if ready == n {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for partials (%d/%d ready): %w", ready, n, ctx.Err())
		case <-t.C:
		}
	}
}

// markerReady reports whether rank's marker is present and, with a RunID
// set, not stale. Undecodable markers count as ready so Merge reports them.
func (s *Spool) markerReady(rank int) bool {
	if s.RunID == "" {
		_, err := os.Stat(s.MarkerPath(rank))
		return err == nil
	}
	_, err := s.ReadMarker(rank)
	return err == nil || !(errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrStaleMarker))
}

// Merge verifies and folds the partials for ranks [0, n) in rank order. A
// missing, stale, unreadable or corrupt partial is fatal and matches
// tally.ErrMissingPartition. Malformed lines inside a verified partial are
// skipped and counted.
func (s *Spool) Merge(ctx context.Context, n int) (Result, error) {
	res := Result{Global: tally.New(1024), Markers: make([]Marker, 0, n)}
	for r := 0; r < n; r++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		m, err := s.ReadMarker(r)
		if err != nil {
			return Result{}, tally.Missing(r, s.MarkerPath(r), err)
		}
		part, malformed, err := s.readPartial(m)
		if err != nil {
			return Result{}, tally.Missing(r, s.PartialPath(r), err)
		}
		for v, c := range part {
			if res.Global.Add(v, c) {
				res.Categories++
			}
		}
		res.Records += m.Records
		res.Skipped += m.Skipped
		res.Malformed += malformed
		res.Markers = append(res.Markers, m)
		if malformed > 0 {
			log.Printf("spool: rank=%d malformed_lines=%d", r, malformed)
		}
	}
	return res, nil
}

// readPartial parses rank m.Rank's data file and checks it against the
// marker's size and digest. Lines are folded into a fresh tally so nothing
// reaches the global tally before verification passes.
func (s *Spool) readPartial(m Marker) (tally.Tally, int64, error) {
	f, err := os.Open(s.PartialPath(m.Rank))
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	h := xxh3.New()
	cr := &countingReader{r: io.TeeReader(bufio.NewReaderSize(f, 1<<16), h)}
	part, malformed, err := parsePartial(cr, s.Comma)
	if err != nil {
		return nil, 0, err
	}
	// Drain anything the csv reader left buffered.
	if _, err := io.Copy(io.Discard, cr); err != nil {
		return nil, 0, err
	}
	if cr.n != m.Bytes {
		return nil, 0, fmt.Errorf("size mismatch: marker says %d bytes, file has %d", m.Bytes, cr.n)
	}
	if got := formatDigest(h.Sum64()); got != m.Digest {
		return nil, 0, fmt.Errorf("digest mismatch: marker %s, file %s", m.Digest, got)
	}
	return part, malformed, nil
}

// parsePartial reads value<delim>count<delim> lines. A line is malformed when
// it does not parse as CSV, lacks a count, has a non-positive or non-numeric
// count, carries data after the trailing delimiter, or names a value that
// would never have been admitted.
func parsePartial(r io.Reader, comma rune) (tally.Tally, int64, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	out := tally.New(256)
	var malformed int64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, malformed, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				malformed++
				continue
			}
			return nil, 0, err
		}
		v, n, ok := partialEntry(rec)
		if !ok {
			malformed++
			continue
		}
		if _, seen := out[v]; !seen {
			v = strings.Clone(v)
		}
		out.Add(v, n)
	}
}

func partialEntry(rec []string) (string, int64, bool) {
	switch {
	case len(rec) == 2:
	case len(rec) == 3 && rec[2] == "":
	default:
		return "", 0, false
	}
	n, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil || n <= 0 {
		return "", 0, false
	}
	if !tally.Admissible(rec[0]) {
		return "", 0, false
	}
	return rec[0], n, true
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
