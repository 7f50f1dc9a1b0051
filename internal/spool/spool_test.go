package spool

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/xxh3"

	"tally/internal/tally"
)

func localOf(values ...string) *tally.Local {
	l := tally.NewLocal()
	for _, v := range values {
		l.Observe(v)
	}
	return l
}

// plantPartial writes body as rank's partial with a marker that matches it.
func plantPartial(t *testing.T, s *Spool, rank int, body string, records int64) {
	t.Helper()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.PartialPath(rank), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	m := Marker{
		Rank:    rank,
		Records: records,
		Bytes:   int64(len(body)),
		Digest:  formatDigest(xxh3.HashString(body)),
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.MarkerPath(rank), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWritePartial_Format(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), ',')
	m, err := s.WritePartial(0, "p0.csv", localOf("THEFT", "ARSON", "THEFT", "A, B"))
	if err != nil {
		t.Fatalf("WritePartial: %v", err)
	}
	b, err := os.ReadFile(s.PartialPath(0))
	if err != nil {
		t.Fatal(err)
	}
	want := "\"A, B\",1,\nARSON,1,\nTHEFT,2,\n"
	if string(b) != want {
		t.Fatalf("partial = %q; want %q", b, want)
	}
	if m.Records != 4 || m.Categories != 3 || m.Bytes != int64(len(want)) || m.Source != "p0.csv" {
		t.Fatalf("marker = %+v", m)
	}
	if m.Digest != formatDigest(xxh3.HashString(want)) {
		t.Fatalf("digest %s does not match file", m.Digest)
	}
	got, err := s.ReadMarker(0)
	if err != nil || got != m {
		t.Fatalf("ReadMarker = %+v, %v; want %+v", got, err, m)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), ';')
	locals := []*tally.Local{
		localOf("THEFT", "THEFT", "ARSON"),
		localOf("THEFT", "BURGLARY", "a;b"),
		localOf(),
	}
	locals[1].Skipped = 5

	want := tally.New(0)
	for r, l := range locals {
		want.Fold(l.Tally)
		if _, err := s.WritePartial(r, "", l); err != nil {
			t.Fatalf("WritePartial(%d): %v", r, err)
		}
	}

	ctx := context.Background()
	if err := s.Await(ctx, len(locals), time.Millisecond); err != nil {
		t.Fatalf("Await: %v", err)
	}
	res, err := s.Merge(ctx, len(locals))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !res.Global.Equal(want) {
		t.Fatalf("global = %v; want %v", res.Global, want)
	}
	if res.Categories != 4 || res.Records != 6 || res.Skipped != 5 || res.Malformed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Markers) != 3 {
		t.Fatalf("markers = %d", len(res.Markers))
	}
}

func TestMerge_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), ',')
	body := strings.Join([]string{
		"THEFT,3,",
		"ARSON",           // no count
		"BURGLARY,x,",     // non-numeric
		"ROBBERY,0,",      // non-positive
		"NULL,4,",         // never admissible
		"FRAUD,2",         // no trailing delimiter is fine
		"ASSAULT,1,extra", // data after the trailing delimiter
		`BAD"QUOTE,1,`,    // csv syntax error
		"THEFT,1,",
	}, "\n") + "\n"
	plantPartial(t, s, 0, body, 6)

	res, err := s.Merge(context.Background(), 1)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := tally.Tally{"THEFT": 4, "FRAUD": 2}
	if !res.Global.Equal(want) {
		t.Fatalf("global = %v; want %v", res.Global, want)
	}
	if res.Malformed != 6 {
		t.Fatalf("malformed = %d; want 6", res.Malformed)
	}
	if res.Categories != 2 || res.Records != 6 {
		t.Fatalf("result = %+v", res)
	}
}

func TestMerge_MissingOrCorruptIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, s *Spool)
	}{
		{
			name: "missing_marker",
			setup: func(t *testing.T, s *Spool) {
				if err := os.MkdirAll(s.Dir, 0o755); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "missing_partial",
			setup: func(t *testing.T, s *Spool) {
				plantPartial(t, s, 0, "THEFT,1,\n", 1)
				if err := os.Remove(s.PartialPath(0)); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "tampered_partial",
			setup: func(t *testing.T, s *Spool) {
				plantPartial(t, s, 0, "THEFT,1,\n", 1)
				if err := os.WriteFile(s.PartialPath(0), []byte("THEFT,9,\n"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "truncated_partial",
			setup: func(t *testing.T, s *Spool) {
				plantPartial(t, s, 0, "ARSON,1,\nTHEFT,1,\n", 2)
				if err := os.WriteFile(s.PartialPath(0), []byte("ARSON,1,\n"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "garbage_marker",
			setup: func(t *testing.T, s *Spool) {
				plantPartial(t, s, 0, "THEFT,1,\n", 1)
				if err := os.WriteFile(s.MarkerPath(0), []byte("{"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(t.TempDir(), ',')
			tt.setup(t, s)
			_, err := s.Merge(context.Background(), 1)
			if !errors.Is(err, tally.ErrMissingPartition) {
				t.Fatalf("Merge() error = %v; want ErrMissingPartition", err)
			}
			var pe *tally.PartitionError
			if !errors.As(err, &pe) || pe.Rank != 0 {
				t.Fatalf("error %v does not carry rank 0", err)
			}
		})
	}
}

func TestAwait_WaitsForLateMarker(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), ',')
	if _, err := s.WritePartial(0, "", localOf("A")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Await(context.Background(), 2, time.Millisecond) }()

	select {
	case err := <-done:
		t.Fatalf("Await returned before rank 1 finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := s.WritePartial(1, "", localOf("B")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Await: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Await did not return after the last marker appeared")
	}
}

func TestAwait_Canceled(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), ',')
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Await(ctx, 1, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await() error = %v; want deadline exceeded", err)
	}
}

// A reused spool dir still holds a complete, self-consistent partial and
// marker from an earlier run. They must not be merged into this one.
func TestMerge_RejectsMarkerFromOtherRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := New(dir, ',')
	old.RunID = "run-1"
	for rank, v := range []string{"OLD", "OLD"} {
		if _, err := old.WritePartial(rank, "", localOf(v)); err != nil {
			t.Fatal(err)
		}
	}

	cur := New(dir, ',')
	cur.RunID = "run-2"
	if _, err := cur.WritePartial(0, "", localOf("NEW")); err != nil {
		t.Fatal(err)
	}

	_, err := cur.Merge(context.Background(), 2)
	if !errors.Is(err, tally.ErrMissingPartition) || !errors.Is(err, ErrStaleMarker) {
		t.Fatalf("Merge() error = %v; want stale marker for rank 1", err)
	}
	var pe *tally.PartitionError
	if !errors.As(err, &pe) || pe.Rank != 1 {
		t.Fatalf("Merge() error = %v; want rank 1", err)
	}

	// Without a run id the old marker is trusted as before.
	res, err := New(dir, ',').Merge(context.Background(), 2)
	if err != nil {
		t.Fatalf("Merge() without run id: %v", err)
	}
	if res.Global["NEW"] != 1 || res.Global["OLD"] != 1 {
		t.Fatalf("Global = %v", res.Global)
	}
}

func TestAwait_IgnoresMarkerFromOtherRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := New(dir, ',')
	old.RunID = "run-1"
	if _, err := old.WritePartial(0, "", localOf("OLD")); err != nil {
		t.Fatal(err)
	}

	cur := New(dir, ',')
	cur.RunID = "run-2"
	done := make(chan error, 1)
	go func() { done <- cur.Await(context.Background(), 1, time.Millisecond) }()

	select {
	case err := <-done:
		t.Fatalf("Await accepted the other run's marker: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	m, err := cur.WritePartial(0, "", localOf("NEW"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Run != "run-2" {
		t.Fatalf("marker run = %q; want run-2", m.Run)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Await: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Await did not return after this run's marker appeared")
	}
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "spool"), ',')
	for r := 0; r < 2; r++ {
		if _, err := s.WritePartial(r, "", localOf("A")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Cleanup(2); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Fatalf("spool dir still present: %v", err)
	}
}

func TestDefaultDir_Unique(t *testing.T) {
	t.Parallel()

	a, b := DefaultDir(), DefaultDir()
	if a == b || !strings.Contains(a, "tally-") {
		t.Fatalf("DefaultDir() = %q, %q", a, b)
	}
}
