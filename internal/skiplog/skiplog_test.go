package skiplog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLog_WritesHeaderAndRows(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "skipped")
	l, err := Open(dir, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Add("null_marker", 2, "NULL")
	l.Add("short_record", 5, "")
	l.Add("null_marker", 9, "NULL")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := strings.Join(l.Reasons(), ","); got != "null_marker=2,short_record=1" {
		t.Fatalf("Reasons() = %s", got)
	}

	f, err := os.Open(PathFor(dir, 3))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		Header,
		{"null_marker", "3", "2", "NULL"},
		{"short_record", "3", "5", ""},
		{"null_marker", "3", "9", "NULL"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %q; want %q", rows, want)
	}
}

func TestOpen_Error(t *testing.T) {
	t.Parallel()

	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(filepath.Join(blocker, "sub"), 0); err == nil {
		t.Fatalf("Open under a regular file error = nil")
	}
}

func TestPathFor(t *testing.T) {
	t.Parallel()

	if got := PathFor("/tmp/x", 12); got != filepath.Join("/tmp/x", "skipped-0012.csv") {
		t.Fatalf("PathFor = %s", got)
	}
}
