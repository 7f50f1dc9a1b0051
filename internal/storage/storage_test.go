package storage

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"

	"tally/internal/tally"
)

// fakeRepo records every CopyFrom batch.
type fakeRepo struct {
	batches [][][]any
	execs   []string
	failAt  int // 1-based batch number to fail; 0 never fails
	closed  bool
}

func (f *fakeRepo) CopyFrom(_ context.Context, columns []string, rows [][]any) (int64, error) {
	if !reflect.DeepEqual(columns, Columns) {
		return 0, errors.New("unexpected columns")
	}
	if f.failAt == len(f.batches)+1 {
		return 0, errors.New("copy failed")
	}
	cp := make([][]any, len(rows))
	copy(cp, rows)
	f.batches = append(f.batches, cp)
	return int64(len(rows)), nil
}

func (f *fakeRepo) Exec(_ context.Context, sql string) error {
	f.execs = append(f.execs, sql)
	return nil
}

func (f *fakeRepo) Close() { f.closed = true }

func TestRegisterAndNew(t *testing.T) {
	t.Parallel()

	var got Config
	Register("fake-new", func(_ context.Context, cfg Config) (Repository, error) {
		got = cfg
		return &fakeRepo{}, nil
	})

	cfg := Config{Kind: "fake-new", DSN: "x", Table: "t"}
	repo, err := New(context.Background(), cfg)
	if err != nil || repo == nil {
		t.Fatalf("New() = %v, %v", repo, err)
	}
	if got != cfg {
		t.Fatalf("factory saw %+v; want %+v", got, cfg)
	}
	if !slices.Contains(ListKinds(), "fake-new") {
		t.Fatalf("ListKinds() = %v; missing fake-new", ListKinds())
	}
}

func TestNew_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if err == nil || err.Error() != "unsupported storage.kind=does-not-exist" {
		t.Fatalf("New() error = %v", err)
	}
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	RegisterDDL("fake-ddl", func(ctx context.Context, repo Repository, table string) error {
		return repo.Exec(ctx, "CREATE "+table)
	})
	repo := &fakeRepo{}
	if err := EnsureTable(context.Background(), "fake-ddl", "counts", repo); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(repo.execs) != 1 || repo.execs[0] != "CREATE counts" {
		t.Fatalf("execs = %v", repo.execs)
	}
	if err := EnsureTable(context.Background(), "no-ddl", "counts", repo); err == nil {
		t.Fatalf("EnsureTable with unregistered kind error = nil")
	}
}

func TestSaveTally_Batches(t *testing.T) {
	t.Parallel()

	entries := tally.Tally{"A": 1, "B": 2, "C": 3, "D": 4, "E": 5}.Entries()
	repo := &fakeRepo{}
	res, err := SaveTally(context.Background(), repo, "crimes", entries, 2)
	if err != nil {
		t.Fatalf("SaveTally: %v", err)
	}
	if res.Rows != 5 || res.Batches != 3 {
		t.Fatalf("result = %+v; want 5 rows in 3 batches", res)
	}
	sizes := []int{len(repo.batches[0]), len(repo.batches[1]), len(repo.batches[2])}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("batch sizes = %v", sizes)
	}
	if first := repo.batches[0][0]; !reflect.DeepEqual(first, []any{"crimes", "A", int64(1)}) {
		t.Fatalf("first row = %#v", first)
	}
}

func TestSaveTally_Errors(t *testing.T) {
	t.Parallel()

	entries := tally.Tally{"A": 1, "B": 2, "C": 3}.Entries()

	repo := &fakeRepo{failAt: 2}
	res, err := SaveTally(context.Background(), repo, "j", entries, 1)
	if err == nil || res.Batches != 1 || res.Rows != 1 {
		t.Fatalf("SaveTally with failing batch = %+v, %v", res, err)
	}

	if _, err := SaveTally(context.Background(), &fakeRepo{}, "j", entries, 0); err == nil {
		t.Fatalf("batch size 0 accepted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SaveTally(ctx, &fakeRepo{}, "j", entries, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled SaveTally error = %v", err)
	}
}

func TestSaveTally_Empty(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	res, err := SaveTally(context.Background(), repo, "j", nil, 10)
	if err != nil || res.Rows != 0 || len(repo.batches) != 0 {
		t.Fatalf("SaveTally(empty) = %+v, %v, batches=%d", res, err, len(repo.batches))
	}
}
