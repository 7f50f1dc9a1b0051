package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"tally/internal/metrics"
	"tally/internal/storage"
)

// newRepositoryFn is a test seam around storage.New.
var newRepositoryFn = storage.New

// Export writes the merged tally to the configured storage backend. It is a
// no-op when storage is disabled.
func (r *Runner) Export(ctx context.Context, res Result) (err error) {
	st := r.Job.Storage
	if !st.ExportEnabled() {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordStep(r.Job.Job, "export", err, time.Since(start)) }()

	repo, err := newRepositoryFn(ctx, storage.Config{Kind: st.Kind, DSN: st.DB.DSN, Table: st.DB.Table})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	if st.DB.AutoCreateTable {
		log.Printf("export: auto-create table enabled for %s", st.DB.Table)
		if err := storage.EnsureTable(ctx, st.Kind, st.DB.Table, repo); err != nil {
			return fmt.Errorf("ensure table: %w", err)
		}
		log.Printf("export: table ensured: %s", st.DB.Table)
	}

	saved, err := storage.SaveTally(ctx, repo, r.Job.Job, res.Global.Entries(), st.DB.BatchSize)
	metrics.RecordBatches(r.Job.Job, saved.Batches)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	log.Printf("export: kind=%s table=%s rows=%d batches=%d", st.Kind, st.DB.Table, saved.Rows, saved.Batches)
	return nil
}
