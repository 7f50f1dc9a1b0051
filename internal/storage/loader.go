package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"tally/internal/tally"
)

// SaveResult summarizes an export.
type SaveResult struct {
	Rows    int64
	Batches int64
}

// SaveTally writes entries for job through repo in batches of batchSize,
// logging progress after each batch. It stops at the first failed batch.
func SaveTally(ctx context.Context, repo Repository, job string, entries []tally.Entry, batchSize int) (SaveResult, error) {
	var res SaveResult
	if batchSize <= 0 {
		return res, fmt.Errorf("batchSize must be > 0")
	}
	if repo == nil {
		return res, fmt.Errorf("repository must not be nil")
	}

	start := time.Now()
	batch := make([][]any, 0, min(batchSize, len(entries)))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := repo.CopyFrom(ctx, Columns, batch)
		res.Rows += n
		batch = batch[:0]
		if err != nil {
			log.Printf("export: batch #%d failed after=%d total=%d err=%v", res.Batches+1, n, res.Rows, err)
			return err
		}
		res.Batches++
		log.Printf("export: batch #%d inserted=%d total_inserted=%d elapsed=%s",
			res.Batches, n, res.Rows, time.Since(start).Truncate(time.Millisecond))
		return nil
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch = append(batch, []any{job, e.Value, e.Count})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	return res, flush()
}
