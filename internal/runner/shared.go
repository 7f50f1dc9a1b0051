package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/config"
	"tally/internal/merge"
	"tally/internal/metrics"
	"tally/internal/tally"
)

// RunShared parses each partition on its own goroutine. Workers wait at a
// barrier until every partition is parsed, then fold into the coordinator
// one at a time. Any worker error cancels the rest, including those already
// waiting at the barrier.
func (r *Runner) RunShared(ctx context.Context) (Result, error) {
	start := time.Now()
	n := len(r.Parts)
	coord := merge.NewCoordinator()
	barrier := merge.NewBarrier(n)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.Parts {
		g.Go(func() error {
			l, err := r.parsePartition(gctx, p)
			if err != nil {
				return err
			}
			if err := barrier.Arrive(gctx); err != nil {
				return err
			}
			t0 := time.Now()
			coord.Fold(l)
			metrics.RecordStep(r.Job.Job, "merge", nil, time.Since(t0))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := coord.Global()
	if folds := coord.Folds(); folds != n {
		return Result{}, fmt.Errorf("merge: %d of %d partitions folded: %w", folds, n, tally.ErrMissingPartition)
	}
	metrics.RecordPartitions(r.Job.Job, config.TopologyShared, n)
	log.Printf("merge: topology=shared partitions=%d categories=%d records=%d", n, len(res.Global), res.Records)
	return Result{
		Topology: config.TopologyShared,
		Workers:  n,
		Global:   res.Global,
		Records:  res.Records,
		Skipped:  res.Skipped,
		Duration: time.Since(start),
	}, nil
}
