package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tally/internal/config"
	"tally/internal/metrics"
	"tally/internal/spool"
)

// Spawner starts the worker for rank and blocks until it exits.
type Spawner func(ctx context.Context, rank int) error

// ExecSpawner runs exe once per rank with the arguments args(rank) returns.
// Worker output goes to this process's stderr.
func ExecSpawner(exe string, args func(rank int) []string) Spawner {
	return func(ctx context.Context, rank int) error {
		cmd := exec.CommandContext(ctx, exe, args(rank)...)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("worker rank %d: %w", rank, err)
		}
		return nil
	}
}

// WorkerArgs builds the argument list for "<exe> worker" invocations that
// share cfgPath and sp. Parser settings are always passed as flags, and
// sp's run id as it stands when the worker is spawned. With positional set,
// or without a config file, the partition table is passed as arguments so
// every worker sees the same rank order as this process.
func (r *Runner) WorkerArgs(cfgPath string, sp *spool.Spool, positional bool) func(rank int) []string {
	return func(rank int) []string {
		args := []string{"worker", "--rank", strconv.Itoa(rank), "--spool-dir", sp.Dir}
		if sp.RunID != "" {
			args = append(args, "--run-id", sp.RunID)
		}
		if cfgPath != "" {
			args = append(args, "--config", cfgPath)
		}
		args = append(args, "--column", strconv.Itoa(r.Column), "--comma", string(r.CSV.Comma))
		if positional || cfgPath == "" {
			for _, p := range r.Parts {
				args = append(args, p.Source.Name())
			}
		}
		return args
	}
}

// RunWorker parses rank's partition and persists it to sp. It is the body of
// one worker process.
func (r *Runner) RunWorker(ctx context.Context, rank int, sp *spool.Spool) (spool.Marker, error) {
	if rank < 0 || rank >= len(r.Parts) {
		return spool.Marker{}, fmt.Errorf("rank %d out of range [0,%d)", rank, len(r.Parts))
	}
	p := r.Parts[rank]
	l, err := r.parsePartition(ctx, p)
	if err != nil {
		return spool.Marker{}, err
	}

	start := time.Now()
	m, err := sp.WritePartial(rank, p.Source.Name(), l)
	metrics.RecordStep(r.Job.Job, "spool_write", err, time.Since(start))
	if err != nil {
		return spool.Marker{}, fmt.Errorf("rank %d: %w", rank, err)
	}
	log.Printf("worker: rank=%d partial=%s categories=%d bytes=%d", rank, sp.PartialPath(rank), m.Categories, m.Bytes)
	return m, nil
}

// RunCoordinator waits for every partition's marker in sp, then merges the
// partials in rank order. The spool is removed afterwards unless keep_spool
// is set.
func (r *Runner) RunCoordinator(ctx context.Context, sp *spool.Spool) (Result, error) {
	start := time.Now()
	n := len(r.Parts)
	if err := sp.Await(ctx, n, r.pollInterval()); err != nil {
		return Result{}, err
	}
	return r.mergeSpool(ctx, sp, start)
}

// RunProcesses launches one worker per partition through spawn and merges
// their partials. A failed worker cancels its siblings and the wait. sp gets
// a fresh run id when it has none.
func (r *Runner) RunProcesses(ctx context.Context, sp *spool.Spool, spawn Spawner) (Result, error) {
	start := time.Now()
	n := len(r.Parts)
	if sp.RunID == "" {
		sp.RunID = uuid.NewString()
	}
	log.Printf("merge: topology=process workers=%d spool=%s run_id=%s", n, sp.Dir, sp.RunID)

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < n; rank++ {
		g.Go(func() error { return spawn(gctx, rank) })
	}
	g.Go(func() error { return sp.Await(gctx, n, r.pollInterval()) })
	if err := g.Wait(); err != nil {
		if !r.Job.Merge.KeepSpool {
			_ = sp.Cleanup(n)
		}
		return Result{}, err
	}
	return r.mergeSpool(ctx, sp, start)
}

func (r *Runner) mergeSpool(ctx context.Context, sp *spool.Spool, start time.Time) (Result, error) {
	n := len(r.Parts)
	t0 := time.Now()
	res, err := sp.Merge(ctx, n)
	metrics.RecordStep(r.Job.Job, "merge", err, time.Since(t0))
	if err != nil {
		return Result{}, err
	}
	metrics.RecordRecords(r.Job.Job, "malformed_partial", res.Malformed)
	metrics.RecordPartitions(r.Job.Job, config.TopologyProcess, n)

	if r.Job.Merge.KeepSpool {
		log.Printf("merge: keeping spool %s", sp.Dir)
	} else if err := sp.Cleanup(n); err != nil {
		log.Printf("merge: cleanup %s: %v", sp.Dir, err)
	}
	log.Printf("merge: topology=process partitions=%d categories=%d records=%d", n, res.Categories, res.Records)
	return Result{
		Topology:  config.TopologyProcess,
		Workers:   n,
		Global:    res.Global,
		Records:   res.Records,
		Skipped:   res.Skipped,
		Malformed: res.Malformed,
		Duration:  time.Since(start),
	}, nil
}

func (r *Runner) pollInterval() time.Duration {
	return time.Duration(r.Job.Merge.PollIntervalMS) * time.Millisecond
}
