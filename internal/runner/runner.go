// Package runner wires sources, parsing, local aggregation, merging and
// reduction into one run for each merge topology:
//
//	shared      one goroutine per partition, barrier, mutex-guarded fold
//	sequential  one goroutine over every partition in order
//	process     one OS process per partition, merged through a spool dir
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"tally/internal/config"
	"tally/internal/metrics"
	csvparser "tally/internal/parser/csv"
	"tally/internal/report"
	"tally/internal/skiplog"
	"tally/internal/spool"
	"tally/internal/tally"
)

// heartbeat is the number of input records between progress lines.
const heartbeat = 1_000_000

// ctxCheckEvery bounds how many records are read between cancellation checks.
const ctxCheckEvery = 4096

// Runner executes one job.
type Runner struct {
	Job     config.Job
	Parts   []Partition
	Column  int
	CSV     csvparser.Options
	Verbose bool

	// Spawn launches worker processes for the process topology.
	Spawn Spawner
}

// Result is the merged outcome of a run, before reduction.
type Result struct {
	Topology  string
	Workers   int
	Global    tally.Tally
	Records   int64
	Skipped   int64
	Malformed int64
	Duration  time.Duration
}

// New builds a Runner from a decoded job.
func New(j config.Job) (*Runner, error) {
	parts, err := Partitions(j)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Job:    j,
		Parts:  parts,
		Column: j.Parser.Options.Int("column", config.DefaultColumn),
		CSV:    csvparser.OptionsFrom(j.Parser.Options),
	}, nil
}

// Run executes the job with its configured topology.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	switch r.Job.Merge.Topology {
	case config.TopologyShared, "":
		return r.RunShared(ctx)
	case config.TopologySequential:
		return r.RunSequential(ctx)
	case config.TopologyProcess:
		if r.Spawn == nil {
			return Result{}, fmt.Errorf("process topology needs a worker spawner")
		}
		return r.RunProcesses(ctx, r.Spool(""), r.Spawn)
	}
	return Result{}, fmt.Errorf("unknown topology %q", r.Job.Merge.Topology)
}

// Spool returns the spool for this job. dir overrides the configured
// directory; with neither set a fresh temp directory is used.
func (r *Runner) Spool(dir string) *spool.Spool {
	if dir == "" {
		dir = r.Job.Merge.SpoolDir
	}
	if dir == "" {
		dir = spool.DefaultDir()
	}
	sp := spool.New(dir, r.CSV.Comma)
	sp.RunID = r.Job.Merge.RunID
	return sp
}

// RunSequential parses every partition in order into a single tally on the
// calling goroutine.
func (r *Runner) RunSequential(ctx context.Context) (Result, error) {
	start := time.Now()
	l := tally.NewLocal()
	for _, p := range r.Parts {
		if err := r.parseInto(ctx, p, l); err != nil {
			return Result{}, err
		}
	}
	metrics.RecordPartitions(r.Job.Job, config.TopologySequential, len(r.Parts))
	return Result{
		Topology: config.TopologySequential,
		Workers:  1,
		Global:   l.Tally,
		Records:  l.Records,
		Skipped:  l.Skipped,
		Duration: time.Since(start),
	}, nil
}

// parsePartition builds a fresh Local for p.
func (r *Runner) parsePartition(ctx context.Context, p Partition) (*tally.Local, error) {
	l := tally.NewLocal()
	if err := r.parseInto(ctx, p, l); err != nil {
		return nil, err
	}
	return l, nil
}

// parseInto reads every record of p into l. Unreadable input is fatal and
// reported as a missing partition; bad records only count as skipped.
func (r *Runner) parseInto(ctx context.Context, p Partition, l *tally.Local) (err error) {
	start := time.Now()
	name := p.Source.Name()
	records0, skipped0 := l.Records, l.Skipped
	defer func() {
		metrics.RecordStep(r.Job.Job, "parse", err, time.Since(start))
		metrics.RecordRecords(r.Job.Job, "accepted", l.Records-records0)
		metrics.RecordRecords(r.Job.Job, "skipped", l.Skipped-skipped0)
	}()

	rc, err := p.Source.Open(ctx)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return tally.Missing(p.Rank, name, err)
	}
	defer rc.Close()

	var sl *skiplog.Log
	if r.Job.SkipLogDir != "" {
		if sl, err = skiplog.Open(r.Job.SkipLogDir, p.Rank); err != nil {
			return fmt.Errorf("rank %d: skip log: %w", p.Rank, err)
		}
		defer func() {
			if cerr := sl.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("rank %d: skip log: %w", p.Rank, cerr)
			}
		}()
	}

	rd := csvparser.NewReader(rc, r.CSV)
	var n int64
	for {
		if n%ctxCheckEvery == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}
		rec, rerr := rd.Next()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return tally.Missing(p.Rank, name, rerr)
		}
		n++
		if !l.Consume(rec, r.Column) && sl != nil {
			v, _ := tally.Extract(rec, r.Column)
			sl.Add(tally.RejectReason(rec, r.Column), n, v)
		}
		if r.Verbose && n%heartbeat == 0 {
			log.Printf("worker: rank=%d progress records=%d elapsed=%s", p.Rank, n, time.Since(start).Truncate(time.Millisecond))
		}
	}
	l.Skipped += rd.Malformed()

	log.Printf("worker: rank=%d source=%s accepted=%d skipped=%d elapsed=%s",
		p.Rank, name, l.Records-records0, l.Skipped-skipped0, time.Since(start).Truncate(time.Millisecond))
	if sl != nil {
		log.Printf("worker: rank=%d skip_log=%s reasons=%v", p.Rank, skiplog.PathFor(r.Job.SkipLogDir, p.Rank), sl.Reasons())
	}
	return nil
}

// Summarize reduces res into the immutable Summary handed to reporters.
func (r *Runner) Summarize(res Result) report.Summary {
	start := time.Now()
	st := tally.Reduce(res.Global)
	metrics.RecordStep(r.Job.Job, "reduce", nil, time.Since(start))
	metrics.RecordCategories(r.Job.Job, st.Categories)
	return report.Summary{
		Job:          r.Job.Job,
		Topology:     res.Topology,
		Workers:      res.Workers,
		Duration:     res.Duration,
		TotalRecords: res.Records,
		Skipped:      res.Skipped,
		Malformed:    res.Malformed,
		Stats:        st,
	}
}
