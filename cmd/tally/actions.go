package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"tally/internal/config"
	"tally/internal/report"
	"tally/internal/runner"
)

// jobFlags are the command-line overrides applied on top of a job file.
type jobFlags struct {
	Config   string
	Topology string
	SpoolDir string
	RunID    string
	Comma    string
	Column   int // < 0 means unset
	Args     []string
}

func jobFlagsFrom(c *cli.Context) jobFlags {
	return jobFlags{
		Config:   c.String("config"),
		Topology: c.String("topology"),
		SpoolDir: c.String("spool-dir"),
		RunID:    c.String("run-id"),
		Comma:    c.String("comma"),
		Column:   c.Int("column"),
		Args:     c.Args().Slice(),
	}
}

// loadJob reads the job file (if any), applies flag overrides and validates
// the result. Issues are printed to stderr; errors make it fail.
func loadJob(f jobFlags, stderr io.Writer) (config.Job, error) {
	if f.Config == "" && len(f.Args) == 0 {
		return config.Job{}, fmt.Errorf("no --config and no input files given")
	}

	var j config.Job
	if f.Config != "" {
		var err error
		if j, err = config.Load(f.Config); err != nil {
			return config.Job{}, err
		}
	} else {
		j = config.Job{Job: "tally"}
		j.ApplyDefaults()
	}

	if len(f.Args) > 0 {
		j = j.WithPaths(f.Args)
		j.SourcesList = ""
	}
	if f.Column >= 0 {
		j.Parser.Options["column"] = f.Column
	}
	if f.Comma != "" {
		j.Parser.Options["comma"] = f.Comma
	}
	if f.Topology != "" {
		j.Merge.Topology = f.Topology
	}
	if f.SpoolDir != "" {
		j.Merge.SpoolDir = f.SpoolDir
	}
	if f.RunID != "" {
		j.Merge.RunID = f.RunID
	}

	issues := config.ValidateJob(j)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return config.Job{}, fmt.Errorf("configuration is invalid")
	}
	return j, nil
}

// prepare loads the job, installs metrics and builds the runner. rank is
// the worker's partition index, or noRank. The returned func flushes
// metrics and must always be called.
func prepare(c *cli.Context, rank int) (*runner.Runner, func(), error) {
	j, err := loadJob(jobFlagsFrom(c), c.App.ErrWriter)
	if err != nil {
		return nil, func() {}, err
	}
	flush := installMetrics(j.Job, rank, resolveMetrics(c, j.Metrics), c.Bool("verbose"))

	r, err := runner.New(j)
	if err != nil {
		return nil, flush, err
	}
	r.Verbose = c.Bool("verbose")
	if r.Verbose {
		log.Printf("job: name=%s partitions=%d topology=%s column=%d storage=%s",
			j.Job, len(r.Parts), j.Merge.Topology, r.Column, j.Storage.Kind)
	}
	return r, flush, nil
}

func runAction(c *cli.Context) error {
	rep, err := report.New(c.String("format"), c.App.Writer)
	if err != nil {
		return err
	}
	r, flush, err := prepare(c, noRank)
	defer flush()
	if err != nil {
		return err
	}

	var res runner.Result
	if r.Job.Merge.Topology == config.TopologyProcess {
		res, err = runProcesses(c.Context, c.String("config"), c.Args().Len() > 0, r)
	} else {
		res, err = r.Run(c.Context)
	}
	if err != nil {
		return err
	}
	return finish(c.Context, c, r, res, rep)
}

// runProcesses re-executes this binary once per partition as "tally worker".
func runProcesses(ctx context.Context, cfgPath string, positional bool, r *runner.Runner) (runner.Result, error) {
	exe, err := os.Executable()
	if err != nil {
		return runner.Result{}, fmt.Errorf("locate executable: %w", err)
	}
	sp := r.Spool("")
	return r.RunProcesses(ctx, sp, runner.ExecSpawner(exe, r.WorkerArgs(cfgPath, sp, positional)))
}

func workerAction(c *cli.Context) error {
	rank := c.Int("rank")
	log.SetPrefix(fmt.Sprintf("[rank %d] ", rank))

	r, flush, err := prepare(c, rank)
	defer flush()
	if err != nil {
		return err
	}
	if r.Job.Merge.SpoolDir == "" {
		return fmt.Errorf("worker needs --spool-dir")
	}
	_, err = r.RunWorker(c.Context, rank, r.Spool(""))
	return err
}

func mergeAction(c *cli.Context) error {
	rep, err := report.New(c.String("format"), c.App.Writer)
	if err != nil {
		return err
	}
	r, flush, err := prepare(c, noRank)
	defer flush()
	if err != nil {
		return err
	}
	if r.Job.Merge.SpoolDir == "" {
		return fmt.Errorf("merge needs --spool-dir")
	}
	res, err := r.RunCoordinator(c.Context, r.Spool(""))
	if err != nil {
		return err
	}
	return finish(c.Context, c, r, res, rep)
}

func validateAction(c *cli.Context) error {
	j, err := loadJob(jobFlagsFrom(c), c.App.ErrWriter)
	if err != nil {
		return err
	}
	parts, err := runner.Partitions(j)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "configuration is valid: job=%s partitions=%d topology=%s\n", j.Job, len(parts), j.Merge.Topology)
	return nil
}

// finish exports, reduces and reports a merged result.
func finish(ctx context.Context, c *cli.Context, r *runner.Runner, res runner.Result, rep report.Reporter) error {
	start := time.Now()
	if err := r.Export(ctx, res); err != nil {
		return err
	}
	if c.Bool("list") {
		if err := report.ListTally(c.App.Writer, res.Global); err != nil {
			return err
		}
	}
	if err := rep.Report(r.Summarize(res)); err != nil {
		return err
	}
	if r.Verbose {
		log.Printf("completed in %s", (res.Duration + time.Since(start)).Truncate(time.Millisecond))
	}
	return nil
}
