// Command tally counts the values of one CSV column across many inputs in
// parallel and reports the category count plus the most and least frequent
// values.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	// register all backends with the storage factory; the job picks one.
	_ "tally/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		stop()
		fatalf("tally: %v", err)
	}
}

// Flags are built per command; urfave/cli records state on the flag values.

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "job config path (.json, .yaml or .yml)",
		EnvVars: []string{"TALLY_CONFIG"},
	}
}

func spoolDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "spool-dir",
		Usage:   "directory for persisted partials (process topology)",
		EnvVars: []string{"TALLY_SPOOL_DIR"},
	}
}

func runIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "run-id",
		Usage:   "only accept spool markers written under this run id",
		EnvVars: []string{"TALLY_RUN_ID"},
	}
}

func topologyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "topology",
		Usage:   "merge topology: shared, sequential or process",
		EnvVars: []string{"TALLY_TOPOLOGY"},
	}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable verbose logs"}
}

// parserFlags apply when no config file is given.
func parserFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "column", Value: -1, Usage: "zero-based column to count (default 4)"},
		&cli.StringFlag{Name: "comma", Usage: "field delimiter (default \",\")"},
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "list", Usage: "print every category and its count"},
		&cli.StringFlag{Name: "format", Value: "text", Usage: "summary format: text, json or yaml"},
	}
}

func metricsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "metrics-backend", Usage: "metrics backend (pushgateway, datadog, none)", EnvVars: []string{"METRICS_BACKEND"}},
		&cli.StringFlag{Name: "pushgateway-url", Usage: "Pushgateway base URL", EnvVars: []string{"PUSHGATEWAY_URL"}},
		&cli.StringFlag{Name: "dogstatsd-addr", Usage: "DogStatsD address", EnvVars: []string{"DOGSTATSD_ADDR"}},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tally",
		Usage: "parallel categorical frequency counts over CSV inputs",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "count, merge and report in one invocation",
				ArgsUsage: "[input files...]",
				Flags: flags(
					[]cli.Flag{configFlag(), topologyFlag(), spoolDirFlag(), verboseFlag()},
					parserFlags(), outputFlags(), metricsFlags(),
				),
				Action: runAction,
			},
			{
				Name:      "worker",
				Usage:     "parse one partition and persist it to the spool",
				ArgsUsage: "[input files...]",
				Flags: flags(
					[]cli.Flag{
						configFlag(), topologyFlag(), spoolDirFlag(), runIDFlag(), verboseFlag(),
						&cli.IntFlag{Name: "rank", Required: true, Usage: "partition index"},
					},
					parserFlags(), metricsFlags(),
				),
				Action: workerAction,
			},
			{
				Name:      "merge",
				Usage:     "wait for every partial in the spool, merge and report",
				ArgsUsage: "[input files...]",
				Flags: flags(
					[]cli.Flag{configFlag(), spoolDirFlag(), runIDFlag(), verboseFlag()},
					parserFlags(), outputFlags(), metricsFlags(),
				),
				Action: mergeAction,
			},
			{
				Name:      "validate",
				Usage:     "validate the job config and exit",
				ArgsUsage: "[input files...]",
				Flags:     flags([]cli.Flag{configFlag(), topologyFlag()}, parserFlags()),
				Action:    validateAction,
			},
		},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
