package main

import (
	"log"
	"strconv"

	"github.com/urfave/cli/v2"

	"tally/internal/config"
	"tally/internal/metrics"
	"tally/internal/metrics/datadog"
	"tally/internal/metrics/prompush"
)

const (
	defaultPushgatewayURL = "http://localhost:9091"
	defaultDogStatsDAddr  = "127.0.0.1:8125"
)

// resolveMetrics layers flags (and their env fallbacks) over the job's
// metrics block, then fills defaults.
func resolveMetrics(c *cli.Context, m config.Metrics) config.Metrics {
	if v := c.String("metrics-backend"); v != "" {
		m.Backend = v
	}
	if v := c.String("pushgateway-url"); v != "" {
		m.PushgatewayURL = v
	}
	if v := c.String("dogstatsd-addr"); v != "" {
		m.DogStatsDAddr = v
	}
	if m.PushgatewayURL == "" {
		m.PushgatewayURL = defaultPushgatewayURL
	}
	if m.DogStatsDAddr == "" {
		m.DogStatsDAddr = defaultDogStatsDAddr
	}
	return m
}

// noRank marks a process that is not a partition worker.
const noRank = -1

// newMetricsBackend builds the configured backend. Workers push under
// their own rank so the parent's push does not replace theirs. A nil
// backend means metrics are disabled.
func newMetricsBackend(job string, rank int, m config.Metrics, verbose bool) (metrics.Backend, error) {
	switch m.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(job, m.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		if rank != noRank {
			b.WithGrouping("rank", strconv.Itoa(rank))
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", m.PushgatewayURL, m.Backend, job)
		return b, nil
	case "datadog":
		tags := m.Tags
		if rank != noRank {
			tags = append(append([]string(nil), m.Tags...), "rank:"+strconv.Itoa(rank))
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: m.DogStatsDAddr, Namespace: m.Namespace, GlobalTags: tags})
		if err != nil {
			return nil, err
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", m.DogStatsDAddr, m.Backend, job)
		return b, nil
	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", m.Backend)
		}
		return nil, nil
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", m.Backend)
		return nil, nil
	}
}

// installMetrics selects the metrics backend for job. The returned func
// flushes it; with metrics disabled it does nothing.
func installMetrics(job string, rank int, m config.Metrics, verbose bool) func() {
	b, err := newMetricsBackend(job, rank, m, verbose)
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", m.Backend, err)
		return func() {}
	}
	if b == nil {
		return func() {}
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}
