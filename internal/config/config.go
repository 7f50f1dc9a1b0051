// Package config defines the JSON/YAML-serializable job model for tally runs.
// A job names its inputs (one per worker), how to parse them, which merge
// topology to use and where, optionally, to export the finished tally.
//
// Example (YAML, trimmed):
//
//	job: crimes-2015
//	sources:
//	  - { kind: file, file: { path: data/part1.csv } }
//	  - { kind: file, file: { path: data/part2.csv } }
//	parser:
//	  kind: csv
//	  options: { comma: ",", column: 4 }
//	merge:
//	  topology: shared
//	storage:
//	  kind: sqlite
//	  db: { dsn: "tally.db", table: crime_counts, auto_create_table: true }
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxWorkers bounds the number of partitions (and therefore workers) in one
// run. Workers are fixed for the life of a run.
const MaxWorkers = 64

// Merge topologies.
const (
	TopologyShared     = "shared"     // goroutines folding into one mutex-guarded tally
	TopologySequential = "sequential" // single goroutine over all sources
	TopologyProcess    = "process"    // one OS process per partition, merged via spool files
)

// Defaults applied by ApplyDefaults.
const (
	DefaultColumn         = 4
	DefaultPollIntervalMS = 200
	DefaultBatchSize      = 5000
)

// Job is the top-level object decoded from a job file.
type Job struct {
	// Job names the run; used for metrics labels and log prefixes.
	Job string `json:"job" yaml:"job"`

	// Sources is the partition table: worker i reads Sources[i].
	Sources []Source `json:"sources" yaml:"sources"`

	// SourcesList optionally names a text file listing further input paths,
	// one per line ('#' comments allowed). They are appended after Sources.
	SourcesList string `json:"sources_list,omitempty" yaml:"sources_list,omitempty"`

	// SkipLogDir, when set, receives one CSV per partition listing every
	// rejected record and why it was rejected.
	SkipLogDir string `json:"skip_log_dir,omitempty" yaml:"skip_log_dir,omitempty"`

	Parser  Parser  `json:"parser" yaml:"parser"`
	Merge   Merge   `json:"merge" yaml:"merge"`
	Storage Storage `json:"storage" yaml:"storage"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// Source identifies one input. Kind is "file" or "http".
type Source struct {
	Kind string     `json:"kind" yaml:"kind"`
	File SourceFile `json:"file" yaml:"file"`
	HTTP SourceHTTP `json:"http" yaml:"http"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
}

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL        string            `json:"url" yaml:"url"`
	TimeoutMS  int               `json:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries int               `json:"max_retries" yaml:"max_retries"`
	Headers    map[string]string `json:"headers" yaml:"headers"`
}

// Location returns the path or URL the source reads.
func (s Source) Location() string {
	if s.Kind == "http" {
		return s.HTTP.URL
	}
	return s.File.Path
}

// Parser selects how raw bytes become records.
type Parser struct {
	// Kind selects the parser implementation. Current value: "csv".
	Kind string `json:"kind" yaml:"kind"`

	// Options for CSV:
	//   comma (string, first rune; default ","), column (int; default 4),
	//   has_header (bool; default false), lazy_quotes (bool; default true),
	//   trim_space (bool; default false)
	Options Options `json:"options" yaml:"options"`
}

// Merge configures the merge topology.
type Merge struct {
	Topology string `json:"topology" yaml:"topology"`

	// SpoolDir holds persisted partials for the process topology. When empty
	// a fresh directory under the OS temp dir is used.
	SpoolDir string `json:"spool_dir" yaml:"spool_dir"`

	// RunID tags the markers workers write. When set, the coordinator only
	// accepts markers carrying the same id, so leftovers from an earlier run
	// in a reused spool dir are never merged. The run command generates one.
	RunID string `json:"run_id" yaml:"run_id"`

	// KeepSpool leaves partial files in place after a successful merge.
	KeepSpool bool `json:"keep_spool" yaml:"keep_spool"`

	// PollIntervalMS is how often the coordinator checks for completion
	// markers while waiting at the barrier.
	PollIntervalMS int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// Storage selects an optional sink for the finished tally.
type Storage struct {
	// Kind: "", "none", "postgres", "sqlite", "mssql", "mysql".
	Kind string   `json:"kind" yaml:"kind"`
	DB   DBConfig `json:"db" yaml:"db"`
}

// DBConfig configures the tally export table.
type DBConfig struct {
	DSN   string `json:"dsn" yaml:"dsn"`
	Table string `json:"table" yaml:"table"`

	// AutoCreateTable creates (category, count) if it does not exist.
	AutoCreateTable bool `json:"auto_create_table" yaml:"auto_create_table"`

	// BatchSize is the number of rows per bulk insert.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Metrics selects a metrics backend.
type Metrics struct {
	// Backend: "", "none", "pushgateway", "datadog".
	Backend        string   `json:"backend" yaml:"backend"`
	PushgatewayURL string   `json:"pushgateway_url" yaml:"pushgateway_url"`
	DogStatsDAddr  string   `json:"dogstatsd_addr" yaml:"dogstatsd_addr"`
	Namespace      string   `json:"namespace" yaml:"namespace"`
	Tags           []string `json:"tags" yaml:"tags"`
}

// Load reads a job file. Files ending in .yaml or .yml are decoded as YAML,
// everything else as JSON. Defaults are applied to the result.
func Load(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read config: %w", err)
	}
	j, err := Decode(b, filepath.Ext(path))
	if err != nil {
		return Job{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return j, nil
}

// Decode decodes b as YAML when ext is ".yaml"/".yml" and as JSON otherwise,
// then applies defaults.
func Decode(b []byte, ext string) (Job, error) {
	var j Job
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &j); err != nil {
			return Job{}, err
		}
	default:
		if err := json.NewDecoder(bytes.NewReader(b)).Decode(&j); err != nil {
			return Job{}, err
		}
	}
	j.ApplyDefaults()
	return j, nil
}

// ApplyDefaults fills unset fields. It is idempotent.
func (j *Job) ApplyDefaults() {
	for i := range j.Sources {
		if j.Sources[i].Kind != "" {
			continue
		}
		switch {
		case j.Sources[i].File.Path != "":
			j.Sources[i].Kind = "file"
		case j.Sources[i].HTTP.URL != "":
			j.Sources[i].Kind = "http"
		}
	}
	if j.Parser.Kind == "" {
		j.Parser.Kind = "csv"
	}
	if j.Parser.Options == nil {
		j.Parser.Options = Options{}
	}
	if j.Merge.Topology == "" {
		j.Merge.Topology = TopologyShared
	}
	if j.Merge.PollIntervalMS <= 0 {
		j.Merge.PollIntervalMS = DefaultPollIntervalMS
	}
	if j.Storage.DB.BatchSize <= 0 {
		j.Storage.DB.BatchSize = DefaultBatchSize
	}
}

// Paths returns the configured locations in partition order.
func (j Job) Paths() []string {
	out := make([]string, 0, len(j.Sources))
	for _, s := range j.Sources {
		out = append(out, s.Location())
	}
	return out
}

// WithPaths returns a copy of j whose sources are replaced by paths. Entries
// starting with http:// or https:// become http sources, the rest files.
func (j Job) WithPaths(paths []string) Job {
	j.Sources = make([]Source, 0, len(paths))
	for _, p := range paths {
		if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			j.Sources = append(j.Sources, Source{Kind: "http", HTTP: SourceHTTP{URL: p}})
			continue
		}
		j.Sources = append(j.Sources, Source{Kind: "file", File: SourceFile{Path: p}})
	}
	return j
}

// ExportEnabled reports whether the finished tally should be written to a
// storage backend.
func (s Storage) ExportEnabled() bool {
	k := strings.TrimSpace(s.Kind)
	return k != "" && k != "none"
}
