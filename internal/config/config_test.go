package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDecode_JSON(t *testing.T) {
	t.Parallel()

	const js = `{
	  "job": "crimes",
	  "sources": [
	    { "kind": "file", "file": { "path": "a.csv" } },
	    { "file": { "path": "b.csv" } }
	  ],
	  "parser": { "kind": "csv", "options": { "comma": ";", "column": 2, "has_header": true } },
	  "merge": { "topology": "process", "spool_dir": "/tmp/spool", "keep_spool": true },
	  "storage": { "kind": "sqlite", "db": { "dsn": "t.db", "table": "counts", "auto_create_table": true } },
	  "metrics": { "backend": "pushgateway", "pushgateway_url": "http://gw:9091" }
	}`

	j, err := Decode([]byte(js), ".json")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if j.Job != "crimes" {
		t.Fatalf("job = %q", j.Job)
	}
	if got := j.Paths(); strings.Join(got, ",") != "a.csv,b.csv" {
		t.Fatalf("Paths() = %v", got)
	}
	if j.Sources[1].Kind != "file" {
		t.Fatalf("default source kind not applied: %+v", j.Sources[1])
	}
	if got := j.Parser.Options.Rune("comma", ','); got != ';' {
		t.Fatalf("comma = %q; want ';'", got)
	}
	if got := j.Parser.Options.Int("column", DefaultColumn); got != 2 {
		t.Fatalf("column = %d; want 2", got)
	}
	if !j.Parser.Options.Bool("has_header", false) {
		t.Fatalf("has_header = false; want true")
	}
	if j.Merge.Topology != TopologyProcess || j.Merge.SpoolDir != "/tmp/spool" || !j.Merge.KeepSpool {
		t.Fatalf("merge = %+v", j.Merge)
	}
	if j.Merge.PollIntervalMS != DefaultPollIntervalMS {
		t.Fatalf("poll interval default = %d", j.Merge.PollIntervalMS)
	}
	if j.Storage.DB.BatchSize != DefaultBatchSize || !j.Storage.ExportEnabled() {
		t.Fatalf("storage = %+v", j.Storage)
	}
	if j.Metrics.PushgatewayURL != "http://gw:9091" {
		t.Fatalf("metrics = %+v", j.Metrics)
	}
}

func TestDecode_YAML(t *testing.T) {
	t.Parallel()

	const y = `
job: crimes
sources:
  - kind: file
    file: { path: a.csv }
parser:
  kind: csv
  options:
    column: 3
    lazy_quotes: false
merge:
  topology: sequential
`
	j, err := Decode([]byte(y), ".yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := j.Parser.Options.Int("column", DefaultColumn); got != 3 {
		t.Fatalf("column = %d; want 3 (yaml ints decode as int)", got)
	}
	if j.Parser.Options.Bool("lazy_quotes", true) {
		t.Fatalf("lazy_quotes = true; want false")
	}
	if j.Merge.Topology != TopologySequential {
		t.Fatalf("topology = %q", j.Merge.Topology)
	}
	if issues := ValidateJob(j); HasErrors(issues) {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestDecode_Defaults(t *testing.T) {
	t.Parallel()

	j, err := Decode([]byte(`{"job":"x","sources":[{"kind":"file","file":{"path":"a"}}],"parser":{"options":null}}`), ".json")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if j.Parser.Kind != "csv" || j.Parser.Options == nil {
		t.Fatalf("parser defaults not applied: %+v", j.Parser)
	}
	if j.Merge.Topology != TopologyShared {
		t.Fatalf("topology default = %q", j.Merge.Topology)
	}
	if j.Storage.ExportEnabled() {
		t.Fatalf("export should be disabled by default")
	}
}

func TestLoad_FileAndErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "job.yml")
	if err := os.WriteFile(good, []byte("job: j\nsources: [{kind: file, file: {path: x.csv}}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	j, err := Load(good)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if j.Job != "j" || len(j.Sources) != 1 {
		t.Fatalf("loaded %+v", j)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("Load(missing) error = nil")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "bad.json") {
		t.Fatalf("Load(bad) error = %v; want decode error naming the file", err)
	}
}

func TestWithPaths(t *testing.T) {
	t.Parallel()

	base := Job{Job: "j", Sources: []Source{{Kind: "file", File: SourceFile{Path: "old"}}}}
	j := base.WithPaths([]string{"p1", "p2"})
	if got := strings.Join(j.Paths(), ","); got != "p1,p2" {
		t.Fatalf("Paths() = %q", got)
	}
	if base.Sources[0].File.Path != "old" {
		t.Fatalf("WithPaths mutated the receiver")
	}
}

func TestOptions_Accessors(t *testing.T) {
	t.Parallel()

	o := Options{
		"s":  "v",
		"b":  true,
		"f":  float64(3),
		"i":  7,
		"r":  "|x",
		"er": "",
	}
	if o.String("s", "d") != "v" || o.String("missing", "d") != "d" || o.String("b", "d") != "d" {
		t.Fatalf("String accessor wrong")
	}
	if !o.Bool("b", false) || o.Bool("s", false) {
		t.Fatalf("Bool accessor wrong")
	}
	if o.Int("f", 0) != 3 || o.Int("i", 0) != 7 || o.Int("s", 9) != 9 {
		t.Fatalf("Int accessor wrong")
	}
	if o.Rune("r", ',') != '|' || o.Rune("er", ',') != ',' || o.Rune("missing", ';') != ';' {
		t.Fatalf("Rune accessor wrong")
	}

	var nilOpts Options
	if nilOpts.Int("x", 4) != 4 {
		t.Fatalf("nil Options should return defaults")
	}
}

func TestWithPaths_URLs(t *testing.T) {
	t.Parallel()

	j := Job{Job: "j"}.WithPaths([]string{"https://example.com/p0.csv", "local.csv"})
	if j.Sources[0].Kind != "http" || j.Sources[0].HTTP.URL != "https://example.com/p0.csv" {
		t.Fatalf("source 0 = %+v", j.Sources[0])
	}
	if j.Sources[1].Kind != "file" {
		t.Fatalf("source 1 = %+v", j.Sources[1])
	}
}

func TestDecode_HTTPSource(t *testing.T) {
	t.Parallel()

	const y = `
job: remote
sources:
  - http: { url: "http://data/p0.csv", max_retries: 2, headers: { Authorization: "Bearer x" } }
  - file: { path: p1.csv }
`
	j, err := Decode([]byte(y), ".yml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if j.Sources[0].Kind != "http" || j.Sources[0].HTTP.MaxRetries != 2 || j.Sources[0].HTTP.Headers["Authorization"] != "Bearer x" {
		t.Fatalf("http source = %+v", j.Sources[0])
	}
	if got := strings.Join(j.Paths(), ","); got != "http://data/p0.csv,p1.csv" {
		t.Fatalf("Paths() = %s", got)
	}
	if issues := ValidateJob(j); HasErrors(issues) {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}
