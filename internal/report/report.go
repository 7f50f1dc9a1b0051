// Package report renders the final Summary of a run as text, JSON or YAML,
// and optionally lists every category of the global tally.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"tally/internal/tally"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Summary is computed once, after the global tally is final.
type Summary struct {
	Job          string
	Topology     string
	Workers      int
	Duration     time.Duration
	TotalRecords int64 // admissible records across all partitions
	Skipped      int64 // short, filtered or unparsable input records
	Malformed    int64 // persisted partial lines dropped during a spool merge
	Stats        tally.Stats
}

// Reporter writes a Summary somewhere.
type Reporter interface {
	Report(s Summary) error
}

// New returns the Reporter for format writing to w.
func New(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "", FormatText:
		return &Text{w: w, p: message.NewPrinter(language.English)}, nil
	case FormatJSON:
		return &JSON{w: w}, nil
	case FormatYAML:
		return &YAML{w: w}, nil
	}
	return nil, fmt.Errorf("unknown report format %q (want text, json or yaml)", format)
}

// Text renders the classic summary block with grouped digits.
type Text struct {
	w io.Writer
	p *message.Printer
}

const (
	banner = "=======================SUMMARY========================="
	rule   = "======================================================="
)

func (t *Text) Report(s Summary) error {
	bw := bufio.NewWriter(t.w)
	t.p.Fprintf(bw, "\n%s\n\n", banner)
	t.p.Fprintf(bw, "Total %s execution time (%d workers):  %.3f seconds\n", s.Topology, s.Workers, s.Duration.Seconds())
	t.p.Fprintf(bw, "Total number of records parsed: %d\n", s.TotalRecords)
	if s.Skipped > 0 {
		t.p.Fprintf(bw, "Records skipped: %d\n", s.Skipped)
	}
	if s.Malformed > 0 {
		t.p.Fprintf(bw, "Malformed partial entries skipped: %d\n", s.Malformed)
	}
	t.p.Fprintf(bw, "The total number of categories: %d\n", s.Stats.Categories)
	t.p.Fprintf(bw, "The category with the most occurrences:\n\t%s\n", t.entry(s.Stats, s.Stats.Max))
	t.p.Fprintf(bw, "The category with the least occurrences:\n\t%s\n", t.entry(s.Stats, s.Stats.Min))
	t.p.Fprintf(bw, "\n%s\n\n", rule)
	return bw.Flush()
}

func (t *Text) entry(st tally.Stats, e tally.Entry) string {
	if st.Empty() {
		return "n/a"
	}
	return t.p.Sprintf("%s with a count of %d", e.Value, e.Count)
}

// view is the serialized shape shared by JSON and YAML.
type view struct {
	Job             string       `json:"job" yaml:"job"`
	Topology        string       `json:"topology" yaml:"topology"`
	Workers         int          `json:"workers" yaml:"workers"`
	DurationSeconds float64      `json:"duration_seconds" yaml:"duration_seconds"`
	TotalRecords    int64        `json:"total_records" yaml:"total_records"`
	Skipped         int64        `json:"skipped" yaml:"skipped"`
	Malformed       int64        `json:"malformed_partial" yaml:"malformed_partial"`
	Categories      int          `json:"categories" yaml:"categories"`
	Max             *tally.Entry `json:"max" yaml:"max"`
	Min             *tally.Entry `json:"min" yaml:"min"`
}

func toView(s Summary) view {
	v := view{
		Job:             s.Job,
		Topology:        s.Topology,
		Workers:         s.Workers,
		DurationSeconds: s.Duration.Seconds(),
		TotalRecords:    s.TotalRecords,
		Skipped:         s.Skipped,
		Malformed:       s.Malformed,
		Categories:      s.Stats.Categories,
	}
	if !s.Stats.Empty() {
		mx, mn := s.Stats.Max, s.Stats.Min
		v.Max, v.Min = &mx, &mn
	}
	return v
}

// JSON renders the summary as one indented JSON object.
type JSON struct{ w io.Writer }

func (j *JSON) Report(s Summary) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(toView(s))
}

// YAML renders the summary as a YAML document.
type YAML struct{ w io.Writer }

func (y *YAML) Report(s Summary) error {
	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(2)
	if err := enc.Encode(toView(s)); err != nil {
		return err
	}
	return enc.Close()
}

// ListTally prints "value => count" for every category, sorted by value.
func ListTally(w io.Writer, t tally.Tally) error {
	bw := bufio.NewWriter(w)
	for _, e := range t.Entries() {
		if _, err := fmt.Fprintf(bw, "%s => %d\n", e.Value, e.Count); err != nil {
			return err
		}
	}
	return bw.Flush()
}
