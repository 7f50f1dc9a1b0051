package config

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config (e.g. "sources[1].file.path").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is a SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateJob performs static validation of a Job. It never mutates j.
// Callers decide whether warnings are fatal.
func ValidateJob(j Job) []Issue {
	var issues []Issue

	if strings.TrimSpace(j.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels metrics and log lines",
		})
	}
	issues = append(issues, validateSources(j.Sources, j.SourcesList)...)
	issues = append(issues, validateParser(j.Parser)...)
	issues = append(issues, validateMerge(j.Merge)...)
	issues = append(issues, validateStorage(j.Storage)...)
	issues = append(issues, validateMetrics(j.Metrics)...)

	return issues
}

func validateSources(ss []Source, list string) []Issue {
	var issues []Issue

	if len(ss) == 0 {
		if strings.TrimSpace(list) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "sources",
				Message:  "at least one source is required",
			})
		}
		return issues
	}
	if len(ss) > MaxWorkers {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sources",
			Message:  fmt.Sprintf("%d sources exceed the worker limit of %d", len(ss), MaxWorkers),
		})
	}

	seen := make(map[string]int, len(ss))
	for i, s := range ss {
		path := fmt.Sprintf("sources[%d]", i)
		var p, field string
		switch s.Kind {
		case "file":
			p, field = strings.TrimSpace(s.File.Path), ".file.path"
		case "http":
			p, field = strings.TrimSpace(s.HTTP.URL), ".http.url"
			if s.HTTP.MaxRetries < 0 || s.HTTP.TimeoutMS < 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".http",
					Message:  "max_retries and timeout_ms must not be negative",
				})
			}
		case "":
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".kind",
				Message:  "source kind must not be empty",
			})
			continue
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".kind",
				Message:  fmt.Sprintf("unsupported source kind %q", s.Kind),
			})
			continue
		}
		if p == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + field,
				Message:  fmt.Sprintf("%s source requires a non-empty %s", s.Kind, field[strings.LastIndex(field, ".")+1:]),
			})
			continue
		}
		if prev, dup := seen[p]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + field,
				Message:  fmt.Sprintf("%q is already assigned to sources[%d]; workers never share a source", p, prev),
			})
			continue
		}
		seen[p] = i
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	if p.Kind != "csv" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q (want csv)", p.Kind),
		})
		return issues
	}

	if col := p.Options.Int("column", DefaultColumn); col < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.column",
			Message:  fmt.Sprintf("column must be >= 0, got %d", col),
		})
	}

	if s := p.Options.String("comma", ","); utf8.RuneCountInString(s) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.comma",
			Message:  fmt.Sprintf("comma must be a single character, got %q", s),
		})
	} else if r := p.Options.Rune("comma", ','); r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.comma",
			Message:  fmt.Sprintf("comma %q cannot be used as a delimiter", r),
		})
	}
	return issues
}

func validateMerge(m Merge) []Issue {
	var issues []Issue

	switch m.Topology {
	case TopologyShared, TopologySequential, TopologyProcess:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "merge.topology",
			Message:  fmt.Sprintf("unknown topology %q (want %s, %s or %s)", m.Topology, TopologyShared, TopologySequential, TopologyProcess),
		})
	}
	if m.PollIntervalMS < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "merge.poll_interval_ms",
			Message:  "poll_interval_ms must not be negative",
		})
	}
	if m.Topology != TopologyProcess && m.KeepSpool {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "merge.keep_spool",
			Message:  "keep_spool only applies to the process topology",
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if !s.ExportEnabled() {
		return nil
	}
	known := map[string]struct{}{
		"postgres": {},
		"mysql":    {},
		"mssql":    {},
		"sqlite":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	if strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "storage.db.dsn must not be empty",
		})
	}
	if strings.TrimSpace(s.DB.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.table",
			Message:  "storage.db.table must not be empty",
		})
	}
	if s.DB.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none", "pushgateway", "datadog":
		return nil
	}
	return []Issue{{
		Severity: SeverityWarning,
		Path:     "metrics.backend",
		Message:  fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", m.Backend),
	}}
}
