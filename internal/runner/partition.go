package runner

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"tally/internal/config"
	"tally/internal/datasource"
	"tally/internal/datasource/file"
	"tally/internal/datasource/httpds"
)

// Partition assigns one input to one worker. Rank is the worker's index and
// the partition's position in the table.
type Partition struct {
	Rank   int
	Source datasource.Source
}

// readListFn is a test seam for sources_list expansion.
var readListFn = file.ReadList

// Partitions builds the partition table: the job's sources in order, then
// every path named in sources_list. It rejects empty tables, tables larger
// than config.MaxWorkers and any input assigned twice.
func Partitions(j config.Job) ([]Partition, error) {
	srcs := make([]datasource.Source, 0, len(j.Sources))
	for i, s := range j.Sources {
		src, err := openSource(s)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		srcs = append(srcs, src)
	}
	if strings.TrimSpace(j.SourcesList) != "" {
		more, err := readListFn(j.SourcesList)
		if err != nil {
			return nil, fmt.Errorf("read sources_list %s: %w", j.SourcesList, err)
		}
		for _, p := range more {
			srcs = append(srcs, file.NewLocal(p))
		}
	}
	if len(srcs) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}
	if len(srcs) > config.MaxWorkers {
		return nil, fmt.Errorf("%d sources exceed the worker limit of %d", len(srcs), config.MaxWorkers)
	}

	seen := make(map[string]int, len(srcs))
	parts := make([]Partition, len(srcs))
	for i, src := range srcs {
		if prev, dup := seen[src.Name()]; dup {
			return nil, fmt.Errorf("source %q assigned to partitions %d and %d", src.Name(), prev, i)
		}
		seen[src.Name()] = i
		parts[i] = Partition{Rank: i, Source: src}
	}
	return parts, nil
}

func openSource(s config.Source) (datasource.Source, error) {
	switch s.Kind {
	case "file", "":
		return file.NewLocal(s.File.Path), nil
	case "http":
		hdr := make(http.Header, len(s.HTTP.Headers))
		for k, v := range s.HTTP.Headers {
			hdr.Set(k, v)
		}
		c := httpds.NewClient(httpds.Config{
			Timeout:    time.Duration(s.HTTP.TimeoutMS) * time.Millisecond,
			MaxRetries: s.HTTP.MaxRetries,
			Headers:    hdr,
		})
		return httpds.NewSource(s.HTTP.URL, c), nil
	}
	return nil, fmt.Errorf("unsupported source.kind=%s", s.Kind)
}
