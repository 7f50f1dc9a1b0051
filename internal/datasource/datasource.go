// Package datasource defines where partition bytes come from.
package datasource

import (
	"context"
	"io"
)

// Source yields the raw bytes of one partition. Each worker opens exactly
// one Source and owns the returned reader until it closes it.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the source in logs and partition errors.
	Name() string
}
