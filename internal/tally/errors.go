package tally

import (
	"errors"
	"fmt"
)

// ErrMissingPartition marks a partition whose input (or persisted partial
// result) could not be opened, read or verified. It is always fatal: merging
// fewer than all partitions would silently undercount.
var ErrMissingPartition = errors.New("missing partition")

// PartitionError attaches the rank and input name to a fatal partition error.
// errors.Is(err, ErrMissingPartition) holds for every PartitionError.
type PartitionError struct {
	Rank   int
	Source string
	Err    error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d (%s): %v", e.Rank, e.Source, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }

// Is makes every PartitionError match ErrMissingPartition.
func (e *PartitionError) Is(target error) bool { return target == ErrMissingPartition }

// Missing wraps err as a PartitionError for rank/source.
func Missing(rank int, source string, err error) error {
	return &PartitionError{Rank: rank, Source: source, Err: err}
}
