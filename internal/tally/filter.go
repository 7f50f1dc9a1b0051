package tally

import "strings"

const (
	// NullMarker is the literal placeholder some exports use for a missing
	// value. The comparison is case-sensitive.
	NullMarker = "NULL"

	// MaxValueLen is the exclusive upper bound, in bytes, for an admissible
	// value. Longer values come from truncated or unbalanced rows.
	MaxValueLen = 80
)

// Extract returns the token at the zero-based index col, or false when the
// record is too short. It never fails on malformed input.
func Extract(rec []string, col int) (string, bool) {
	if col < 0 || len(rec) <= col {
		return "", false
	}
	return rec[col], true
}

// Admissible reports whether v may be counted: non-empty, not NullMarker,
// shorter than MaxValueLen bytes and free of '\r' and '\n'.
func Admissible(v string) bool {
	return v != "" && v != NullMarker && len(v) < MaxValueLen && !hasLineBreak(v)
}

func hasLineBreak(v string) bool { return strings.ContainsAny(v, "\r\n") }

// Reject reasons reported by RejectReason.
const (
	ReasonShort     = "short_record"
	ReasonEmpty     = "empty_value"
	ReasonNull      = "null_marker"
	ReasonTooLong   = "too_long"
	ReasonLineBreak = "line_break"
)

// RejectReason returns why rec would not be counted for column col, or ""
// when it would be.
func RejectReason(rec []string, col int) string {
	v, ok := Extract(rec, col)
	switch {
	case !ok:
		return ReasonShort
	case v == "":
		return ReasonEmpty
	case v == NullMarker:
		return ReasonNull
	case len(v) >= MaxValueLen:
		return ReasonTooLong
	case hasLineBreak(v):
		return ReasonLineBreak
	}
	return ""
}
