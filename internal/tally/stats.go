package tally

// Stats is what Reduce derives from a finished tally.
type Stats struct {
	Categories int
	Max        Entry
	Min        Entry
}

// Empty reports whether the reduced tally had no categories, in which case
// Max and Min are zero values.
func (s Stats) Empty() bool { return s.Categories == 0 }

// Reduce scans t once and returns the category count together with the
// highest and lowest count entries.
//
// Ties are broken by value: among entries sharing the extremal count, the
// lexicographically smallest value wins, for both Max and Min. Map iteration
// order therefore never affects the result.
func Reduce(t Tally) Stats {
	var (
		s     = Stats{Categories: len(t)}
		first = true
	)
	for v, n := range t {
		e := Entry{Value: v, Count: n}
		if first {
			s.Max, s.Min = e, e
			first = false
			continue
		}
		if n > s.Max.Count || (n == s.Max.Count && v < s.Max.Value) {
			s.Max = e
		}
		if n < s.Min.Count || (n == s.Min.Count && v < s.Min.Value) {
			s.Min = e
		}
	}
	return s
}
