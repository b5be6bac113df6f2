package billing

// =============================================================================
// INTERVAL - Inclusive date range [Start, End]
// =============================================================================

// Interval is an inclusive calendar-day range. Both the billing period itself
// and the activity windows clamped against it are Intervals.
//
// Day counting is inclusive: [Jan 1, Jan 31] is 31 days. This matches the
// upstream billing rule that any occupied fraction of a day is billable, so
// the end day always counts in full.
type Interval struct {
	Start TimePoint
	End   TimePoint
}

// Valid reports whether the interval is well-formed (Start <= End).
func (iv Interval) Valid() bool {
	return !iv.Start.IsZero() && !iv.End.IsZero() && iv.Start.BeforeOrEqual(iv.End)
}

// Contains returns true if the time point is within [Start, End].
func (iv Interval) Contains(t TimePoint) bool {
	return t.AfterOrEqual(iv.Start) && t.BeforeOrEqual(iv.End)
}

// Days returns the inclusive day count of the interval.
// Returns 0 for an inverted interval.
func (iv Interval) Days() int {
	if iv.End.Before(iv.Start) {
		return 0
	}
	return DaysBetween(iv.Start, iv.End) + 1
}

// Overlaps reports whether two inclusive intervals share at least one day.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(iv.End)
}

// Intersect returns the overlap of two intervals. The second return value is
// false when the intervals are disjoint.
func (iv Interval) Intersect(other Interval) (Interval, bool) {
	out := Interval{
		Start: iv.Start.Max(other.Start),
		End:   iv.End.Min(other.End),
	}
	if out.End.Before(out.Start) {
		return Interval{}, false
	}
	return out, true
}

// Clamp bounds the interval to the given limits. An open-ended activity
// (zero End) is treated as extending to the clamp's end.
func (iv Interval) Clamp(bounds Interval) Interval {
	out := iv
	if out.End.IsZero() {
		out.End = bounds.End
	}
	out.Start = out.Start.Max(bounds.Start)
	out.End = out.End.Min(bounds.End)
	return out
}

// Label renders the interval for the payroll export, e.g.
// "2024-01-01 - 2024-01-31".
func (iv Interval) Label() string {
	return iv.Start.String() + " - " + iv.End.String()
}

func (iv Interval) String() string {
	return "[" + iv.Start.String() + ", " + iv.End.String() + "]"
}
