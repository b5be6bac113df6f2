package billing

import "time"

// =============================================================================
// TIME POINT - Day-granularity time abstraction
// =============================================================================
// Billing works in calendar days. Every date entering the core is normalized
// to midnight UTC so that interval arithmetic never depends on the wall-clock
// component of an upstream timestamp.

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates an arbitrary timestamp to its UTC calendar day.
func FromTime(t time.Time) TimePoint {
	u := t.UTC()
	return NewTimePoint(u.Year(), u.Month(), u.Day())
}

func Today() TimePoint {
	return FromTime(time.Now())
}

// ParseDate parses a YYYY-MM-DD date string.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TimePoint{}, err
	}
	return FromTime(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format("2006-01-02")
}

func (tp TimePoint) Min(other TimePoint) TimePoint {
	if tp.Before(other) {
		return tp
	}
	return other
}

func (tp TimePoint) Max(other TimePoint) TimePoint {
	if tp.After(other) {
		return tp
	}
	return other
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the number of whole days from one point to another.
// Rounds up: a partial day counts as a full day. This mirrors the billing
// rule that any occupied fraction of a day is billable.
func DaysBetween(from, to TimePoint) int {
	hours := to.normalize().Sub(from.normalize()).Hours()
	days := int(hours / 24)
	if hours > float64(days)*24 {
		days++
	}
	return days
}

func StartOfMonth(year int, month time.Month) TimePoint { return NewTimePoint(year, month, 1) }

func EndOfMonth(year int, month time.Month) TimePoint {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return TimePoint{Time: t}
}
