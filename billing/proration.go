/*
proration.go - Interval proration calculator

PURPOSE:
  Computes the fraction of a billing period that an activity interval
  overlaps. This factor scales a full-period charge (e.g. a monthly rent)
  down to the portion actually attributable to the period.

CONTRACT:
  Prorate(activity, period) -> factor in [0, 1]

  - No overlap           -> 0 (caller must skip charge creation)
  - Activity covers the
    whole period         -> exactly 1
  - Partial overlap      -> overlapDays / periodDays

DAY COUNTING:
  Calendar-day granularity, inclusive on both ends: [Jan 10, Jan 25] is
  16 days, [Jan 1, Jan 31] is 31. Any occupied fraction of a day bills as
  a full day. This is a documented design choice, not exact fractional-day
  billing: a room occupied continuously across two adjacent periods can
  bill slightly more than 100% of a full-period rate in total.

PURITY:
  No side effects, no I/O, deterministic for identical inputs. All
  arithmetic is decimal.Decimal so factors survive aggregation without
  float drift.

SEE ALSO:
  - period.go: Interval type and day counting
  - housing.go: The only caller that prorates (transport is per-trip atomic)
*/
package billing

import "github.com/shopspring/decimal"

// Prorate returns the fraction of period covered by activity, in [0, 1].
//
// The period must be valid (Start <= End); the BillingPeriod invariant
// guarantees a positive day count. A zero factor means no billable overlap.
func Prorate(activity, period Interval) decimal.Decimal {
	overlap, ok := activity.Intersect(period)
	if !ok {
		return decimal.Zero
	}

	overlapDays := decimal.NewFromInt(int64(overlap.Days()))
	periodDays := decimal.NewFromInt(int64(period.Days()))

	factor := overlapDays.Div(periodDays)
	if factor.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return factor
}
