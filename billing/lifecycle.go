/*
lifecycle.go - Billing period state machine

PURPOSE:
  Governs when charge generation, charge mutation, and payroll export are
  legal for a billing period. All transitions are one-directional; no state
  is re-enterable.

STATES:
  draft      -> processing -> completed -> exported
  draft      -> cancelled
  processing -> cancelled

  draft:      charges freely added/edited/removed; generation may run
              (idempotently) any number of times
  processing: batch generation in flight or partially failed; charges may
              still be corrected; a failed run must NOT silently advance
  completed:  generation done, charges final pending export; still mutable
              for manual corrections
  exported:   terminal for mutation; set only by a successful export commit
  cancelled:  terminal; no new charges; existing charges retained for audit;
              ignored by the period-overlap check

SEE ALSO:
  - engine.go: Applies transitions during generation
  - export.go: completed -> exported transition
*/
package billing

// PeriodStatus is the lifecycle state of a billing period.
type PeriodStatus string

const (
	StatusDraft      PeriodStatus = "draft"
	StatusProcessing PeriodStatus = "processing"
	StatusCompleted  PeriodStatus = "completed"
	StatusExported   PeriodStatus = "exported"
	StatusCancelled  PeriodStatus = "cancelled"
)

// transitions is the full legal transition table.
var transitions = map[PeriodStatus][]PeriodStatus{
	StatusDraft:      {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusExported},
	StatusExported:   {},
	StatusCancelled:  {},
}

// ValidStatus reports whether s is a known period status.
func ValidStatus(s PeriodStatus) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to PeriodStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s PeriodStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// AcceptsChargeMutations reports whether charges may be added, edited, or
// removed while the period is in this state. Export is a period-wide lock:
// even a charge somehow recorded after export cannot be deleted.
func (s PeriodStatus) AcceptsChargeMutations() bool {
	switch s {
	case StatusDraft, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// AcceptsGeneration reports whether a batch generation run may start.
// Generation from completed is an idempotent top-up after source
// corrections; it does not change the status.
func (s PeriodStatus) AcceptsGeneration() bool {
	switch s {
	case StatusDraft, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// BlocksOverlap reports whether this period participates in the no-overlap
// invariant. Cancelled periods are non-blocking for new periods covering
// the same dates.
func (s PeriodStatus) BlocksOverlap() bool {
	return s != StatusCancelled
}
