/*
errors.go - Centralized error types for the billing core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the API layer maps error
  classes to HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors - Bad amounts, malformed dates, missing references
  2. Conflict errors   - Period overlap, locked periods, double export
  3. Generation errors - Partial batch failures, aggregated per source

SEE ALSO:
  - engine.go: Raises lock/overlap/validation errors
  - export.go: Raises AlreadyExported
  - api/handlers.go: Maps error classes to HTTP status
*/
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad input: non-positive amounts,
	// unknown charge types, malformed dates.
	ErrValidation = errors.New("validation failed")

	// ErrOverlap is returned when a new billing period's date range
	// intersects an existing non-cancelled period.
	ErrOverlap = errors.New("billing period overlap")

	// ErrLockedPeriod is returned when a charge mutation targets an
	// exported or cancelled period. Export is a period-wide lock.
	ErrLockedPeriod = errors.New("billing period is locked")

	// ErrAlreadyExported is returned when commitExport is re-invoked on an
	// exported period. It never silently produces a second record.
	ErrAlreadyExported = errors.New("billing period already exported")

	// ErrSourceMissing is returned when a referenced assignment, trip, or
	// staff member does not exist.
	ErrSourceMissing = errors.New("referenced source not found")

	// ErrPeriodNotFound is returned when a billing period ID resolves to
	// nothing.
	ErrPeriodNotFound = errors.New("billing period not found")

	// ErrChargeNotFound is returned when a charge ID resolves to nothing.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrDuplicateSource is returned by stores when a charge with the same
	// (billingPeriodId, sourceId, staffId) already exists. Generators treat
	// this as "already generated" and skip silently.
	ErrDuplicateSource = errors.New("duplicate source charge")

	// ErrIllegalTransition is returned for a lifecycle transition the state
	// machine does not permit.
	ErrIllegalTransition = errors.New("illegal period transition")

	// ErrNotCompleted is returned when export is attempted on a period that
	// is not in the completed state.
	ErrNotCompleted = errors.New("period not completed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LockedPeriodError reports a mutation attempt on a locked period.
type LockedPeriodError struct {
	PeriodID PeriodID
	Status   PeriodStatus
}

func (e *LockedPeriodError) Error() string {
	return fmt.Sprintf("period %s is %s: charges cannot be modified", e.PeriodID, e.Status)
}

func (e *LockedPeriodError) Unwrap() error { return ErrLockedPeriod }

// OverlapError reports which existing period blocks a new date range.
type OverlapError struct {
	Requested Interval
	Existing  PeriodID
	Dates     Interval
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("period %s overlaps existing period %s %s",
		e.Requested, e.Existing, e.Dates)
}

func (e *OverlapError) Unwrap() error { return ErrOverlap }

// ValidationError reports a single bad field with enough detail to correct
// the input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AlreadyExportedError reports the export that already locked the period.
type AlreadyExportedError struct {
	PeriodID PeriodID
	ExportID ExportID
}

func (e *AlreadyExportedError) Error() string {
	return fmt.Sprintf("period %s already exported (export %s)", e.PeriodID, e.ExportID)
}

func (e *AlreadyExportedError) Unwrap() error { return ErrAlreadyExported }

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	PeriodID PeriodID
	From     PeriodStatus
	To       PeriodStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("period %s: cannot transition %s -> %s", e.PeriodID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// =============================================================================
// PARTIAL GENERATION
// =============================================================================

// SkippedSource records one source record that failed to convert to a
// charge during a generation run, and why.
type SkippedSource struct {
	SourceID SourceID
	Reason   string
}

// PartialGenerationError aggregates per-source failures from a generation
// run. Charges already created by the run are kept; the operator re-runs
// generation idempotently for the unresolved sources.
//
// Documented zero-charge skips (zero overlap, zero-cost trip, zero
// passengers) are NOT failures and do not appear here.
type PartialGenerationError struct {
	PeriodID PeriodID
	Skipped  []SkippedSource
}

func (e *PartialGenerationError) Error() string {
	parts := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		parts[i] = fmt.Sprintf("%s (%s)", s.SourceID, s.Reason)
	}
	return fmt.Sprintf("generation for period %s skipped %d source(s): %s",
		e.PeriodID, len(e.Skipped), strings.Join(parts, "; "))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict returns true if the error is a state conflict the client can
// resolve (locked period, overlap, double export).
func IsConflict(err error) bool {
	return errors.Is(err, ErrOverlap) ||
		errors.Is(err, ErrLockedPeriod) ||
		errors.Is(err, ErrAlreadyExported) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrNotCompleted) ||
		errors.Is(err, ErrDuplicateSource)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrSourceMissing)
}

// validAmount rejects non-positive charge amounts.
func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	return nil
}
