/*
Package billing implements billing period processing: converting time-bounded
housing occupancy and transport usage into prorated monetary charges,
aggregating them per staff member, and producing an immutable payroll export.

KEY CONCEPTS IN THIS FILE (types.go):
  - BillingPeriod: A fixed date range charges are generated against
  - Charge: A single monetary obligation for one staff member in one period
  - PayrollExportRecord: The immutable audit artifact of a committed export
  - PayrollExportRow: A per-staff aggregate, derived at export time
  - Source records: Read-only collaborator data (assignments, trips, staff)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for all money - no floats in money paths
  2. Type Safety: Strong typing for IDs prevents mixing staff/period/source IDs
  3. Explicitness: billingPeriodId is passed through every operation -
     there is no implicit "current period" state
  4. Auditability: Every charge carries the source record that produced it

SEE ALSO:
  - lifecycle.go: Period state machine
  - store.go: Persistence interfaces
  - engine.go: Orchestration and mutation guard
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PeriodID string
type ChargeID string
type StaffID string
type ExportID string

// SourceID references the originating housing assignment or trip record.
// It is the idempotency key for generation: one source produces at most one
// charge per staff member per period.
type SourceID string

// =============================================================================
// CHARGE - Atomic monetary obligation
// =============================================================================

type ChargeType string

const (
	ChargeRent      ChargeType = "rent"
	ChargeUtilities ChargeType = "utilities"
	ChargeTransport ChargeType = "transport"
	ChargeOther     ChargeType = "other"
)

// ValidChargeType reports whether t is one of the known charge types.
func ValidChargeType(t ChargeType) bool {
	switch t {
	case ChargeRent, ChargeUtilities, ChargeTransport, ChargeOther:
		return true
	}
	return false
}

// Charge is a single monetary obligation attributed to one staff member
// within one billing period. Immutable once the owning period is exported.
type Charge struct {
	ID              ChargeID
	StaffID         StaffID
	BillingPeriodID PeriodID
	Type            ChargeType
	Amount          decimal.Decimal
	ProrationFactor decimal.Decimal // in [0, 1], 1 for unprorated charges
	Description     string
	SourceID        SourceID // empty for manual charges
	CreatedAt       TimePoint
}

// EffectiveAmount is the monetary value the charge contributes to payroll:
// Amount * ProrationFactor.
func (c Charge) EffectiveAmount() decimal.Decimal {
	return c.Amount.Mul(c.ProrationFactor)
}

// =============================================================================
// BILLING PERIOD
// =============================================================================

// BillingPeriod is a fixed date range against which charges are generated
// and eventually exported. Mutated only through the lifecycle state machine;
// never physically deleted once it has a charge attached.
//
// INVARIANTS:
//   - Dates.Start < Dates.End
//   - No two non-cancelled periods overlap
type BillingPeriod struct {
	ID                PeriodID
	Dates             Interval
	Status            PeriodStatus
	PayrollExportDate *TimePoint // set when status becomes exported
	CreatedAt         TimePoint
}

// =============================================================================
// PAYROLL EXPORT
// =============================================================================

// PayrollExportRecord is the append-only audit artifact of a committed
// export. Created exactly once per successful export; never mutated.
type PayrollExportRecord struct {
	ID              ExportID
	BillingPeriodID PeriodID
	ExportDate      TimePoint
	FileName        string
	RecordCount     int
	TotalAmount     decimal.Decimal
	Status          ExportStatus
}

type ExportStatus string

const (
	// ExportCompleted is the only status a record is ever written with.
	// The field exists so the export-history surface can distinguish
	// superseded records if re-export is ever allowed.
	ExportCompleted ExportStatus = "completed"
)

// PayrollExportRow is a per-staff aggregate computed fresh from Charge rows
// at export time. Derived, not persisted.
type PayrollExportRow struct {
	EmployeeID         string
	FirstName          string
	LastName           string
	TotalDeductions    decimal.Decimal
	RentCharges        decimal.Decimal
	UtilityCharges     decimal.Decimal
	TransportCharges   decimal.Decimal
	OtherCharges       decimal.Decimal
	BillingPeriodLabel string
}

// =============================================================================
// SOURCE RECORDS - Read-only collaborator data
// =============================================================================
// These are owned by the property/vehicle registries; the billing core only
// reads them when generating charges.

type AssignmentStatus string

const (
	AssignmentActive AssignmentStatus = "active"
	AssignmentEnded  AssignmentStatus = "ended"
)

// RoomAssignment is a staff member's occupancy of a room, possibly
// open-ended (nil EndDate). MonthlyRate is resolved from the room/property
// configuration by the registry before the record reaches the core.
type RoomAssignment struct {
	ID          SourceID
	StaffID     StaffID
	RoomID      string
	StartDate   TimePoint
	EndDate     *TimePoint
	Status      AssignmentStatus
	MonthlyRate decimal.Decimal
}

// Window returns the assignment's occupancy interval. Open-ended
// assignments report a zero End, which Interval.Clamp extends to the
// period bound.
func (a RoomAssignment) Window() Interval {
	iv := Interval{Start: a.StartDate}
	if a.EndDate != nil {
		iv.End = *a.EndDate
	}
	return iv
}

type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Trip is a completed transport run. Cost is nil when the registry has not
// recorded one; such trips generate no charges. A trip is atomic to a
// single day, so transport charges are never prorated.
type Trip struct {
	ID         SourceID
	Date       TimePoint
	Cost       *decimal.Decimal
	Status     TripStatus
	Passengers []StaffID
}

// StaffMember is the directory projection the export needs.
type StaffMember struct {
	ID         StaffID
	EmployeeID string
	FirstName  string
	LastName   string
}
