/*
store.go - Persistence interfaces for the billing core

PURPOSE:
  Defines the interface between the billing domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  PeriodStore:    Billing period persistence and the overlap query
  ChargeStore:    Charge rows; enforces the source-uniqueness constraint
  ExportStore:    Append-only payroll export records
  SourceStore:    Read side for collaborator assignment/trip records
  StaffDirectory: staffId -> employee identity lookup
  TxStore:        Atomic multi-table operations (export commit)

SOURCE UNIQUENESS:
  The store - not the application - enforces that one source record
  produces at most one charge per staff member per period. InsertCharge
  returns ErrDuplicateSource on conflict so generation survives concurrent
  retries without scanning.

STATUS TRANSITIONS:
  UpdatePeriodStatus is compare-and-set on the current status. A lost race
  surfaces as ErrIllegalTransition instead of silently clobbering a
  concurrent transition.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - billing/store/memory.go: In-memory for testing
*/
package billing

import "context"

// =============================================================================
// PERIOD STORE
// =============================================================================

type PeriodStore interface {
	// SavePeriod inserts a new billing period.
	SavePeriod(ctx context.Context, p BillingPeriod) error

	// GetPeriod returns a period by ID, or nil if absent.
	GetPeriod(ctx context.Context, id PeriodID) (*BillingPeriod, error)

	// ListPeriods returns all periods, newest start date first.
	ListPeriods(ctx context.Context) ([]BillingPeriod, error)

	// UpdatePeriodStatus transitions a period from one status to another,
	// compare-and-set on the current status. exportDate is recorded when
	// transitioning to exported, otherwise nil.
	// Returns ErrIllegalTransition if the stored status is not `from`.
	UpdatePeriodStatus(ctx context.Context, id PeriodID, from, to PeriodStatus, exportDate *TimePoint) error

	// FindOverlapping returns the first non-cancelled period whose date
	// range intersects the given interval, or nil if none.
	FindOverlapping(ctx context.Context, dates Interval) (*BillingPeriod, error)
}

// =============================================================================
// CHARGE STORE
// =============================================================================

type ChargeStore interface {
	// InsertCharge persists a charge. Returns ErrDuplicateSource when a
	// charge with the same (billingPeriodId, sourceId, staffId) exists -
	// the idempotency contract for generation.
	InsertCharge(ctx context.Context, c Charge) error

	// UpdateCharge replaces the mutable fields of an existing charge.
	UpdateCharge(ctx context.Context, c Charge) error

	// DeleteCharge removes a charge. Returns ErrChargeNotFound if absent.
	DeleteCharge(ctx context.Context, id ChargeID) error

	// GetCharge returns a charge by ID, or nil if absent.
	GetCharge(ctx context.Context, id ChargeID) (*Charge, error)

	// ChargesByPeriod returns all charges owned by a period.
	ChargesByPeriod(ctx context.Context, periodID PeriodID) ([]Charge, error)

	// ChargesByStaff returns all charges for a staff member across periods.
	ChargesByStaff(ctx context.Context, staffID StaffID) ([]Charge, error)
}

// =============================================================================
// EXPORT STORE - Append-only
// =============================================================================

type ExportStore interface {
	// InsertExport persists an export record. No update or delete exists:
	// export records are an append-only audit artifact.
	InsertExport(ctx context.Context, rec PayrollExportRecord) error

	// ExportByPeriod returns the export record for a period, or nil.
	ExportByPeriod(ctx context.Context, periodID PeriodID) (*PayrollExportRecord, error)

	// ListExports returns all export records, newest first.
	ListExports(ctx context.Context) ([]PayrollExportRecord, error)
}

// =============================================================================
// COLLABORATOR DATA - Source records and staff identity
// =============================================================================

// SourceStore is the read side the charge generators pull from, plus the
// thin ingestion writes that keep the registries populated. The billing
// core never mutates a source record it has generated from.
type SourceStore interface {
	// ActiveAssignmentsIntersecting returns room assignments with status
	// active whose occupancy window intersects the interval. Open-ended
	// assignments intersect any interval at or after their start.
	ActiveAssignmentsIntersecting(ctx context.Context, dates Interval) ([]RoomAssignment, error)

	// CompletedTripsIn returns trips with status completed whose date lies
	// within the interval, inclusive.
	CompletedTripsIn(ctx context.Context, dates Interval) ([]Trip, error)

	SaveAssignment(ctx context.Context, a RoomAssignment) error
	SaveTrip(ctx context.Context, t Trip) error
}

type StaffDirectory interface {
	// GetStaff returns the directory entry for a staff member, or nil.
	GetStaff(ctx context.Context, id StaffID) (*StaffMember, error)

	ListStaff(ctx context.Context) ([]StaffMember, error)
	SaveStaff(ctx context.Context, s StaffMember) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	PeriodStore
	ChargeStore
	ExportStore
	SourceStore
	StaffDirectory
}

// TxStore wraps Store with transaction support. The export commit writes
// the export record and flips the period status inside one transaction so
// the system can never hold one without the other.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error, the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
