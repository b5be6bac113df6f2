/*
engine.go - Billing engine: orchestration, locking, and the mutation guard

PURPOSE:
  The Engine is the single entry point for every state-changing billing
  operation: period creation, cancellation, charge mutation, and batch
  generation. It enforces the lifecycle rules and the period-overlap
  invariant before anything reaches the store.

CONCURRENCY:
  Generation and export are multi-step operations touching several tables.
  Concurrent invocations for the SAME period are serialized through a
  keyed mutex per billingPeriodId; operations on different periods run in
  parallel. Reads are not locked - charge totals of a processing period
  are provisional by contract.

MUTATION GUARD:
  Every charge mutation loads the owning period's status first. Exported
  and cancelled periods reject all mutations with LockedPeriodError.
  Export is a period-wide lock, not a per-charge flag: deletion of any
  charge in an exported period is rejected, regardless of when the charge
  was recorded.

GENERATION RUN:
  draft      -> processing on entry
  processing -> completed on a clean finish
  partial failure leaves the period in processing and returns a
  PartialGenerationError naming the skipped sources; charges already
  created by the run are kept. Re-running is idempotent per source.

SEE ALSO:
  - lifecycle.go: Transition table the engine applies
  - housing.go, transport.go: The generators the run invokes
  - export.go: Export commit (same keyed lock)
*/
package billing

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// GENERATION REPORT
// =============================================================================

// GenerationReport summarizes a batch generation run.
type GenerationReport struct {
	PeriodID   PeriodID
	Status     PeriodStatus // period status after the run
	Created    int          // charges written by this run
	Duplicates int          // sources already charged on a prior run
	ZeroSkips  int          // documented zero-charge skips (no overlap, no cost)
	Skipped    []SkippedSource
}

// Fail records a per-source failure.
func (r *GenerationReport) Fail(id SourceID, reason string) {
	r.Skipped = append(r.Skipped, SkippedSource{SourceID: id, Reason: reason})
}

// Merge folds another report into this one.
func (r *GenerationReport) Merge(other GenerationReport) {
	r.Created += other.Created
	r.Duplicates += other.Duplicates
	r.ZeroSkips += other.ZeroSkips
	r.Skipped = append(r.Skipped, other.Skipped...)
}

// Err returns the aggregated partial-failure error, or nil for a clean run.
func (r *GenerationReport) Err() error {
	if len(r.Skipped) == 0 {
		return nil
	}
	return &PartialGenerationError{PeriodID: r.PeriodID, Skipped: r.Skipped}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine orchestrates billing operations over a TxStore.
type Engine struct {
	store     TxStore
	housing   *HousingGenerator
	transport *TransportGenerator

	createMu sync.Mutex // serializes the overlap check-then-insert

	mu    sync.Mutex
	locks map[PeriodID]*sync.Mutex
}

// NewEngine wires an engine and its generators onto the given store.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		store:     store,
		housing:   &HousingGenerator{Sources: store, Charges: store, Staff: store},
		transport: &TransportGenerator{Sources: store, Charges: store, Staff: store},
		locks:     make(map[PeriodID]*sync.Mutex),
	}
}

// Store exposes the underlying store for read paths (charge listings,
// export history). Reads take no period lock.
func (e *Engine) Store() TxStore { return e.store }

// periodLock returns the mutex serializing multi-step operations for one
// period. Locks are never removed; the set of periods is small and bounded.
func (e *Engine) periodLock(id PeriodID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// =============================================================================
// PERIOD OPERATIONS
// =============================================================================

// CreatePeriod validates and persists a new draft billing period.
// Fails with OverlapError if a non-cancelled period intersects the range.
func (e *Engine) CreatePeriod(ctx context.Context, dates Interval) (*BillingPeriod, error) {
	if dates.Start.IsZero() || dates.End.IsZero() {
		return nil, &ValidationError{Field: "dates", Message: "start and end are required"}
	}
	if !dates.Start.Before(dates.End) {
		return nil, &ValidationError{Field: "dates", Message: "start must be before end"}
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	existing, err := e.store.FindOverlapping(ctx, dates)
	if err != nil {
		return nil, fmt.Errorf("overlap check failed: %w", err)
	}
	if existing != nil {
		return nil, &OverlapError{Requested: dates, Existing: existing.ID, Dates: existing.Dates}
	}

	p := BillingPeriod{
		ID:        PeriodID(uuid.NewString()),
		Dates:     dates,
		Status:    StatusDraft,
		CreatedAt: Today(),
	}
	if err := e.store.SavePeriod(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save period: %w", err)
	}
	return &p, nil
}

// CancelPeriod moves a draft or processing period to cancelled. Charges
// already generated are retained for audit; the period stops blocking new
// periods over the same dates.
func (e *Engine) CancelPeriod(ctx context.Context, id PeriodID) error {
	lock := e.periodLock(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.loadPeriod(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(p.Status, StatusCancelled) {
		return &TransitionError{PeriodID: id, From: p.Status, To: StatusCancelled}
	}
	return e.store.UpdatePeriodStatus(ctx, id, p.Status, StatusCancelled, nil)
}

func (e *Engine) loadPeriod(ctx context.Context, id PeriodID) (*BillingPeriod, error) {
	p, err := e.store.GetPeriod(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPeriodNotFound, id)
	}
	return p, nil
}

// =============================================================================
// GENERATION
// =============================================================================

// RunGeneration executes the housing and transport generators for one
// period, serialized against concurrent runs and exports of the same
// period. The returned report is valid even when err is a
// PartialGenerationError.
func (e *Engine) RunGeneration(ctx context.Context, id PeriodID) (GenerationReport, error) {
	lock := e.periodLock(id)
	lock.Lock()
	defer lock.Unlock()

	report := GenerationReport{PeriodID: id}

	p, err := e.loadPeriod(ctx, id)
	if err != nil {
		return report, err
	}
	if !p.Status.AcceptsGeneration() {
		return report, &LockedPeriodError{PeriodID: id, Status: p.Status}
	}

	if p.Status == StatusDraft {
		if err := e.store.UpdatePeriodStatus(ctx, id, StatusDraft, StatusProcessing, nil); err != nil {
			return report, fmt.Errorf("failed to enter processing: %w", err)
		}
		p.Status = StatusProcessing
	}
	report.Status = p.Status

	housingReport, err := e.housing.Generate(ctx, *p)
	report.Merge(housingReport)
	if err != nil {
		return report, err
	}

	transportReport, err := e.transport.Generate(ctx, *p)
	report.Merge(transportReport)
	if err != nil {
		return report, err
	}

	if genErr := report.Err(); genErr != nil {
		// Partial failure: stay in processing so the run can be retried.
		log.Printf("[Engine] %v", genErr)
		return report, genErr
	}

	if p.Status == StatusProcessing {
		if err := e.store.UpdatePeriodStatus(ctx, id, StatusProcessing, StatusCompleted, nil); err != nil {
			return report, fmt.Errorf("failed to complete period: %w", err)
		}
		report.Status = StatusCompleted
	}

	log.Printf("[Engine] generation for period %s: %d created, %d already present, %d skipped",
		id, report.Created, report.Duplicates, report.ZeroSkips)
	return report, nil
}

// =============================================================================
// CHARGE MUTATIONS - Guarded by period status
// =============================================================================

// AddCharge validates and persists a manual charge against a period.
func (e *Engine) AddCharge(ctx context.Context, c Charge) (*Charge, error) {
	p, err := e.loadPeriod(ctx, c.BillingPeriodID)
	if err != nil {
		return nil, err
	}
	if !p.Status.AcceptsChargeMutations() {
		return nil, &LockedPeriodError{PeriodID: p.ID, Status: p.Status}
	}

	if err := validAmount(c.Amount); err != nil {
		return nil, err
	}
	if !ValidChargeType(c.Type) {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown charge type %q", c.Type)}
	}
	if c.ProrationFactor.IsZero() {
		c.ProrationFactor = decimal.NewFromInt(1)
	}
	if c.ProrationFactor.IsNegative() || c.ProrationFactor.GreaterThan(decimal.NewFromInt(1)) {
		return nil, &ValidationError{Field: "proration_factor", Message: "must be in (0, 1]"}
	}

	staff, err := e.store.GetStaff(ctx, c.StaffID)
	if err != nil {
		return nil, fmt.Errorf("staff lookup failed: %w", err)
	}
	if staff == nil {
		return nil, fmt.Errorf("%w: staff %s", ErrSourceMissing, c.StaffID)
	}

	if c.ID == "" {
		c.ID = ChargeID(uuid.NewString())
	}
	c.CreatedAt = Today()

	if err := e.store.InsertCharge(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCharge replaces the mutable fields of an existing charge, guarded
// by the owning period's status.
func (e *Engine) UpdateCharge(ctx context.Context, c Charge) (*Charge, error) {
	existing, err := e.store.GetCharge(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, c.ID)
	}

	p, err := e.loadPeriod(ctx, existing.BillingPeriodID)
	if err != nil {
		return nil, err
	}
	if !p.Status.AcceptsChargeMutations() {
		return nil, &LockedPeriodError{PeriodID: p.ID, Status: p.Status}
	}

	if err := validAmount(c.Amount); err != nil {
		return nil, err
	}
	if !ValidChargeType(c.Type) {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown charge type %q", c.Type)}
	}
	if c.ProrationFactor.IsZero() {
		c.ProrationFactor = decimal.NewFromInt(1)
	}
	if c.ProrationFactor.IsNegative() || c.ProrationFactor.GreaterThan(decimal.NewFromInt(1)) {
		return nil, &ValidationError{Field: "proration_factor", Message: "must be in (0, 1]"}
	}

	// Ownership and provenance are immutable.
	c.BillingPeriodID = existing.BillingPeriodID
	c.StaffID = existing.StaffID
	c.SourceID = existing.SourceID
	c.CreatedAt = existing.CreatedAt

	if err := e.store.UpdateCharge(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCharge removes a charge, guarded by the owning period's status.
func (e *Engine) DeleteCharge(ctx context.Context, id ChargeID) error {
	existing, err := e.store.GetCharge(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load charge: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrChargeNotFound, id)
	}

	p, err := e.loadPeriod(ctx, existing.BillingPeriodID)
	if err != nil {
		return err
	}
	if !p.Status.AcceptsChargeMutations() {
		return &LockedPeriodError{PeriodID: p.ID, Status: p.Status}
	}

	return e.store.DeleteCharge(ctx, id)
}
