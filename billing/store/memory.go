// Package store provides an in-memory TxStore implementation for tests and
// local development. It mirrors the SQLite store's behaviors, including the
// source-uniqueness constraint and compare-and-set status transitions.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	periods     map[billing.PeriodID]billing.BillingPeriod
	charges     map[billing.ChargeID]billing.Charge
	sourceIndex map[sourceKey]billing.ChargeID
	exports     map[billing.ExportID]billing.PayrollExportRecord
	assignments map[billing.SourceID]billing.RoomAssignment
	trips       map[billing.SourceID]billing.Trip
	staff       map[billing.StaffID]billing.StaffMember

	// FailInsertFor makes InsertCharge fail for the given source IDs,
	// for exercising partial-generation reporting in tests.
	FailInsertFor map[billing.SourceID]error
}

type sourceKey struct {
	Period billing.PeriodID
	Source billing.SourceID
	Staff  billing.StaffID
}

func NewMemory() *Memory {
	return &Memory{
		periods:     make(map[billing.PeriodID]billing.BillingPeriod),
		charges:     make(map[billing.ChargeID]billing.Charge),
		sourceIndex: make(map[sourceKey]billing.ChargeID),
		exports:     make(map[billing.ExportID]billing.PayrollExportRecord),
		assignments: make(map[billing.SourceID]billing.RoomAssignment),
		trips:       make(map[billing.SourceID]billing.Trip),
		staff:       make(map[billing.StaffID]billing.StaffMember),
	}
}

// =============================================================================
// PERIOD STORE
// =============================================================================

func (m *Memory) SavePeriod(_ context.Context, p billing.BillingPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[p.ID] = p
	return nil
}

func (m *Memory) GetPeriod(_ context.Context, id billing.PeriodID) (*billing.BillingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPeriods(_ context.Context) ([]billing.BillingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.BillingPeriod, 0, len(m.periods))
	for _, p := range m.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].Dates.Start.Before(out[i].Dates.Start)
	})
	return out, nil
}

func (m *Memory) UpdatePeriodStatus(_ context.Context, id billing.PeriodID, from, to billing.PeriodStatus, exportDate *billing.TimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return fmt.Errorf("%w: %s", billing.ErrPeriodNotFound, id)
	}
	if p.Status != from {
		return &billing.TransitionError{PeriodID: id, From: p.Status, To: to}
	}
	p.Status = to
	p.PayrollExportDate = exportDate
	m.periods[id] = p
	return nil
}

func (m *Memory) FindOverlapping(_ context.Context, dates billing.Interval) (*billing.BillingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.periods {
		if p.Status.BlocksOverlap() && p.Dates.Overlaps(dates) {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

// =============================================================================
// CHARGE STORE
// =============================================================================

func (m *Memory) InsertCharge(_ context.Context, c billing.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailInsertFor[c.SourceID]; ok {
		return err
	}

	if c.SourceID != "" {
		k := sourceKey{Period: c.BillingPeriodID, Source: c.SourceID, Staff: c.StaffID}
		if _, exists := m.sourceIndex[k]; exists {
			return billing.ErrDuplicateSource
		}
		m.sourceIndex[k] = c.ID
	}
	m.charges[c.ID] = c
	return nil
}

func (m *Memory) UpdateCharge(_ context.Context, c billing.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.charges[c.ID]; !ok {
		return fmt.Errorf("%w: %s", billing.ErrChargeNotFound, c.ID)
	}
	m.charges[c.ID] = c
	return nil
}

func (m *Memory) DeleteCharge(_ context.Context, id billing.ChargeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[id]
	if !ok {
		return fmt.Errorf("%w: %s", billing.ErrChargeNotFound, id)
	}
	if c.SourceID != "" {
		delete(m.sourceIndex, sourceKey{Period: c.BillingPeriodID, Source: c.SourceID, Staff: c.StaffID})
	}
	delete(m.charges, id)
	return nil
}

func (m *Memory) GetCharge(_ context.Context, id billing.ChargeID) (*billing.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ChargesByPeriod(_ context.Context, periodID billing.PeriodID) ([]billing.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Charge
	for _, c := range m.charges {
		if c.BillingPeriodID == periodID {
			out = append(out, c)
		}
	}
	sortCharges(out)
	return out, nil
}

func (m *Memory) ChargesByStaff(_ context.Context, staffID billing.StaffID) ([]billing.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Charge
	for _, c := range m.charges {
		if c.StaffID == staffID {
			out = append(out, c)
		}
	}
	sortCharges(out)
	return out, nil
}

func sortCharges(cs []billing.Charge) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].StaffID != cs[j].StaffID {
			return cs[i].StaffID < cs[j].StaffID
		}
		return cs[i].ID < cs[j].ID
	})
}

// =============================================================================
// EXPORT STORE
// =============================================================================

func (m *Memory) InsertExport(_ context.Context, rec billing.PayrollExportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.exports {
		if existing.BillingPeriodID == rec.BillingPeriodID {
			return fmt.Errorf("%w: period %s", billing.ErrAlreadyExported, rec.BillingPeriodID)
		}
	}
	m.exports[rec.ID] = rec
	return nil
}

func (m *Memory) ExportByPeriod(_ context.Context, periodID billing.PeriodID) (*billing.PayrollExportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.exports {
		if rec.BillingPeriodID == periodID {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListExports(_ context.Context) ([]billing.PayrollExportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.PayrollExportRecord, 0, len(m.exports))
	for _, rec := range m.exports {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].ExportDate.Before(out[i].ExportDate)
	})
	return out, nil
}

// =============================================================================
// SOURCE STORE + STAFF DIRECTORY
// =============================================================================

func (m *Memory) ActiveAssignmentsIntersecting(_ context.Context, dates billing.Interval) ([]billing.RoomAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.RoomAssignment
	for _, a := range m.assignments {
		if a.Status != billing.AssignmentActive {
			continue
		}
		window := a.Window()
		if window.End.IsZero() {
			window.End = dates.End
		}
		if window.Overlaps(dates) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CompletedTripsIn(_ context.Context, dates billing.Interval) ([]billing.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Trip
	for _, t := range m.trips {
		if t.Status == billing.TripCompleted && dates.Contains(t.Date) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a billing.RoomAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
	return nil
}

func (m *Memory) SaveTrip(_ context.Context, t billing.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = t
	return nil
}

func (m *Memory) GetStaff(_ context.Context, id billing.StaffID) (*billing.StaffMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListStaff(_ context.Context) ([]billing.StaffMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.StaffMember, 0, len(m.staff))
	for _, s := range m.staff {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (m *Memory) SaveStaff(_ context.Context, s billing.StaffMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = s
	return nil
}

// =============================================================================
// TX STORE
// =============================================================================

// WithTx runs fn against the store directly. The memory store offers no
// rollback; atomicity of the export commit is covered by the SQLite tests.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return fn(m)
}
