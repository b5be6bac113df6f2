/*
Package sqlite provides a SQLite-backed implementation of the billing
storage interfaces.

PURPOSE:
  Implements billing.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  billing_periods:  Periods with lifecycle status
  charges:          Charge rows, one per staff obligation
  payroll_exports:  Append-only export audit records
  room_assignments: Collaborator data (housing registry)
  trips:            Collaborator data (transport registry)
  staff:            Directory projection for exports

CONSTRAINTS ENFORCED BY SCHEMA:
  idx_charges_source_unique: One source record produces at most one charge
  per staff member per period. InsertCharge surfaces the violation as
  billing.ErrDuplicateSource, which is how generation stays idempotent
  under concurrent retries.

  idx_exports_period_unique: At most one export record per period. A
  violated insert can only mean a raced double commit; it rolls the whole
  commit transaction back.

STATUS TRANSITIONS:
  UpdatePeriodStatus is compare-and-set (UPDATE ... WHERE status = ?), so
  a lost race surfaces as billing.ErrIllegalTransition instead of
  clobbering a concurrent transition.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is opened with WAL mode:
  multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := billing.NewEngine(store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Billing periods (lifecycle-managed, never physically deleted)
	CREATE TABLE IF NOT EXISTS billing_periods (
		id TEXT PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		payroll_export_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_periods_status
		ON billing_periods(status);
	CREATE INDEX IF NOT EXISTS idx_periods_dates
		ON billing_periods(start_date, end_date);

	-- Charges
	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		billing_period_id TEXT NOT NULL REFERENCES billing_periods(id),
		charge_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		proration_factor TEXT NOT NULL DEFAULT '1',
		description TEXT,
		source_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charges_period
		ON charges(billing_period_id);
	CREATE INDEX IF NOT EXISTS idx_charges_staff
		ON charges(staff_id);

	-- CRITICAL: generation idempotency. One source record produces at most
	-- one charge per staff member per period.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_charges_source_unique
		ON charges(billing_period_id, source_id, staff_id)
		WHERE source_id IS NOT NULL;

	-- Payroll exports (append-only audit artifact)
	CREATE TABLE IF NOT EXISTS payroll_exports (
		id TEXT PRIMARY KEY,
		billing_period_id TEXT NOT NULL REFERENCES billing_periods(id),
		export_date TEXT NOT NULL,
		file_name TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'completed'
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_exports_period_unique
		ON payroll_exports(billing_period_id);

	-- Room assignments (housing registry, read-only to the core)
	CREATE TABLE IF NOT EXISTS room_assignments (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		monthly_rate TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_status_dates
		ON room_assignments(status, start_date, end_date);

	-- Trips (transport registry, read-only to the core)
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		trip_date TEXT NOT NULL,
		cost TEXT,
		status TEXT NOT NULL DEFAULT 'scheduled',
		passengers_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_trips_status_date
		ON trips(status, trip_date);

	-- Staff directory projection
	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer abstracts *sql.DB and *sql.Tx so write helpers run in either.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// PERIOD STORE
// =============================================================================

func (s *Store) SavePeriod(ctx context.Context, p billing.BillingPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_periods (id, start_date, end_date, status, payroll_export_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Dates.Start.String(),
		p.Dates.End.String(),
		p.Status,
		nullTimePoint(p.PayrollExportDate),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

func (s *Store) GetPeriod(ctx context.Context, id billing.PeriodID) (*billing.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPeriod(ctx, id)
}

func (s *Store) getPeriod(ctx context.Context, id billing.PeriodID) (*billing.BillingPeriod, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, start_date, end_date, status, payroll_export_date, created_at
		 FROM billing_periods WHERE id = ?`, id)

	p, err := scanPeriod(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPeriods(ctx context.Context) ([]billing.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_date, end_date, status, payroll_export_date, created_at
		 FROM billing_periods ORDER BY start_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	defer rows.Close()

	var periods []billing.BillingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

func (s *Store) UpdatePeriodStatus(ctx context.Context, id billing.PeriodID, from, to billing.PeriodStatus, exportDate *billing.TimePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePeriodStatusTx(ctx, s.db, id, from, to, exportDate)
}

// updatePeriodStatusTx is compare-and-set on the stored status.
func (s *Store) updatePeriodStatusTx(ctx context.Context, db execer, id billing.PeriodID, from, to billing.PeriodStatus, exportDate *billing.TimePoint) error {
	res, err := db.ExecContext(ctx,
		`UPDATE billing_periods SET status = ?, payroll_export_date = ?
		 WHERE id = ? AND status = ?`,
		to, nullTimePoint(exportDate), id, from)
	if err != nil {
		return fmt.Errorf("failed to update period status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the period is gone or the status moved underneath us.
		current, getErr := s.getPeriod(ctx, id)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return fmt.Errorf("%w: %s", billing.ErrPeriodNotFound, id)
		}
		return &billing.TransitionError{PeriodID: id, From: current.Status, To: to}
	}
	return nil
}

func (s *Store) FindOverlapping(ctx context.Context, dates billing.Interval) (*billing.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Inclusive interval intersection; cancelled periods don't block.
	row := s.db.QueryRowContext(ctx,
		`SELECT id, start_date, end_date, status, payroll_export_date, created_at
		 FROM billing_periods
		 WHERE status != ? AND start_date <= ? AND end_date >= ?
		 LIMIT 1`,
		billing.StatusCancelled, dates.End.String(), dates.Start.String())

	p, err := scanPeriod(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (*billing.BillingPeriod, error) {
	var (
		p          billing.BillingPeriod
		start, end string
		exportDate sql.NullString
		createdAt  string
	)
	if err := row.Scan(&p.ID, &start, &end, &p.Status, &exportDate, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if p.Dates.Start, err = billing.ParseDate(start); err != nil {
		return nil, fmt.Errorf("corrupt start_date %q: %w", start, err)
	}
	if p.Dates.End, err = billing.ParseDate(end); err != nil {
		return nil, fmt.Errorf("corrupt end_date %q: %w", end, err)
	}
	if exportDate.Valid {
		tp, perr := billing.ParseDate(exportDate.String)
		if perr != nil {
			return nil, fmt.Errorf("corrupt payroll_export_date %q: %w", exportDate.String, perr)
		}
		p.PayrollExportDate = &tp
	}
	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		p.CreatedAt = billing.FromTime(t)
	}
	return &p, nil
}

// =============================================================================
// CHARGE STORE
// =============================================================================

const chargeColumns = `id, staff_id, billing_period_id, charge_type, amount, proration_factor, description, source_id, created_at`

func (s *Store) InsertCharge(ctx context.Context, c billing.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertCharge(ctx, s.db, c)
}

func insertCharge(ctx context.Context, db execer, c billing.Charge) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO charges (`+chargeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.StaffID,
		c.BillingPeriodID,
		c.Type,
		c.Amount.String(),
		c.ProrationFactor.String(),
		c.Description,
		nullString(string(c.SourceID)),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateSource
		}
		return fmt.Errorf("failed to insert charge: %w", err)
	}
	return nil
}

func (s *Store) UpdateCharge(ctx context.Context, c billing.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE charges SET charge_type = ?, amount = ?, proration_factor = ?, description = ?
		 WHERE id = ?`,
		c.Type, c.Amount.String(), c.ProrationFactor.String(), c.Description, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update charge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", billing.ErrChargeNotFound, c.ID)
	}
	return nil
}

func (s *Store) DeleteCharge(ctx context.Context, id billing.ChargeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM charges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete charge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", billing.ErrChargeNotFound, id)
	}
	return nil
}

func (s *Store) GetCharge(ctx context.Context, id billing.ChargeID) (*billing.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCharge(ctx, id)
}

func (s *Store) getCharge(ctx context.Context, id billing.ChargeID) (*billing.Charge, error) {
	charges, err := s.queryCharges(ctx,
		`SELECT `+chargeColumns+` FROM charges WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return nil, nil
	}
	return &charges[0], nil
}

func (s *Store) ChargesByPeriod(ctx context.Context, periodID billing.PeriodID) ([]billing.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chargesByPeriod(ctx, periodID)
}

func (s *Store) chargesByPeriod(ctx context.Context, periodID billing.PeriodID) ([]billing.Charge, error) {
	return s.queryCharges(ctx,
		`SELECT `+chargeColumns+` FROM charges WHERE billing_period_id = ?
		 ORDER BY staff_id ASC, created_at ASC`, periodID)
}

func (s *Store) ChargesByStaff(ctx context.Context, staffID billing.StaffID) ([]billing.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCharges(ctx,
		`SELECT `+chargeColumns+` FROM charges WHERE staff_id = ?
		 ORDER BY created_at ASC`, staffID)
}

func (s *Store) queryCharges(ctx context.Context, query string, args ...any) ([]billing.Charge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var charges []billing.Charge
	for rows.Next() {
		var (
			c         billing.Charge
			amount    string
			factor    string
			desc      sql.NullString
			sourceID  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.StaffID, &c.BillingPeriodID, &c.Type,
			&amount, &factor, &desc, &sourceID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}

		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
		}
		if c.ProrationFactor, err = decimal.NewFromString(factor); err != nil {
			return nil, fmt.Errorf("corrupt proration_factor %q: %w", factor, err)
		}
		c.Description = desc.String
		c.SourceID = billing.SourceID(sourceID.String)
		if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
			c.CreatedAt = billing.FromTime(t)
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

// =============================================================================
// EXPORT STORE
// =============================================================================

func (s *Store) InsertExport(ctx context.Context, rec billing.PayrollExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertExportTx(ctx, s.db, rec)
}

func (s *Store) insertExportTx(ctx context.Context, db execer, rec billing.PayrollExportRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO payroll_exports
		 (id, billing_period_id, export_date, file_name, record_count, total_amount, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.BillingPeriodID,
		rec.ExportDate.String(),
		rec.FileName,
		rec.RecordCount,
		rec.TotalAmount.String(),
		rec.Status,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: period %s", billing.ErrAlreadyExported, rec.BillingPeriodID)
		}
		return fmt.Errorf("failed to insert export record: %w", err)
	}
	return nil
}

func (s *Store) ExportByPeriod(ctx context.Context, periodID billing.PeriodID) (*billing.PayrollExportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportByPeriod(ctx, periodID)
}

func (s *Store) exportByPeriod(ctx context.Context, periodID billing.PeriodID) (*billing.PayrollExportRecord, error) {
	recs, err := s.queryExports(ctx,
		`SELECT id, billing_period_id, export_date, file_name, record_count, total_amount, status
		 FROM payroll_exports WHERE billing_period_id = ?`, periodID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *Store) ListExports(ctx context.Context) ([]billing.PayrollExportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryExports(ctx,
		`SELECT id, billing_period_id, export_date, file_name, record_count, total_amount, status
		 FROM payroll_exports ORDER BY export_date DESC, id DESC`)
}

func (s *Store) queryExports(ctx context.Context, query string, args ...any) ([]billing.PayrollExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()

	var recs []billing.PayrollExportRecord
	for rows.Next() {
		var (
			rec        billing.PayrollExportRecord
			exportDate string
			total      string
		)
		if err := rows.Scan(&rec.ID, &rec.BillingPeriodID, &exportDate, &rec.FileName,
			&rec.RecordCount, &total, &rec.Status); err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		if rec.ExportDate, err = billing.ParseDate(exportDate); err != nil {
			return nil, fmt.Errorf("corrupt export_date %q: %w", exportDate, err)
		}
		if rec.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("corrupt total_amount %q: %w", total, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// SOURCE STORE (housing + transport registries)
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a billing.RoomAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endDate sql.NullString
	if a.EndDate != nil {
		endDate = sql.NullString{String: a.EndDate.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_assignments (id, staff_id, room_id, start_date, end_date, status, monthly_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			staff_id = excluded.staff_id,
			room_id = excluded.room_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			monthly_rate = excluded.monthly_rate`,
		a.ID, a.StaffID, a.RoomID, a.StartDate.String(), endDate, a.Status, a.MonthlyRate.String())
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *Store) ActiveAssignmentsIntersecting(ctx context.Context, dates billing.Interval) ([]billing.RoomAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Open-ended assignments (NULL end_date) intersect anything at or
	// after their start.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, staff_id, room_id, start_date, end_date, status, monthly_rate
		 FROM room_assignments
		 WHERE status = ? AND start_date <= ?
		   AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY id ASC`,
		billing.AssignmentActive, dates.End.String(), dates.Start.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []billing.RoomAssignment
	for rows.Next() {
		var (
			a     billing.RoomAssignment
			start string
			end   sql.NullString
			rate  string
		)
		if err := rows.Scan(&a.ID, &a.StaffID, &a.RoomID, &start, &end, &a.Status, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if a.StartDate, err = billing.ParseDate(start); err != nil {
			return nil, fmt.Errorf("corrupt start_date %q: %w", start, err)
		}
		if end.Valid {
			tp, perr := billing.ParseDate(end.String)
			if perr != nil {
				return nil, fmt.Errorf("corrupt end_date %q: %w", end.String, perr)
			}
			a.EndDate = &tp
		}
		if a.MonthlyRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("corrupt monthly_rate %q: %w", rate, err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (s *Store) SaveTrip(ctx context.Context, t billing.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	passengersJSON, err := json.Marshal(t.Passengers)
	if err != nil {
		return fmt.Errorf("failed to encode passengers: %w", err)
	}

	var cost sql.NullString
	if t.Cost != nil {
		cost = sql.NullString{String: t.Cost.String(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trips (id, trip_date, cost, status, passengers_json)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			trip_date = excluded.trip_date,
			cost = excluded.cost,
			status = excluded.status,
			passengers_json = excluded.passengers_json`,
		t.ID, t.Date.String(), cost, t.Status, string(passengersJSON))
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}
	return nil
}

func (s *Store) CompletedTripsIn(ctx context.Context, dates billing.Interval) ([]billing.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trip_date, cost, status, passengers_json
		 FROM trips
		 WHERE status = ? AND trip_date >= ? AND trip_date <= ?
		 ORDER BY trip_date ASC, id ASC`,
		billing.TripCompleted, dates.Start.String(), dates.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []billing.Trip
	for rows.Next() {
		var (
			t          billing.Trip
			date       string
			cost       sql.NullString
			passengers string
		)
		if err := rows.Scan(&t.ID, &date, &cost, &t.Status, &passengers); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		if t.Date, err = billing.ParseDate(date); err != nil {
			return nil, fmt.Errorf("corrupt trip_date %q: %w", date, err)
		}
		if cost.Valid {
			d, perr := decimal.NewFromString(cost.String)
			if perr != nil {
				return nil, fmt.Errorf("corrupt cost %q: %w", cost.String, perr)
			}
			t.Cost = &d
		}
		if err := json.Unmarshal([]byte(passengers), &t.Passengers); err != nil {
			return nil, fmt.Errorf("corrupt passengers_json: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// =============================================================================
// STAFF DIRECTORY
// =============================================================================

func (s *Store) SaveStaff(ctx context.Context, m billing.StaffMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO staff (id, employee_id, first_name, last_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name`,
		m.ID, m.EmployeeID, m.FirstName, m.LastName)
	if err != nil {
		return fmt.Errorf("failed to save staff: %w", err)
	}
	return nil
}

func (s *Store) GetStaff(ctx context.Context, id billing.StaffID) (*billing.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getStaff(ctx, id)
}

func (s *Store) getStaff(ctx context.Context, id billing.StaffID) (*billing.StaffMember, error) {
	var m billing.StaffMember
	err := s.db.QueryRowContext(ctx,
		`SELECT id, employee_id, first_name, last_name FROM staff WHERE id = ?`, id,
	).Scan(&m.ID, &m.EmployeeID, &m.FirstName, &m.LastName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListStaff(ctx context.Context) ([]billing.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, employee_id, first_name, last_name FROM staff ORDER BY employee_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []billing.StaffMember
	for rows.Next() {
		var m billing.StaffMember
		if err := rows.Scan(&m.ID, &m.EmployeeID, &m.FirstName, &m.LastName); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction. The wrapped
// store routes writes through the transaction and reads through the parent
// connection (WAL mode keeps readers unblocked).
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes writes through the open transaction. The parent's mutex
// is held by WithTx for the duration, so delegated reads use the parent's
// non-locking helpers.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) InsertExport(ctx context.Context, rec billing.PayrollExportRecord) error {
	return ts.parent.insertExportTx(ctx, ts.tx, rec)
}

func (ts *txStore) UpdatePeriodStatus(ctx context.Context, id billing.PeriodID, from, to billing.PeriodStatus, exportDate *billing.TimePoint) error {
	return ts.parent.updatePeriodStatusTx(ctx, ts.tx, id, from, to, exportDate)
}

func (ts *txStore) InsertCharge(ctx context.Context, c billing.Charge) error {
	return insertCharge(ctx, ts.tx, c)
}

func (ts *txStore) SavePeriod(ctx context.Context, p billing.BillingPeriod) error {
	_, err := ts.tx.ExecContext(ctx,
		`INSERT INTO billing_periods (id, start_date, end_date, status, payroll_export_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Dates.Start.String(), p.Dates.End.String(), p.Status,
		nullTimePoint(p.PayrollExportDate), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

func (ts *txStore) GetPeriod(ctx context.Context, id billing.PeriodID) (*billing.BillingPeriod, error) {
	return ts.parent.getPeriod(ctx, id)
}

func (ts *txStore) ListPeriods(ctx context.Context) ([]billing.BillingPeriod, error) {
	return nil, errNotInTx("ListPeriods")
}

func (ts *txStore) FindOverlapping(ctx context.Context, dates billing.Interval) (*billing.BillingPeriod, error) {
	return nil, errNotInTx("FindOverlapping")
}

func (ts *txStore) UpdateCharge(ctx context.Context, c billing.Charge) error {
	return errNotInTx("UpdateCharge")
}

func (ts *txStore) DeleteCharge(ctx context.Context, id billing.ChargeID) error {
	return errNotInTx("DeleteCharge")
}

func (ts *txStore) GetCharge(ctx context.Context, id billing.ChargeID) (*billing.Charge, error) {
	return ts.parent.getCharge(ctx, id)
}

func (ts *txStore) ChargesByPeriod(ctx context.Context, periodID billing.PeriodID) ([]billing.Charge, error) {
	return ts.parent.chargesByPeriod(ctx, periodID)
}

func (ts *txStore) ChargesByStaff(ctx context.Context, staffID billing.StaffID) ([]billing.Charge, error) {
	return nil, errNotInTx("ChargesByStaff")
}

func (ts *txStore) ExportByPeriod(ctx context.Context, periodID billing.PeriodID) (*billing.PayrollExportRecord, error) {
	return ts.parent.exportByPeriod(ctx, periodID)
}

func (ts *txStore) ListExports(ctx context.Context) ([]billing.PayrollExportRecord, error) {
	return nil, errNotInTx("ListExports")
}

func (ts *txStore) ActiveAssignmentsIntersecting(ctx context.Context, dates billing.Interval) ([]billing.RoomAssignment, error) {
	return nil, errNotInTx("ActiveAssignmentsIntersecting")
}

func (ts *txStore) CompletedTripsIn(ctx context.Context, dates billing.Interval) ([]billing.Trip, error) {
	return nil, errNotInTx("CompletedTripsIn")
}

func (ts *txStore) SaveAssignment(ctx context.Context, a billing.RoomAssignment) error {
	return errNotInTx("SaveAssignment")
}

func (ts *txStore) SaveTrip(ctx context.Context, t billing.Trip) error {
	return errNotInTx("SaveTrip")
}

func (ts *txStore) SaveStaff(ctx context.Context, m billing.StaffMember) error {
	return errNotInTx("SaveStaff")
}

func (ts *txStore) GetStaff(ctx context.Context, id billing.StaffID) (*billing.StaffMember, error) {
	return ts.parent.getStaff(ctx, id)
}

func (ts *txStore) ListStaff(ctx context.Context) ([]billing.StaffMember, error) {
	return nil, errNotInTx("ListStaff")
}

func errNotInTx(op string) error {
	return fmt.Errorf("%s is not supported inside a store transaction", op)
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePoint(tp *billing.TimePoint) sql.NullString {
	if tp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
