/*
export.go - Payroll export builder

PURPOSE:
  Aggregates a period's charges into one row per staff member and commits
  an immutable PayrollExportRecord, locking the period against further
  mutation.

TWO PHASES:
  BuildExport:  pure read - computes rows fresh from charge rows; legal in
                any state so operators can preview provisional totals
  CommitExport: legal only from completed; writes the export record and
                flips the period to exported in ONE store transaction, so
                the record and the status can never diverge

REPRODUCIBILITY:
  Rows are sorted by employee identifier ascending. Re-building from the
  same charges always yields identical output; the committed record pins
  recordCount and totalAmount for audit.

CSV:
  Header: Employee ID, First Name, Last Name, Total Deductions,
  Rent Charges, Utility Charges, Transport Charges, Other Charges,
  Billing Period. Monetary values to two decimal places.

SEE ALSO:
  - engine.go: Shares the per-period lock with generation
  - store.go: TxStore.WithTx used for the atomic commit
*/
package billing

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuildExport computes the payroll rows for a period: one row per staff
// member with at least one charge, sorted by employee ID ascending. This
// is a read; a processing period's rows are provisional.
func (e *Engine) BuildExport(ctx context.Context, id PeriodID) ([]PayrollExportRow, error) {
	p, err := e.loadPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.buildRows(ctx, p)
}

func (e *Engine) buildRows(ctx context.Context, p *BillingPeriod) ([]PayrollExportRow, error) {
	charges, err := e.store.ChargesByPeriod(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charges: %w", err)
	}

	byStaff := make(map[StaffID][]Charge)
	for _, c := range charges {
		byStaff[c.StaffID] = append(byStaff[c.StaffID], c)
	}

	label := p.Dates.Label()
	rows := make([]PayrollExportRow, 0, len(byStaff))
	for staffID, group := range byStaff {
		staff, err := e.store.GetStaff(ctx, staffID)
		if err != nil {
			return nil, fmt.Errorf("staff lookup failed: %w", err)
		}
		if staff == nil {
			return nil, fmt.Errorf("%w: staff %s has charges but no directory entry", ErrSourceMissing, staffID)
		}

		row := PayrollExportRow{
			EmployeeID:         staff.EmployeeID,
			FirstName:          staff.FirstName,
			LastName:           staff.LastName,
			BillingPeriodLabel: label,
		}
		for _, c := range group {
			effective := c.EffectiveAmount()
			row.TotalDeductions = row.TotalDeductions.Add(effective)
			switch c.Type {
			case ChargeRent:
				row.RentCharges = row.RentCharges.Add(effective)
			case ChargeUtilities:
				row.UtilityCharges = row.UtilityCharges.Add(effective)
			case ChargeTransport:
				row.TransportCharges = row.TransportCharges.Add(effective)
			default:
				row.OtherCharges = row.OtherCharges.Add(effective)
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].EmployeeID < rows[j].EmployeeID
	})
	return rows, nil
}

// CommitExport persists the export record for a completed period and
// atomically transitions the period to exported. Re-invoking on an
// exported period fails with AlreadyExportedError; no second record is
// ever produced.
func (e *Engine) CommitExport(ctx context.Context, id PeriodID) (*PayrollExportRecord, error) {
	lock := e.periodLock(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.loadPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusExported {
		prior, err := e.store.ExportByPeriod(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load prior export: %w", err)
		}
		exportID := ExportID("")
		if prior != nil {
			exportID = prior.ID
		}
		return nil, &AlreadyExportedError{PeriodID: id, ExportID: exportID}
	}
	if p.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: period %s is %s", ErrNotCompleted, id, p.Status)
	}

	rows, err := e.buildRows(ctx, p)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.TotalDeductions)
	}

	exportDate := Today()
	rec := PayrollExportRecord{
		ID:              ExportID(uuid.NewString()),
		BillingPeriodID: id,
		ExportDate:      exportDate,
		FileName:        fmt.Sprintf("payroll_export_%s_%s.csv", p.Dates.Start, p.Dates.End),
		RecordCount:     len(rows),
		TotalAmount:     total,
		Status:          ExportCompleted,
	}

	// Record write and status flip succeed or fail together.
	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertExport(ctx, rec); err != nil {
			return fmt.Errorf("failed to insert export record: %w", err)
		}
		return s.UpdatePeriodStatus(ctx, id, StatusCompleted, StatusExported, &exportDate)
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// RenderCSV serializes export rows in the payroll delivery format.
func RenderCSV(rows []PayrollExportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Employee ID", "First Name", "Last Name", "Total Deductions",
		"Rent Charges", "Utility Charges", "Transport Charges",
		"Other Charges", "Billing Period",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, row := range rows {
		record := []string{
			row.EmployeeID,
			row.FirstName,
			row.LastName,
			row.TotalDeductions.StringFixed(2),
			row.RentCharges.StringFixed(2),
			row.UtilityCharges.StringFixed(2),
			row.TransportCharges.StringFixed(2),
			row.OtherCharges.StringFixed(2),
			row.BillingPeriodLabel,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}
