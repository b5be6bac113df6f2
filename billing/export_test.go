package billing_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
)

// completedPeriod creates a period and forces it into the completed state.
func completedPeriod(t *testing.T, engine *billing.Engine, mem *store.Memory, dates billing.Interval) *billing.BillingPeriod {
	t.Helper()
	p := mustCreatePeriod(t, engine, dates)
	p.Status = billing.StatusCompleted
	require.NoError(t, mem.SavePeriod(context.Background(), *p))
	return p
}

func addCharge(t *testing.T, engine *billing.Engine, p *billing.BillingPeriod, staff billing.StaffID, typ billing.ChargeType, amount string) {
	t.Helper()
	_, err := engine.AddCharge(context.Background(), billing.Charge{
		StaffID:         staff,
		BillingPeriodID: p.ID,
		Type:            typ,
		Amount:          money(amount),
	})
	require.NoError(t, err)
}

func TestBuildExport_GroupsAndBucketsPerStaff(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedStaff(t, mem, "staff-b", "E002")
	seedStaff(t, mem, "staff-a", "E001")
	p := completedPeriod(t, engine, mem, january2024())

	addCharge(t, engine, p, "staff-b", billing.ChargeRent, "400")
	addCharge(t, engine, p, "staff-b", billing.ChargeUtilities, "55.50")
	addCharge(t, engine, p, "staff-b", billing.ChargeTransport, "12.25")
	addCharge(t, engine, p, "staff-a", billing.ChargeRent, "300")
	addCharge(t, engine, p, "staff-a", billing.ChargeOther, "20")

	rows, err := engine.BuildExport(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Sorted by employee ID ascending.
	assert.Equal(t, "E001", rows[0].EmployeeID)
	assert.Equal(t, "E002", rows[1].EmployeeID)

	assert.Equal(t, "320.00", rows[0].TotalDeductions.StringFixed(2))
	assert.Equal(t, "300.00", rows[0].RentCharges.StringFixed(2))
	assert.Equal(t, "20.00", rows[0].OtherCharges.StringFixed(2))
	assert.Equal(t, "0.00", rows[0].UtilityCharges.StringFixed(2))

	assert.Equal(t, "467.75", rows[1].TotalDeductions.StringFixed(2))
	assert.Equal(t, "400.00", rows[1].RentCharges.StringFixed(2))
	assert.Equal(t, "55.50", rows[1].UtilityCharges.StringFixed(2))
	assert.Equal(t, "12.25", rows[1].TransportCharges.StringFixed(2))

	assert.Equal(t, "2024-01-01 - 2024-01-31", rows[0].BillingPeriodLabel)
}

func TestBuildExport_AppliesProrationFactor(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedStaff(t, mem, "staff-1", "E001")
	end := date(2024, time.January, 25)
	seedAssignment(t, mem, billing.RoomAssignment{
		ID: "assign-1", StaffID: "staff-1", RoomID: "room-101",
		StartDate: date(2024, time.January, 10), EndDate: &end, MonthlyRate: money("500"),
	})

	p := mustCreatePeriod(t, engine, january2024())
	_, err := engine.RunGeneration(ctx, p.ID)
	require.NoError(t, err)

	rows, err := engine.BuildExport(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "258.06", rows[0].TotalDeductions.StringFixed(2))
}

func TestBuildExport_Reproducible(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedStaff(t, mem, "staff-1", "E001")
	seedStaff(t, mem, "staff-2", "E002")
	p := completedPeriod(t, engine, mem, january2024())
	addCharge(t, engine, p, "staff-1", billing.ChargeRent, "300")
	addCharge(t, engine, p, "staff-2", billing.ChargeRent, "400")

	first, err := engine.BuildExport(ctx, p.ID)
	require.NoError(t, err)
	second, err := engine.BuildExport(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCommitExport_LocksPeriodAndRecordsArtifact(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedStaff(t, mem, "staff-1", "E001")
	p := completedPeriod(t, engine, mem, january2024())
	addCharge(t, engine, p, "staff-1", billing.ChargeRent, "300")

	rec, err := engine.CommitExport(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 1, rec.RecordCount)
	assert.Equal(t, "300.00", rec.TotalAmount.StringFixed(2))
	assert.Equal(t, billing.ExportCompleted, rec.Status)
	assert.Equal(t, "payroll_export_2024-01-01_2024-01-31.csv", rec.FileName)

	loaded, err := mem.GetPeriod(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExported, loaded.Status)
	require.NotNil(t, loaded.PayrollExportDate)

	// The period is now locked against every mutation.
	_, err = engine.AddCharge(ctx, billing.Charge{
		StaffID:         "staff-1",
		BillingPeriodID: p.ID,
		Type:            billing.ChargeOther,
		Amount:          money("5"),
	})
	assert.ErrorIs(t, err, billing.ErrLockedPeriod)
}

func TestCommitExport_ConcurrentCommitsProduceOneRecord(t *testing.T) {
	// Concurrent commits for the same period: exactly one record, the
	// losers get the already-exported conflict.
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedStaff(t, mem, "staff-1", "E001")
	p := completedPeriod(t, engine, mem, january2024())
	addCharge(t, engine, p, "staff-1", billing.ChargeRent, "300")

	const attempts = 4
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.CommitExport(ctx, p.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, billing.ErrAlreadyExported):
		default:
			t.Errorf("attempt %d: unexpected error %v", i, err)
		}
	}
	assert.Equal(t, 1, winners)

	recs, err := mem.ListExports(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryStore_OneExportPerPeriod(t *testing.T) {
	// The memory store enforces the same one-record-per-period
	// constraint as the SQLite schema.
	mem := store.NewMemory()
	ctx := context.Background()

	rec := billing.PayrollExportRecord{
		ID:              "exp-1",
		BillingPeriodID: "p-1",
		ExportDate:      billing.Today(),
		FileName:        "payroll_export_2024-01-01_2024-01-31.csv",
		TotalAmount:     money("300"),
		Status:          billing.ExportCompleted,
	}
	require.NoError(t, mem.InsertExport(ctx, rec))

	rec.ID = "exp-2"
	err := mem.InsertExport(ctx, rec)
	assert.ErrorIs(t, err, billing.ErrAlreadyExported)

	recs, err := mem.ListExports(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCommitExport_SecondCommitFailsWithPriorExport(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedStaff(t, mem, "staff-1", "E001")
	p := completedPeriod(t, engine, mem, january2024())
	addCharge(t, engine, p, "staff-1", billing.ChargeRent, "300")

	first, err := engine.CommitExport(ctx, p.ID)
	require.NoError(t, err)

	_, err = engine.CommitExport(ctx, p.ID)
	var already *billing.AlreadyExportedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, first.ID, already.ExportID)

	// Still exactly one record on file.
	recs, err := mem.ListExports(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCommitExport_RequiresCompletedState(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	p := mustCreatePeriod(t, engine, january2024())

	_, err := engine.CommitExport(ctx, p.ID)
	assert.ErrorIs(t, err, billing.ErrNotCompleted)
}

func TestCommitExport_ZeroChargePeriod(t *testing.T) {
	// A completed period with no charges still exports: zero rows,
	// zero total, and the lock still engages.
	engine, mem := newTestEngine()
	ctx := context.Background()

	p := completedPeriod(t, engine, mem, january2024())

	rec, err := engine.CommitExport(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RecordCount)
	assert.True(t, rec.TotalAmount.IsZero())

	loaded, err := mem.GetPeriod(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExported, loaded.Status)
}

func TestCommitExport_UnknownPeriod(t *testing.T) {
	engine, _ := newTestEngine()
	_, err := engine.CommitExport(context.Background(), "missing")
	assert.True(t, errors.Is(err, billing.ErrPeriodNotFound))
}

func TestRenderCSV(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	seedStaff(t, mem, "staff-1", "E001")
	seedStaff(t, mem, "staff-2", "E002")
	seedStaff(t, mem, "staff-3", "E003")
	cost := money("30")
	seedTrip(t, mem, billing.Trip{
		ID:         "trip-1",
		Date:       date(2024, time.January, 12),
		Cost:       &cost,
		Passengers: []billing.StaffID{"staff-1", "staff-2", "staff-3"},
	})

	p := mustCreatePeriod(t, engine, january2024())
	_, err := engine.RunGeneration(ctx, p.ID)
	require.NoError(t, err)

	rows, err := engine.BuildExport(ctx, p.ID)
	require.NoError(t, err)

	data, err := billing.RenderCSV(rows)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t,
		"Employee ID,First Name,Last Name,Total Deductions,Rent Charges,Utility Charges,Transport Charges,Other Charges,Billing Period",
		lines[0])
	for _, line := range lines[1:] {
		assert.Contains(t, line, "10.00")
		assert.Contains(t, line, "2024-01-01 - 2024-01-31")
	}
}
