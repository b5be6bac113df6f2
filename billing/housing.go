/*
housing.go - Housing charge generator

PURPOSE:
  Turns active room assignments into prorated rent charges for a billing
  period. The one caller of the proration calculator.

ALGORITHM (per assignment intersecting the period):
  1. Clamp the occupancy window to the period bounds (open-ended
     assignments extend to the period end)
  2. factor = Prorate(clamped, period); zero factor -> skip, no charge
  3. Base monthly rate comes pre-resolved on the assignment record
  4. Emit Charge{type: rent, amount: rate, prorationFactor: factor}

IDEMPOTENCY:
  The charge store's source-uniqueness constraint rejects a second charge
  for the same (period, source, staff); the generator counts the rejection
  as "already generated" and moves on. Re-running generation is therefore
  always safe.

FAILURE MODEL:
  Per-source failures (unresolved staff, missing rate, store errors) are
  collected into the report and do not abort the batch. Zero-overlap skips
  are logged, not reported as failures.

SEE ALSO:
  - proration.go: Factor computation
  - transport.go: The even-split generator (no proration)
  - engine.go: Lifecycle guard around generation runs
*/
package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// HousingGenerator converts room assignments into rent charges.
type HousingGenerator struct {
	Sources SourceStore
	Charges ChargeStore
	Staff   StaffDirectory
}

// Generate creates rent charges for every active assignment intersecting
// the period. Returns a report of what was created, what was already
// present, and which sources failed.
func (g *HousingGenerator) Generate(ctx context.Context, period BillingPeriod) (GenerationReport, error) {
	report := GenerationReport{PeriodID: period.ID}

	assignments, err := g.Sources.ActiveAssignmentsIntersecting(ctx, period.Dates)
	if err != nil {
		return report, fmt.Errorf("failed to load assignments: %w", err)
	}

	for _, a := range assignments {
		clamped := a.Window().Clamp(period.Dates)
		factor := Prorate(clamped, period.Dates)
		if factor.IsZero() {
			log.Printf("[Housing] assignment %s: no billable overlap with %s, skipping", a.ID, period.Dates)
			report.ZeroSkips++
			continue
		}

		if !a.MonthlyRate.IsPositive() {
			report.Fail(a.ID, "no monthly rate resolved for room "+a.RoomID)
			continue
		}

		staff, err := g.Staff.GetStaff(ctx, a.StaffID)
		if err != nil {
			report.Fail(a.ID, fmt.Sprintf("staff lookup failed: %v", err))
			continue
		}
		if staff == nil {
			report.Fail(a.ID, fmt.Sprintf("staff %s not found", a.StaffID))
			continue
		}

		charge := Charge{
			ID:              ChargeID(uuid.NewString()),
			StaffID:         a.StaffID,
			BillingPeriodID: period.ID,
			Type:            ChargeRent,
			Amount:          a.MonthlyRate,
			ProrationFactor: factor,
			Description:     fmt.Sprintf("Rent for room %s (%s)", a.RoomID, clamped.Label()),
			SourceID:        a.ID,
			CreatedAt:       Today(),
		}

		switch err := g.Charges.InsertCharge(ctx, charge); {
		case err == nil:
			report.Created++
		case IsConflict(err):
			// Already generated from this source on a prior run.
			report.Duplicates++
		default:
			report.Fail(a.ID, fmt.Sprintf("failed to insert charge: %v", err))
		}
	}

	return report, nil
}
