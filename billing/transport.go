/*
transport.go - Transport charge generator

PURPOSE:
  Turns completed trips into per-passenger transport charges. A trip is
  atomic to a single day, so no proration applies: each passenger owes an
  even split of the trip cost at factor 1.

SKIPS (documented, not errors):
  - Trips with no recorded cost
  - Trips with zero passengers
  Both are logged and counted; the operator can backfill the trip record
  and re-run generation.

SEE ALSO:
  - housing.go: The prorated generator
  - engine.go: Lifecycle guard around generation runs
*/
package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransportGenerator converts completed trips into transport charges.
type TransportGenerator struct {
	Sources SourceStore
	Charges ChargeStore
	Staff   StaffDirectory
}

// Generate creates one charge per passenger for every completed trip dated
// within the period.
func (g *TransportGenerator) Generate(ctx context.Context, period BillingPeriod) (GenerationReport, error) {
	report := GenerationReport{PeriodID: period.ID}

	trips, err := g.Sources.CompletedTripsIn(ctx, period.Dates)
	if err != nil {
		return report, fmt.Errorf("failed to load trips: %w", err)
	}

	for _, trip := range trips {
		if trip.Cost == nil || !trip.Cost.IsPositive() {
			log.Printf("[Transport] trip %s: no recorded cost, skipping", trip.ID)
			report.ZeroSkips++
			continue
		}
		if len(trip.Passengers) == 0 {
			log.Printf("[Transport] trip %s: no passengers, skipping", trip.ID)
			report.ZeroSkips++
			continue
		}

		costPerPassenger := trip.Cost.Div(decimal.NewFromInt(int64(len(trip.Passengers))))

		for _, staffID := range trip.Passengers {
			staff, err := g.Staff.GetStaff(ctx, staffID)
			if err != nil {
				report.Fail(trip.ID, fmt.Sprintf("staff lookup failed: %v", err))
				continue
			}
			if staff == nil {
				report.Fail(trip.ID, fmt.Sprintf("passenger %s not found", staffID))
				continue
			}

			charge := Charge{
				ID:              ChargeID(uuid.NewString()),
				StaffID:         staffID,
				BillingPeriodID: period.ID,
				Type:            ChargeTransport,
				Amount:          costPerPassenger,
				ProrationFactor: decimal.NewFromInt(1),
				Description:     fmt.Sprintf("Transport on %s (1/%d of trip cost)", trip.Date, len(trip.Passengers)),
				SourceID:        trip.ID,
				CreatedAt:       Today(),
			}

			switch err := g.Charges.InsertCharge(ctx, charge); {
			case err == nil:
				report.Created++
			case IsConflict(err):
				report.Duplicates++
			default:
				report.Fail(trip.ID, fmt.Sprintf("failed to insert charge for %s: %v", staffID, err))
			}
		}
	}

	return report, nil
}
