/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary values cross the wire as strings ("258.06") so clients never
  see float artifacts. Proration factors are strings for the same reason.

VALIDATION:
  Validation is done in handlers and the billing engine, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: The domain model these project
*/
package api

import (
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// PERIODS
// =============================================================================

// PeriodDTO represents a billing period in API responses.
type PeriodDTO struct {
	ID                string  `json:"id"`
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	Status            string  `json:"status"`
	PayrollExportDate *string `json:"payroll_export_date,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
}

// CreatePeriodRequest is the request to create a billing period.
type CreatePeriodRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func toPeriodDTO(p billing.BillingPeriod) PeriodDTO {
	dto := PeriodDTO{
		ID:        string(p.ID),
		StartDate: p.Dates.Start.String(),
		EndDate:   p.Dates.End.String(),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt.String(),
	}
	if p.PayrollExportDate != nil {
		d := p.PayrollExportDate.String()
		dto.PayrollExportDate = &d
	}
	return dto
}

// =============================================================================
// CHARGES
// =============================================================================

// ChargeDTO represents a charge in API responses. EffectiveAmount is
// amount * proration_factor, the value payroll will deduct.
type ChargeDTO struct {
	ID              string `json:"id"`
	StaffID         string `json:"staff_id"`
	BillingPeriodID string `json:"billing_period_id"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	ProrationFactor string `json:"proration_factor"`
	EffectiveAmount string `json:"effective_amount"`
	Description     string `json:"description,omitempty"`
	SourceID        string `json:"source_id,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateChargeRequest is the request to add a manual charge.
type CreateChargeRequest struct {
	StaffID         string `json:"staff_id"`
	BillingPeriodID string `json:"billing_period_id"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	ProrationFactor string `json:"proration_factor,omitempty"`
	Description     string `json:"description,omitempty"`
}

// UpdateChargeRequest is the request to correct a charge. Ownership and
// provenance fields are immutable and therefore absent.
type UpdateChargeRequest struct {
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	ProrationFactor string `json:"proration_factor,omitempty"`
	Description     string `json:"description,omitempty"`
}

func toChargeDTO(c billing.Charge) ChargeDTO {
	return ChargeDTO{
		ID:              string(c.ID),
		StaffID:         string(c.StaffID),
		BillingPeriodID: string(c.BillingPeriodID),
		Type:            string(c.Type),
		Amount:          c.Amount.StringFixed(2),
		ProrationFactor: c.ProrationFactor.String(),
		EffectiveAmount: c.EffectiveAmount().StringFixed(2),
		Description:     c.Description,
		SourceID:        string(c.SourceID),
		CreatedAt:       c.CreatedAt.String(),
	}
}

func toChargeDTOs(charges []billing.Charge) []ChargeDTO {
	dtos := make([]ChargeDTO, len(charges))
	for i, c := range charges {
		dtos[i] = toChargeDTO(c)
	}
	return dtos
}

// =============================================================================
// GENERATION
// =============================================================================

// SkippedSourceDTO names a source record that failed to convert and why.
type SkippedSourceDTO struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// GenerationReportDTO summarizes a batch generation run. Partial is true
// when some sources failed; the period then remains in processing and the
// run can be retried idempotently.
type GenerationReportDTO struct {
	PeriodID   string             `json:"period_id"`
	Status     string             `json:"status"`
	Created    int                `json:"created"`
	Duplicates int                `json:"duplicates"`
	ZeroSkips  int                `json:"zero_skips"`
	Partial    bool               `json:"partial"`
	Skipped    []SkippedSourceDTO `json:"skipped,omitempty"`
}

func toGenerationReportDTO(r billing.GenerationReport) GenerationReportDTO {
	dto := GenerationReportDTO{
		PeriodID:   string(r.PeriodID),
		Status:     string(r.Status),
		Created:    r.Created,
		Duplicates: r.Duplicates,
		ZeroSkips:  r.ZeroSkips,
		Partial:    len(r.Skipped) > 0,
	}
	for _, s := range r.Skipped {
		dto.Skipped = append(dto.Skipped, SkippedSourceDTO{SourceID: string(s.SourceID), Reason: s.Reason})
	}
	return dto
}

// =============================================================================
// EXPORTS
// =============================================================================

// ExportRowDTO is one staff member's aggregate in an export preview.
type ExportRowDTO struct {
	EmployeeID         string `json:"employee_id"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	TotalDeductions    string `json:"total_deductions"`
	RentCharges        string `json:"rent_charges"`
	UtilityCharges     string `json:"utility_charges"`
	TransportCharges   string `json:"transport_charges"`
	OtherCharges       string `json:"other_charges"`
	BillingPeriodLabel string `json:"billing_period"`
}

// ExportRecordDTO represents a committed export in the history view.
type ExportRecordDTO struct {
	ID              string `json:"id"`
	BillingPeriodID string `json:"billing_period_id"`
	ExportDate      string `json:"export_date"`
	FileName        string `json:"file_name"`
	RecordCount     int    `json:"record_count"`
	TotalAmount     string `json:"total_amount"`
	Status          string `json:"status"`
}

func toExportRowDTOs(rows []billing.PayrollExportRow) []ExportRowDTO {
	dtos := make([]ExportRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = ExportRowDTO{
			EmployeeID:         row.EmployeeID,
			FirstName:          row.FirstName,
			LastName:           row.LastName,
			TotalDeductions:    row.TotalDeductions.StringFixed(2),
			RentCharges:        row.RentCharges.StringFixed(2),
			UtilityCharges:     row.UtilityCharges.StringFixed(2),
			TransportCharges:   row.TransportCharges.StringFixed(2),
			OtherCharges:       row.OtherCharges.StringFixed(2),
			BillingPeriodLabel: row.BillingPeriodLabel,
		}
	}
	return dtos
}

func toExportRecordDTO(rec billing.PayrollExportRecord) ExportRecordDTO {
	return ExportRecordDTO{
		ID:              string(rec.ID),
		BillingPeriodID: string(rec.BillingPeriodID),
		ExportDate:      rec.ExportDate.String(),
		FileName:        rec.FileName,
		RecordCount:     rec.RecordCount,
		TotalAmount:     rec.TotalAmount.StringFixed(2),
		Status:          string(rec.Status),
	}
}

// =============================================================================
// COLLABORATOR DATA
// =============================================================================

// StaffDTO represents a staff directory entry.
type StaffDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// SaveStaffRequest upserts a staff directory entry.
type SaveStaffRequest struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// SaveAssignmentRequest upserts a room assignment source record.
type SaveAssignmentRequest struct {
	ID          string  `json:"id"`
	StaffID     string  `json:"staff_id"`
	RoomID      string  `json:"room_id"`
	StartDate   string  `json:"start_date"`
	EndDate     *string `json:"end_date,omitempty"`
	Status      string  `json:"status"`
	MonthlyRate string  `json:"monthly_rate"`
}

// SaveTripRequest upserts a trip source record.
type SaveTripRequest struct {
	ID         string   `json:"id"`
	Date       string   `json:"date"`
	Cost       *string  `json:"cost,omitempty"`
	Status     string   `json:"status"`
	Passengers []string `json:"passengers"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
