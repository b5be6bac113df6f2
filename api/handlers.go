/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes billing period processing via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the billing
  engine and store.

ENDPOINTS:
  Periods:
    GET    /api/periods                    List billing periods
    POST   /api/periods                    Create a draft period
    GET    /api/periods/{id}               Get period details
    POST   /api/periods/{id}/cancel        Cancel a draft/processing period
    POST   /api/periods/{id}/generate      Run batch charge generation
    GET    /api/periods/{id}/charges       List a period's charges
    GET    /api/periods/{id}/export        Preview payroll export rows
    POST   /api/periods/{id}/export        Commit the payroll export
    GET    /api/periods/{id}/export.csv    Download the export as CSV

  Charges:
    POST   /api/charges                    Add a manual charge
    PUT    /api/charges/{id}               Correct a charge
    DELETE /api/charges/{id}               Remove a charge

  Exports:
    GET    /api/exports                    Export history

  Collaborator data (thin ingestion, not core scope):
    GET/POST /api/staff                    Staff directory
    GET      /api/staff/{id}/charges       Staff self-service charge view
    POST     /api/assignments              Room assignment records
    POST     /api/trips                    Trip records

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (locked period, overlap, double export)
  - 500: Internal errors
  A partial generation run returns 200 with partial=true and the skipped
  sources; the period stays in processing for an idempotent retry.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - billing/engine.go: The domain logic behind every mutation
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *billing.Engine
	Store  billing.TxStore
}

// NewHandler creates a new handler around a store.
func NewHandler(store billing.TxStore) *Handler {
	return &Handler{
		Engine: billing.NewEngine(store),
		Store:  store,
	}
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns all billing periods.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Store.ListPeriods(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
		return
	}

	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePeriod creates a new draft billing period.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := billing.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}

	p, err := h.Engine.CreatePeriod(r.Context(), billing.Interval{Start: start, End: end})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(*p))
}

// GetPeriod returns a single billing period.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id := billing.PeriodID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPeriod(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

// CancelPeriod cancels a draft or processing period.
func (h *Handler) CancelPeriod(w http.ResponseWriter, r *http.Request) {
	id := billing.PeriodID(chi.URLParam(r, "id"))

	if err := h.Engine.CancelPeriod(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	p, err := h.Store.GetPeriod(r.Context(), id)
	if err != nil || p == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

// =============================================================================
// GENERATION
// =============================================================================

// TriggerGeneration runs the housing and transport charge generators for a
// period. A partial failure returns 200 with partial=true; the period
// stays in processing and the run can be retried.
func (h *Handler) TriggerGeneration(w http.ResponseWriter, r *http.Request) {
	id := billing.PeriodID(chi.URLParam(r, "id"))

	report, err := h.Engine.RunGeneration(r.Context(), id)

	var partial *billing.PartialGenerationError
	if err != nil && !errors.As(err, &partial) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerationReportDTO(report))
}

// =============================================================================
// CHARGE HANDLERS
// =============================================================================

// ListPeriodCharges returns all charges owned by a period. Totals for a
// processing period are provisional.
func (h *Handler) ListPeriodCharges(w http.ResponseWriter, r *http.Request) {
	id := billing.PeriodID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPeriod(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}

	charges, err := h.Store.ChargesByPeriod(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTOs(charges))
}

// ListStaffCharges returns all charges for one staff member.
func (h *Handler) ListStaffCharges(w http.ResponseWriter, r *http.Request) {
	id := billing.StaffID(chi.URLParam(r, "id"))

	charges, err := h.Store.ChargesByStaff(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTOs(charges))
}

// CreateCharge adds a manual charge to a period.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req CreateChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	factor := decimal.Zero
	if req.ProrationFactor != "" {
		if factor, err = decimal.NewFromString(req.ProrationFactor); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid proration_factor", err)
			return
		}
	}

	charge, err := h.Engine.AddCharge(r.Context(), billing.Charge{
		StaffID:         billing.StaffID(req.StaffID),
		BillingPeriodID: billing.PeriodID(req.BillingPeriodID),
		Type:            billing.ChargeType(req.Type),
		Amount:          amount,
		ProrationFactor: factor,
		Description:     req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChargeDTO(*charge))
}

// UpdateCharge corrects an existing charge.
func (h *Handler) UpdateCharge(w http.ResponseWriter, r *http.Request) {
	id := billing.ChargeID(chi.URLParam(r, "id"))

	var req UpdateChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	factor := decimal.Zero
	if req.ProrationFactor != "" {
		if factor, err = decimal.NewFromString(req.ProrationFactor); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid proration_factor", err)
			return
		}
	}

	charge, err := h.Engine.UpdateCharge(r.Context(), billing.Charge{
		ID:              id,
		Type:            billing.ChargeType(req.Type),
		Amount:          amount,
		ProrationFactor: factor,
		Description:     req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*charge))
}

// DeleteCharge removes a charge from an unlocked period.
func (h *Handler) DeleteCharge(w http.ResponseWriter, r *http.Request) {
	id := billing.ChargeID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteCharge(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPORT HANDLERS
// =============================================================================

// PreviewExport returns the payroll rows a commit would produce. Legal in
// any state; rows for a processing period are provisional.
func (h *Handler) PreviewExport(w http.ResponseWriter, r *http.Request) {
	id := billing.PeriodID(chi.URLParam(r, "id"))

	rows, err := h.Engine.BuildExport(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExportRowDTOs(rows))
}

// CommitExport locks the period and records the export artifact.
func (h *Handler) CommitExport(w http.ResponseWriter, r *http.Request) {
	id := billing.PeriodID(chi.URLParam(r, "id"))

	rec, err := h.Engine.CommitExport(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExportRecordDTO(*rec))
}

// DownloadExportCSV streams the export rows in the payroll CSV format.
func (h *Handler) DownloadExportCSV(w http.ResponseWriter, r *http.Request) {
	id := billing.PeriodID(chi.URLParam(r, "id"))

	rows, err := h.Engine.BuildExport(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	data, err := billing.RenderCSV(rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render CSV", err)
		return
	}

	fileName := "payroll_export.csv"
	if rec, err := h.Store.ExportByPeriod(r.Context(), id); err == nil && rec != nil {
		fileName = rec.FileName
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ListExports returns the export history, newest first.
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.ListExports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list exports", err)
		return
	}

	dtos := make([]ExportRecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toExportRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COLLABORATOR DATA HANDLERS
// =============================================================================

// ListStaff returns the staff directory.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListStaff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list staff", err)
		return
	}

	dtos := make([]StaffDTO, len(members))
	for i, m := range members {
		dtos[i] = StaffDTO{
			ID:         string(m.ID),
			EmployeeID: m.EmployeeID,
			FirstName:  m.FirstName,
			LastName:   m.LastName,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveStaff upserts a staff directory entry.
func (h *Handler) SaveStaff(w http.ResponseWriter, r *http.Request) {
	var req SaveStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "id and employee_id are required", nil)
		return
	}

	m := billing.StaffMember{
		ID:         billing.StaffID(req.ID),
		EmployeeID: req.EmployeeID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	}
	if err := h.Store.SaveStaff(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, StaffDTO{
		ID:         req.ID,
		EmployeeID: req.EmployeeID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
}

// SaveAssignment upserts a room assignment source record.
func (h *Handler) SaveAssignment(w http.ResponseWriter, r *http.Request) {
	var req SaveAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	a := billing.RoomAssignment{
		ID:        billing.SourceID(req.ID),
		StaffID:   billing.StaffID(req.StaffID),
		RoomID:    req.RoomID,
		StartDate: start,
		Status:    billing.AssignmentStatus(req.Status),
	}
	if req.EndDate != nil {
		end, err := billing.ParseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		a.EndDate = &end
	}
	if a.MonthlyRate, err = decimal.NewFromString(req.MonthlyRate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid monthly_rate", err)
		return
	}

	if err := h.Store.SaveAssignment(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// SaveTrip upserts a trip source record.
func (h *Handler) SaveTrip(w http.ResponseWriter, r *http.Request) {
	var req SaveTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := billing.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	t := billing.Trip{
		ID:     billing.SourceID(req.ID),
		Date:   date,
		Status: billing.TripStatus(req.Status),
	}
	if req.Cost != nil {
		cost, err := decimal.NewFromString(*req.Cost)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cost", err)
			return
		}
		t.Cost = &cost
	}
	for _, p := range req.Passengers {
		t.Passengers = append(t.Passengers, billing.StaffID(p))
	}

	if err := h.Store.SaveTrip(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save trip", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps billing error classes to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case billing.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
