package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/warp/billing-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(NewHandler(store.NewMemory())))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("failed to decode %q: %v", data, err)
	}
	return out
}

func seedStaffHTTP(t *testing.T, base, id, employeeID string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, base+"/api/staff", SaveStaffRequest{
		ID: id, EmployeeID: employeeID, FirstName: "Test", LastName: id,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("failed to seed staff %s: status %d", id, resp.StatusCode)
	}
}

func createPeriodHTTP(t *testing.T, base, start, end string) PeriodDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/periods", CreatePeriodRequest{
		StartDate: start, EndDate: end,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("failed to create period: status %d body %s", resp.StatusCode, body)
	}
	return decode[PeriodDTO](t, body)
}

// =============================================================================
// PERIOD ENDPOINT TESTS
// =============================================================================

func TestCreateAndGetPeriod(t *testing.T) {
	srv := newTestServer(t)

	p := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")
	if p.Status != "draft" {
		t.Errorf("expected draft, got %s", p.Status)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/periods/"+p.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	loaded := decode[PeriodDTO](t, body)
	if loaded.StartDate != "2024-01-01" || loaded.EndDate != "2024-01-31" {
		t.Errorf("dates lost in round trip: %+v", loaded)
	}
}

func TestCreatePeriod_BadDatesReturn400(t *testing.T) {
	srv := newTestServer(t)

	cases := []CreatePeriodRequest{
		{StartDate: "not-a-date", EndDate: "2024-01-31"},
		{StartDate: "2024-01-31", EndDate: "2024-01-01"},
	}
	for _, req := range cases {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/periods", req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%+v: expected 400, got %d", req, resp.StatusCode)
		}
	}
}

func TestCreatePeriod_OverlapReturns409(t *testing.T) {
	srv := newTestServer(t)

	createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/periods", CreatePeriodRequest{
		StartDate: "2024-01-15", EndDate: "2024-02-15",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", resp.StatusCode, body)
	}
}

func TestGetPeriod_UnknownReturns404(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/periods/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelPeriod(t *testing.T) {
	srv := newTestServer(t)

	p := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/periods/"+p.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cancelled := decode[PeriodDTO](t, body)
	if cancelled.Status != "cancelled" {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	// The dates free up for a replacement period.
	created := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")
	if created.ID == p.ID {
		t.Error("expected a fresh period, got the cancelled one")
	}
}

// =============================================================================
// GENERATION + CHARGE FLOW TESTS
// =============================================================================

func TestGenerationFlow(t *testing.T) {
	srv := newTestServer(t)
	seedStaffHTTP(t, srv.URL, "staff-1", "E001")

	end := "2024-01-25"
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/assignments", SaveAssignmentRequest{
		ID: "assign-1", StaffID: "staff-1", RoomID: "room-101",
		StartDate: "2024-01-10", EndDate: &end, Status: "active", MonthlyRate: "500",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("failed to seed assignment: %d", resp.StatusCode)
	}

	p := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/periods/"+p.ID+"/generate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generation failed: %d body %s", resp.StatusCode, body)
	}
	report := decode[GenerationReportDTO](t, body)
	if report.Created != 1 || report.Partial {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Status != "completed" {
		t.Errorf("expected completed after clean run, got %s", report.Status)
	}

	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/periods/"+p.ID+"/charges", nil)
	charges := decode[[]ChargeDTO](t, body)
	if len(charges) != 1 {
		t.Fatalf("expected 1 charge, got %d", len(charges))
	}
	if charges[0].EffectiveAmount != "258.06" {
		t.Errorf("expected effective 258.06, got %s", charges[0].EffectiveAmount)
	}
}

func TestManualChargeLifecycle(t *testing.T) {
	srv := newTestServer(t)
	seedStaffHTTP(t, srv.URL, "staff-1", "E001")
	p := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/charges", CreateChargeRequest{
		StaffID:         "staff-1",
		BillingPeriodID: p.ID,
		Type:            "utilities",
		Amount:          "42.50",
		Description:     "Electricity surcharge",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create failed: %d body %s", resp.StatusCode, body)
	}
	created := decode[ChargeDTO](t, body)
	if created.EffectiveAmount != "42.50" {
		t.Errorf("expected 42.50, got %s", created.EffectiveAmount)
	}

	resp, body = doJSON(t, http.MethodPut, srv.URL+"/api/charges/"+created.ID, UpdateChargeRequest{
		Type: "utilities", Amount: "55.00",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update failed: %d body %s", resp.StatusCode, body)
	}
	updated := decode[ChargeDTO](t, body)
	if updated.Amount != "55.00" {
		t.Errorf("expected 55.00, got %s", updated.Amount)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/charges/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/charges/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateCharge_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	seedStaffHTTP(t, srv.URL, "staff-1", "E001")
	p := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")

	cases := []struct {
		name string
		req  CreateChargeRequest
		want int
	}{
		{"zero amount", CreateChargeRequest{StaffID: "staff-1", BillingPeriodID: p.ID, Type: "rent", Amount: "0"}, http.StatusBadRequest},
		{"bad type", CreateChargeRequest{StaffID: "staff-1", BillingPeriodID: p.ID, Type: "parking", Amount: "10"}, http.StatusBadRequest},
		{"unknown staff", CreateChargeRequest{StaffID: "ghost", BillingPeriodID: p.ID, Type: "rent", Amount: "10"}, http.StatusNotFound},
		{"unknown period", CreateChargeRequest{StaffID: "staff-1", BillingPeriodID: "missing", Type: "rent", Amount: "10"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/charges", tc.req)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: expected %d, got %d body %s", tc.name, tc.want, resp.StatusCode, body)
		}
	}
}

// =============================================================================
// EXPORT ENDPOINT TESTS
// =============================================================================

func exportedPeriod(t *testing.T, base string) (PeriodDTO, ExportRecordDTO) {
	t.Helper()

	seedStaffHTTP(t, base, "staff-1", "E001")
	end := "2024-01-31"
	doJSON(t, http.MethodPost, base+"/api/assignments", SaveAssignmentRequest{
		ID: "assign-1", StaffID: "staff-1", RoomID: "room-101",
		StartDate: "2024-01-01", EndDate: &end, Status: "active", MonthlyRate: "500",
	})

	p := createPeriodHTTP(t, base, "2024-01-01", "2024-01-31")
	if resp, body := doJSON(t, http.MethodPost, base+"/api/periods/"+p.ID+"/generate", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("generation failed: %d body %s", resp.StatusCode, body)
	}

	resp, body := doJSON(t, http.MethodPost, base+"/api/periods/"+p.ID+"/export", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("export failed: %d body %s", resp.StatusCode, body)
	}
	return p, decode[ExportRecordDTO](t, body)
}

func TestExportFlow(t *testing.T) {
	srv := newTestServer(t)

	p, rec := exportedPeriod(t, srv.URL)
	if rec.RecordCount != 1 || rec.TotalAmount != "500.00" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Status != "completed" {
		t.Errorf("expected completed export, got %s", rec.Status)
	}

	// Re-export conflicts, never duplicates.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/periods/"+p.ID+"/export", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on re-export, got %d", resp.StatusCode)
	}

	// The exported period rejects further mutations.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/charges", CreateChargeRequest{
		StaffID: "staff-1", BillingPeriodID: p.ID, Type: "other", Amount: "5",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for mutation on exported period, got %d", resp.StatusCode)
	}

	// History shows exactly one record.
	_, body := doJSON(t, http.MethodGet, srv.URL+"/api/exports", nil)
	history := decode[[]ExportRecordDTO](t, body)
	if len(history) != 1 || history[0].ID != rec.ID {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestExportPreview_DraftPeriodReturnsProvisionalRows(t *testing.T) {
	srv := newTestServer(t)
	seedStaffHTTP(t, srv.URL, "staff-1", "E001")
	p := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")

	doJSON(t, http.MethodPost, srv.URL+"/api/charges", CreateChargeRequest{
		StaffID: "staff-1", BillingPeriodID: p.ID, Type: "rent", Amount: "300",
	})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/periods/"+p.ID+"/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview failed: %d", resp.StatusCode)
	}
	rows := decode[[]ExportRowDTO](t, body)
	if len(rows) != 1 || rows[0].TotalDeductions != "300.00" {
		t.Errorf("unexpected preview rows: %+v", rows)
	}

	// Preview never commits: export directly from draft still fails.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/periods/"+p.ID+"/export", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for committing a draft period, got %d", resp.StatusCode)
	}
}

func TestExportCSVDownload(t *testing.T) {
	srv := newTestServer(t)

	p, rec := exportedPeriod(t, srv.URL)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/periods/"+p.ID+"/export.csv", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, rec.FileName) {
		t.Errorf("expected file name %s in disposition, got %s", rec.FileName, cd)
	}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Employee ID,") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "500.00") {
		t.Errorf("expected 500.00 in row: %s", lines[1])
	}
}

// =============================================================================
// STAFF ENDPOINT TESTS
// =============================================================================

func TestStaffDirectoryAndSelfService(t *testing.T) {
	srv := newTestServer(t)

	for i := 1; i <= 2; i++ {
		seedStaffHTTP(t, srv.URL, fmt.Sprintf("staff-%d", i), fmt.Sprintf("E00%d", i))
	}

	_, body := doJSON(t, http.MethodGet, srv.URL+"/api/staff", nil)
	members := decode[[]StaffDTO](t, body)
	if len(members) != 2 {
		t.Fatalf("expected 2 staff, got %d", len(members))
	}

	p := createPeriodHTTP(t, srv.URL, "2024-01-01", "2024-01-31")
	doJSON(t, http.MethodPost, srv.URL+"/api/charges", CreateChargeRequest{
		StaffID: "staff-1", BillingPeriodID: p.ID, Type: "rent", Amount: "300",
	})

	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/staff/staff-1/charges", nil)
	charges := decode[[]ChargeDTO](t, body)
	if len(charges) != 1 {
		t.Errorf("expected 1 charge for staff-1, got %d", len(charges))
	}

	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/staff/staff-2/charges", nil)
	charges = decode[[]ChargeDTO](t, body)
	if len(charges) != 0 {
		t.Errorf("expected no charges for staff-2, got %d", len(charges))
	}
}
