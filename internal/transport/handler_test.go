package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/checklist"
	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/eod"
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/internal/outbox"
	"github.com/glossworks/shopcore/internal/pipeline"
	"github.com/glossworks/shopcore/internal/sop"
	"github.com/glossworks/shopcore/internal/timeclock"
	"github.com/glossworks/shopcore/model"
)

type nopRecorder struct{}

func (nopRecorder) ClockOut(context.Context, *model.RequestContext, string, string) error {
	return nil
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Defaults()
	logger := zap.NewNop()
	ob := outbox.NewMemoryStore()

	registry := checklist.NewRegistry([]checklist.SOPTemplateFile{
		{
			ServiceType: "full_detail",
			Template: model.Template{
				ID: "full-detail-v1",
				Steps: []model.TemplateStep{
					{StepID: "wash", Title: "Exterior wash", Required: true},
					{StepID: "interior", Title: "Interior vacuum", Required: true},
					{StepID: "tire_shine", Title: "Tire shine", Required: false},
				},
			},
		},
	})

	sopCtrl := sop.NewController(registry, checklist.NewMemoryStore(), ob, logger)
	eodCtrl := eod.NewController(checklist.NewMemoryStore(), ob, logger)
	machine := pipeline.NewMachine(pipeline.NewMemoryStore(), sopCtrl, logger)
	gate := timeclock.NewGate(eodCtrl, nopRecorder{}, logger)

	router := NewRouter(Dependencies{
		Config:   cfg,
		Logger:   logger,
		SOP:      sopCtrl,
		EOD:      eodCtrl,
		Pipeline: machine,
		Clock:    gate,
		Ready: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return true },
		},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Staff-Id", "staff-1")
	req.Header.Set("X-Staff-Role", "manager")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func registerCard(t *testing.T, srv *httptest.Server, id, serviceType string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards", map[string]any{
		"id":          id,
		"serviceType": serviceType,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register job card: status = %d, want 201", resp.StatusCode)
	}
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestHealthEndpoints(t *testing.T) {
	srv := testServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("/healthz status field = %v", body["status"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ready" {
		t.Errorf("/readyz status field = %v", body["status"])
	}
}

func TestJobCardRegistrationBindsChecklist(t *testing.T) {
	srv := testServer(t)
	registerCard(t, srv, "jc-1", "full_detail")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/job-cards/jc-1/sop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get sop: status = %d, want 200", resp.StatusCode)
	}
	checklistObj, _ := body["checklist"].(map[string]any)
	steps, _ := checklistObj["steps"].([]any)
	if len(steps) != 3 {
		t.Errorf("steps = %d, want 3", len(steps))
	}
	progress, _ := body["progress"].(map[string]any)
	if progress["percent"] != 0.0 {
		t.Errorf("percent = %v, want 0", progress["percent"])
	}
}

func TestJobCardWithoutTemplateReturns204(t *testing.T) {
	srv := testServer(t)
	registerCard(t, srv, "jc-2", "quick_rinse")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/job-cards/jc-2/sop", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for a card with no checklist", resp.StatusCode)
	}
}

func TestSOPStepCompletion(t *testing.T) {
	srv := testServer(t)
	registerCard(t, srv, "jc-1", "full_detail")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/jc-1/sop/steps/wash/complete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	progress, _ := body["progress"].(map[string]any)
	if progress["percent"] != 33.0 {
		t.Errorf("percent = %v, want 33", progress["percent"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/jc-1/sop/steps/ghost/complete", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown step status = %d, want 404", resp.StatusCode)
	}
	if errorCode(body) != model.ErrStepNotFound {
		t.Errorf("error code = %q, want %q", errorCode(body), model.ErrStepNotFound)
	}
}

func TestStageGateEndToEnd(t *testing.T) {
	srv := testServer(t)
	registerCard(t, srv, "jc-1", "full_detail")

	advance := func(to string) (*http.Response, map[string]any) {
		return doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/jc-1/stage", map[string]any{"to": to})
	}

	if resp, _ := advance("in_service"); resp.StatusCode != http.StatusOK {
		t.Fatalf("advance to in_service: status = %d", resp.StatusCode)
	}

	// Required SOP steps incomplete: the exit to quality_check is barred.
	resp, body := advance("quality_check")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("gated advance: status = %d, want 409", resp.StatusCode)
	}
	if errorCode(body) != model.ErrGuardFailed {
		t.Fatalf("error code = %q, want %q", errorCode(body), model.ErrGuardFailed)
	}
	errObj, _ := body["error"].(map[string]any)
	blocked, _ := errObj["steps"].([]any)
	if len(blocked) != 2 {
		t.Errorf("blocking steps = %v, want the two required titles", blocked)
	}

	// Complete the required steps; the same request now succeeds.
	for _, step := range []string{"wash", "interior"} {
		url := fmt.Sprintf("%s/api/job-cards/jc-1/sop/steps/%s/complete", srv.URL, step)
		if resp, _ := doJSON(t, http.MethodPost, url, nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("complete %s: status = %d", step, resp.StatusCode)
		}
	}

	resp, card := advance("quality_check")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advance after completing steps: status = %d", resp.StatusCode)
	}
	if card["stage"] != "quality_check" {
		t.Errorf("stage = %v, want quality_check", card["stage"])
	}

	// Skipping a stage is a different failure than a closed gate.
	resp, body = advance("paid")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("skip ahead: status = %d, want 422", resp.StatusCode)
	}
	if errorCode(body) != model.ErrIllegalTransition {
		t.Errorf("error code = %q, want %q", errorCode(body), model.ErrIllegalTransition)
	}
}

func TestStageAdvanceRejectsStaleFromView(t *testing.T) {
	srv := testServer(t)
	registerCard(t, srv, "jc-3", "quick_rinse")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/jc-3/stage",
		map[string]any{"from": "check_in", "to": "in_service"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advance with matching from: status = %d", resp.StatusCode)
	}

	// The caller's view is one move behind; the target would be a legal
	// exit from the stored stage, but the request is rejected outright.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/jc-3/stage",
		map[string]any{"from": "check_in", "to": "quality_check"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale from: status = %d, want 409", resp.StatusCode)
	}
	if errorCode(body) != model.ErrConflict {
		t.Errorf("error code = %q, want %q", errorCode(body), model.ErrConflict)
	}
}

func TestPriorityIsUngated(t *testing.T) {
	srv := testServer(t)
	registerCard(t, srv, "jc-1", "full_detail")

	resp, card := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/jc-1/priority", map[string]any{"priority": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if card["priority"] != true {
		t.Errorf("priority = %v, want true", card["priority"])
	}
	if card["stage"] != "check_in" {
		t.Errorf("stage = %v, priority must not move the card", card["stage"])
	}
}

func TestEODFlowAndClockOutGate(t *testing.T) {
	srv := testServer(t)
	date := "2026-03-14"

	clockOut := func() (*http.Response, map[string]any) {
		return doJSON(t, http.MethodPost, srv.URL+"/api/time-clock/clock-out", map[string]any{
			"managerId":    "mgr-7",
			"businessDate": date,
		})
	}

	// Blocked before the checklist is touched.
	resp, body := clockOut()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("clock-out before close: status = %d, want 409", resp.StatusCode)
	}
	if errorCode(body) != model.ErrEODIncomplete {
		t.Fatalf("error code = %q, want %q", errorCode(body), model.ErrEODIncomplete)
	}

	// Work through the required steps.
	steps := map[string]map[string]any{
		"cash_reconciliation":    {"physicalCash": "5000", "systemCash": "4950"},
		"inventory_verification": {"countsVerified": true},
		"equipment_security":     {"equipmentOff": true, "premisesSecured": true, "alarmSet": true},
		"daily_reporting":        {"reportRef": "RPT-1"},
		"staff_handover":         {"handoverNotes": "keys in lockbox"},
	}
	for stepID, data := range steps {
		url := fmt.Sprintf("%s/api/eod/%s/steps/%s", srv.URL, date, stepID)
		resp, body := doJSON(t, http.MethodPost, url, map[string]any{"stepData": data, "completed": true})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("step %s: status = %d, body = %v", stepID, resp.StatusCode, body)
		}
		if stepID == "cash_reconciliation" && body["variance"] != 50.0 {
			t.Errorf("variance = %v, want 50", body["variance"])
		}
	}

	// All steps ticked is still not finalized.
	resp, body = clockOut()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("clock-out before finalize: status = %d, want 409", resp.StatusCode)
	}
	if errorCode(body) != model.ErrEODIncomplete {
		t.Fatalf("error code = %q, want %q", errorCode(body), model.ErrEODIncomplete)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/eod/"+date+"/finalize", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: status = %d", resp.StatusCode)
	}

	resp, body = clockOut()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clock-out after finalize: status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != "clocked_out" {
		t.Errorf("status field = %v", body["status"])
	}

	// Finalize is terminal.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/eod/"+date+"/finalize", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second finalize: status = %d, want 409", resp.StatusCode)
	}
	if errorCode(body) != model.ErrAlreadyFinalized {
		t.Errorf("error code = %q, want %q", errorCode(body), model.ErrAlreadyFinalized)
	}
}

func TestEODInvalidPayloadIs422(t *testing.T) {
	srv := testServer(t)
	url := srv.URL + "/api/eod/2026-03-14/steps/equipment_security"

	resp, body := doJSON(t, http.MethodPost, url, map[string]any{
		"stepData":  map[string]any{"equipmentOff": true, "premisesSecured": true, "alarmSet": false},
		"completed": true,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if errorCode(body) != model.ErrInvalidStepPayload {
		t.Errorf("error code = %q, want %q", errorCode(body), model.ErrInvalidStepPayload)
	}
}

func TestEODBadDateIs400(t *testing.T) {
	srv := testServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/eod/not-a-date", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if errorCode(body) != model.ErrBadRequest {
		t.Errorf("error code = %q, want %q", errorCode(body), model.ErrBadRequest)
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	srv := testServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-Id", "corr-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Correlation-Id"); got != "corr-42" {
		t.Errorf("X-Correlation-Id = %q, want echoed value", got)
	}
}

func TestUnknownJobCardIs404(t *testing.T) {
	srv := testServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/job-cards/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if errorCode(body) != model.ErrNotFound {
		t.Errorf("error code = %q, want %q", errorCode(body), model.ErrNotFound)
	}
}
