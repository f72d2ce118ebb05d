// Package integration provides a reusable test harness for end-to-end
// testing of the shopcore lifecycle server. It starts a full HTTP server
// wired to mock backend services and in-memory stores, with the outbox
// worker drainable on demand so sync delivery can be asserted
// deterministically.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/checklist"
	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/eod"
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/internal/outbox"
	"github.com/glossworks/shopcore/internal/pipeline"
	"github.com/glossworks/shopcore/internal/remote"
	"github.com/glossworks/shopcore/internal/sop"
	"github.com/glossworks/shopcore/internal/timeclock"
	"github.com/glossworks/shopcore/internal/transport"
	"github.com/glossworks/shopcore/model"
)

// TestHarness encapsulates a fully wired shopcore instance with mock
// backends for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Registry *checklist.Registry
	Outbox   *outbox.MemoryStore
	Worker   *outbox.Worker

	backends map[string]*MockBackend
	cfg      *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	templates          []checklist.SOPTemplateFile
	unreachableService string
}

// WithTemplates replaces the default SOP template set.
func WithTemplates(files ...checklist.SOPTemplateFile) HarnessOption {
	return func(c *harnessConfig) {
		c.templates = files
	}
}

// WithUnreachableBackend points the named service at a dead address instead
// of a mock backend, to simulate an outage.
func WithUnreachableBackend(serviceID string) HarnessOption {
	return func(c *harnessConfig) {
		c.unreachableService = serviceID
	}
}

// NewTestHarness creates and starts a full shopcore test instance. The
// server and mock backends are cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		templates: defaultTemplates(),
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:        t,
		backends: make(map[string]*MockBackend),
	}
	logger := zap.NewNop()

	// Step 1: Start mock backends, one per service.
	h.backends[config.ServiceJobCard] = newMockBackend(t, config.ServiceJobCard, jobCardRoutes())
	h.backends[config.ServiceEOD] = newMockBackend(t, config.ServiceEOD, eodRoutes())
	h.backends[config.ServiceTimeClock] = newMockBackend(t, config.ServiceTimeClock, timeClockRoutes())

	// Step 2: Build config pointing at the mock backends. Retry backoff is
	// tiny so redelivery tests don't have to wait.
	h.cfg = config.Defaults()
	h.cfg.Services = make(map[string]config.ServiceConfig, len(h.backends))
	for serviceID, mb := range h.backends {
		baseURL := mb.URL()
		if serviceID == hc.unreachableService {
			baseURL = unreachableURL(t)
		}
		h.cfg.Services[serviceID] = config.ServiceConfig{
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:    1,
				IdempotentOnly: true,
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 100,
				SuccessThreshold: 1,
				Timeout:          time.Minute,
			},
		}
	}
	h.cfg.Outbox = config.OutboxConfig{
		Interval:       time.Hour, // drained manually, never by ticker
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}

	// Step 3: Template registry and in-memory stores.
	h.Registry = checklist.NewRegistry(hc.templates)
	h.Outbox = outbox.NewMemoryStore()

	// Step 4: Backend clients, shared by the outbox worker and the
	// clock-out gate.
	clients := make(map[string]*remote.Client, len(h.cfg.Services))
	invokers := make(map[string]outbox.Invoker, len(h.cfg.Services))
	for serviceID, serviceCfg := range h.cfg.Services {
		client := remote.NewClient(serviceID, serviceCfg, logger)
		clients[serviceID] = client
		invokers[serviceID] = client
	}
	h.Worker = outbox.NewWorker(h.Outbox, invokers, h.cfg.Outbox, logger, outbox.NopMetrics{})

	// Step 5: Controllers and router.
	sopCtrl := sop.NewController(h.Registry, checklist.NewMemoryStore(), h.Outbox, logger)
	eodCtrl := eod.NewController(checklist.NewMemoryStore(), h.Outbox, logger)
	machine := pipeline.NewMachine(pipeline.NewMemoryStore(), sopCtrl, logger)
	gate := timeclock.NewGate(
		eodCtrl,
		remote.NewTimeClockAPI(clients[config.ServiceTimeClock]),
		logger,
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:   h.cfg,
		Logger:   logger,
		SOP:      sopCtrl,
		EOD:      eodCtrl,
		Pipeline: machine,
		Clock:    gate,
		Ready: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return len(h.Registry.ServiceTypes()) > 0 },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// MockBackend returns the mock backend for the given service ID.
func (h *TestHarness) MockBackend(serviceID string) *MockBackend {
	mb, ok := h.backends[serviceID]
	if !ok {
		h.t.Fatalf("mock backend %q not configured", serviceID)
	}
	return mb
}

// DrainOutbox synchronously delivers every due sync record.
func (h *TestHarness) DrainOutbox() {
	h.t.Helper()
	h.Worker.Drain(context.Background())
}

// OutboxDepth returns the number of pending sync records.
func (h *TestHarness) OutboxDepth() int {
	h.t.Helper()
	depth, err := h.Outbox.Depth(context.Background())
	if err != nil {
		h.t.Fatalf("outbox depth: %v", err)
	}
	return depth
}

// defaultTemplates returns the SOP template set the harness loads unless
// overridden.
func defaultTemplates() []checklist.SOPTemplateFile {
	return []checklist.SOPTemplateFile{
		{
			ServiceType: "full_detail",
			Template: model.Template{
				ID: "sop-full-detail-v1",
				Steps: []model.TemplateStep{
					{StepID: "exterior_wash", Title: "Exterior wash", Required: true},
					{StepID: "interior_detail", Title: "Interior detail", Required: true},
					{StepID: "final_inspection", Title: "Final inspection", Required: true},
					{StepID: "fragrance", Title: "Cabin fragrance", Required: false},
				},
			},
		},
	}
}

// --- HTTP client helpers ---

// GET performs a GET request with staff identity headers.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil)
}

// POST performs a POST request with a JSON body and staff identity headers.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body)
}

func (h *TestHarness) doRequest(method, path string, body any) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Staff-Id", "mgr-7")
	req.Header.Set("X-Staff-Role", "manager")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// ErrorCode extracts the error code from an error response body.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	h.ParseJSON(resp, &body)
	return body.Error.Code
}

// RegisterJobCard registers a job card and fails the test on a non-201.
func (h *TestHarness) RegisterJobCard(id, serviceType string) {
	h.t.Helper()
	resp := h.POST("/api/job-cards", map[string]any{
		"id":          id,
		"serviceType": serviceType,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("register job card %s: status = %d\nbody: %s", id, resp.StatusCode, data)
	}
}
