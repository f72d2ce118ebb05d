package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server that simulates one shop
// backend service. It allows configuring per-operation responses and records
// all received requests for later assertion.
type MockBackend struct {
	t         *testing.T
	serviceID string
	server    *httptest.Server

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	Body       map[string]any
	ReceivedAt time.Time
}

// operationConfig holds the queued responses for a single operation.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status int
	body   any
}

// operationRoute maps an operation ID to its HTTP method and path pattern.
type operationRoute struct {
	method      string
	pathPattern string
}

// newMockBackend creates a mock backend serving the given routes and starts
// its HTTP test server.
func newMockBackend(t *testing.T, serviceID string, routes map[string]operationRoute) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:            t,
		serviceID:    serviceID,
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	for opID, route := range routes {
		mux.HandleFunc(route.method+" "+route.pathPattern, mb.handleOperation(opID))
	}

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)

	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// RespondWith queues a response for the named operation. Responses are
// consumed in order; the last one repeats for subsequent calls. An operation
// with no configured responses answers 200 {"status":"ok"}.
func (mb *MockBackend) RespondWith(operationID string, status int, body any) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[operationID]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[operationID] = cfg
	}
	cfg.responses = append(cfg.responses, &mockResponse{status: status, body: body})
}

func (mb *MockBackend) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Headers:    r.Header.Clone(),
			ReceivedAt: time.Now(),
		}
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(data, &parsed); err == nil {
					rec.Body = parsed
				}
			}
		}

		mb.mu.Lock()
		mb.receivedByOp[opID] = append(mb.receivedByOp[opID], rec)
		mb.mu.Unlock()

		resp := mb.nextResponse(opID)
		if resp == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != nil {
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) nextResponse(opID string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[opID]
	mb.mu.RUnlock()
	if !ok {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the operation was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedByOp[operationID])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock %s: operation %q called %d times, want %d",
			mb.serviceID, operationID, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// LastRequest returns the last request received for the given operation, or
// nil when no requests were recorded.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the given operation.
func (mb *MockBackend) AllRequests(operationID string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// jobCardRoutes returns the routes the shop backend serves for job-card sync.
func jobCardRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"updateSOPStep": {method: "PUT", pathPattern: "/job-cards/{id}/sop"},
		"addSOPPhoto":   {method: "POST", pathPattern: "/job-cards/{id}/sop/add-photo"},
	}
}

// eodRoutes returns the routes the shop backend serves for end-of-day sync.
func eodRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"updateStep": {method: "POST", pathPattern: "/manager/eod/update-step"},
		"complete":   {method: "POST", pathPattern: "/manager/eod/complete"},
	}
}

// timeClockRoutes returns the routes the time-tracking backend serves.
func timeClockRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"clockOut": {method: "POST", pathPattern: "/time-clock/clock-out"},
	}
}

// unreachableURL is a base URL guaranteed to refuse connections, for
// simulating a backend that is down.
func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}
