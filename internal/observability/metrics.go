package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the lifecycle core.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Checklist metrics
	StepCompletionsTotal  *prometheus.CounterVec
	PhotoAttachmentsTotal prometheus.Counter
	EODFinalizationsTotal prometheus.Counter

	// Gate metrics
	GateDenialsTotal *prometheus.CounterVec

	// Pipeline metrics
	StageAdvancesTotal      *prometheus.CounterVec
	IllegalTransitionsTotal prometheus.Counter

	// Time clock metrics
	ClockOutsTotal *prometheus.CounterVec

	// Outbox metrics
	OutboxDepth           prometheus.Gauge
	OutboxDeliveriesTotal *prometheus.CounterVec
	OutboxDropsTotal      *prometheus.CounterVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// System metrics
	TemplateReloadTotal *prometheus.CounterVec
	TemplatesLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopcore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Checklists
		StepCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_step_completions_total",
			Help: "Total checklist step completions and uncheckings.",
		}, []string{"checklist", "action"}),
		PhotoAttachmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopcore_photo_attachments_total",
			Help: "Total photos attached to checklist steps.",
		}),
		EODFinalizationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopcore_eod_finalizations_total",
			Help: "Total end-of-day checklist finalizations.",
		}),

		// Gates
		GateDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_gate_denials_total",
			Help: "Total checklist gate denials.",
		}, []string{"gate"}),

		// Pipeline
		StageAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_stage_advances_total",
			Help: "Total job card stage advances.",
		}, []string{"from", "to"}),
		IllegalTransitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopcore_illegal_transitions_total",
			Help: "Total rejected stage transition requests.",
		}),

		// Time clock
		ClockOutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_clock_outs_total",
			Help: "Total manager clock-out attempts.",
		}, []string{"outcome"}),

		// Outbox
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopcore_outbox_depth",
			Help: "Number of pending backend sync records.",
		}),
		OutboxDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_outbox_deliveries_total",
			Help: "Total outbox delivery attempts.",
		}, []string{"service", "status"}),
		OutboxDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_outbox_drops_total",
			Help: "Total sync records dropped after exhausting retries.",
		}, []string{"service"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"service_id", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopcore_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service_id"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shopcore_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"service_id"}),

		// System
		TemplateReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_template_reload_total",
			Help: "Total checklist template reloads.",
		}, []string{"status"}),
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopcore_templates_loaded",
			Help: "Number of loaded SOP checklist templates.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StepCompletionsTotal,
		m.PhotoAttachmentsTotal,
		m.EODFinalizationsTotal,
		m.GateDenialsTotal,
		m.StageAdvancesTotal,
		m.IllegalTransitionsTotal,
		m.ClockOutsTotal,
		m.OutboxDepth,
		m.OutboxDeliveriesTotal,
		m.OutboxDropsTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.TemplateReloadTotal,
		m.TemplatesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordStepCompletion records a checklist step completion or unchecking.
// The checklist label is "sop" or "eod"; the action is "complete" or "uncheck".
func (m *Metrics) RecordStepCompletion(checklist, action string) {
	m.StepCompletionsTotal.WithLabelValues(checklist, action).Inc()
}

// RecordPhotoAttachment records an evidence photo attachment.
func (m *Metrics) RecordPhotoAttachment() {
	m.PhotoAttachmentsTotal.Inc()
}

// RecordEODFinalization records an end-of-day finalization.
func (m *Metrics) RecordEODFinalization() {
	m.EODFinalizationsTotal.Inc()
}

// RecordGateDenial records a gate denial. The gate label is "sop" or
// "clock_out".
func (m *Metrics) RecordGateDenial(gate string) {
	m.GateDenialsTotal.WithLabelValues(gate).Inc()
}

// RecordStageAdvance records a successful stage transition.
func (m *Metrics) RecordStageAdvance(from, to string) {
	m.StageAdvancesTotal.WithLabelValues(from, to).Inc()
}

// RecordIllegalTransition records a rejected stage transition.
func (m *Metrics) RecordIllegalTransition() {
	m.IllegalTransitionsTotal.Inc()
}

// RecordClockOut records a clock-out attempt. Outcome is "ok", "gated", or
// "backend_error".
func (m *Metrics) RecordClockOut(outcome string) {
	m.ClockOutsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDepth implements outbox.Metrics.
func (m *Metrics) ObserveDepth(depth int) {
	m.OutboxDepth.Set(float64(depth))
}

// RecordDelivery implements outbox.Metrics.
func (m *Metrics) RecordDelivery(service string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.OutboxDeliveriesTotal.WithLabelValues(service, status).Inc()
}

// RecordDrop implements outbox.Metrics.
func (m *Metrics) RecordDrop(service string) {
	m.OutboxDropsTotal.WithLabelValues(service).Inc()
}

// RecordBackendRequest records a backend service request.
func (m *Metrics) RecordBackendRequest(serviceID string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(serviceID, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(serviceID string) {
	m.BackendRetriesTotal.WithLabelValues(serviceID).Inc()
}

// RecordTemplateReload records a checklist template reload.
func (m *Metrics) RecordTemplateReload(status string) {
	m.TemplateReloadTotal.WithLabelValues(status).Inc()
}

// SetTemplatesLoaded sets the number of loaded SOP templates.
func (m *Metrics) SetTemplatesLoaded(count float64) {
	m.TemplatesLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
