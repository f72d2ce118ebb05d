package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/model"
)

// Result is the parsed outcome of a backend call.
type Result struct {
	StatusCode int
	Body       any
}

// Metrics receives client telemetry. *observability.Metrics satisfies it.
type Metrics interface {
	RecordBackendRequest(serviceID string, status int, duration time.Duration)
	RecordBackendRetry(serviceID string)
	SetBackendCircuitBreakerState(serviceID string, state float64)
}

// Client is a single backend service client with a dedicated HTTP client,
// circuit breaker, and retry policy.
type Client struct {
	serviceID string
	cfg       config.ServiceConfig
	client    *http.Client
	breaker   *CircuitBreaker
	logger    *zap.Logger
	metrics   Metrics
}

// NewClient creates a client for one backend service.
func NewClient(serviceID string, cfg config.ServiceConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	cbCfg := cfg.CircuitBreaker
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		serviceID: serviceID,
		cfg:       cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(
			cbCfg.FailureThreshold,
			cbCfg.SuccessThreshold,
			cbCfg.Timeout,
		),
		logger: logger,
	}
}

// ServiceID returns the configured backend service identifier.
func (c *Client) ServiceID() string {
	return c.serviceID
}

// SetMetrics attaches telemetry instruments to the client.
func (c *Client) SetMetrics(m Metrics) {
	c.metrics = m
}

// BreakerState exposes the circuit breaker state for metrics.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// Do executes a JSON request against the service with circuit breaker and
// retry support. Path segments must already be escaped by the caller; use
// PathEscape for interpolated identifiers.
func (c *Client) Do(ctx context.Context, rctx *model.RequestContext, method, path string, body any) (Result, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("remote: marshal body: %w", err)
		}
	}

	reqURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	headers := buildHeaders(rctx, method)

	ctx, span := observability.StartSpan(ctx, method+" "+c.serviceID,
		observability.AttrBackendID.String(c.serviceID),
	)
	observability.InjectTraceHeaders(ctx, headers)

	result, err := c.executeWithRetry(ctx, method, reqURL, headers, bodyBytes)
	observability.EndSpanWithError(span, err)
	return result, err
}

// executeWithRetry wraps executeOnce with retry logic and exponential backoff.
func (c *Client) executeWithRetry(
	ctx context.Context,
	method, reqURL string,
	headers http.Header,
	bodyBytes []byte,
) (Result, error) {
	retryCfg := c.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	canRetry := isIdempotentMethod(method) || !retryCfg.IdempotentOnly

	var lastErr error
	var lastResult Result

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(retryCfg, attempt)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.executeOnce(ctx, method, reqURL, headers, bodyBytes)
		if err != nil {
			lastErr = err
			if !retryableError(err, canRetry) || attempt == maxAttempts-1 {
				return Result{}, normalizeError(err)
			}
			c.recordRetry()
			c.logger.Debug("remote: retrying after error",
				zap.String("service", c.serviceID),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(result.StatusCode) && canRetry && attempt < maxAttempts-1 {
			lastResult = result
			c.recordRetry()
			c.logger.Debug("remote: retrying after status",
				zap.String("service", c.serviceID),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", result.StatusCode),
			)
			continue
		}

		return result, nil
	}

	if lastErr != nil {
		return Result{}, normalizeError(lastErr)
	}
	return lastResult, nil
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (c *Client) executeOnce(
	ctx context.Context,
	method, reqURL string,
	headers http.Header,
	bodyBytes []byte,
) (Result, error) {
	if err := c.breaker.Allow(); err != nil {
		c.publishBreakerState()
		return Result{}, model.NewBackendUnavailableError()
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return Result{}, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header = headers

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.publishBreakerState()
		if isConnectionError(err) {
			return Result{}, &connectionError{err: err}
		}
		if ctx.Err() != nil {
			return Result{}, model.NewBackendTimeoutError()
		}
		return Result{}, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB limit
	if err != nil {
		c.breaker.RecordFailure()
		return Result{}, fmt.Errorf("remote: read response: %w", err)
	}

	// Record circuit breaker outcome. 4xx are not infrastructure failures.
	if isServerError(resp.StatusCode) {
		c.breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		c.breaker.RecordSuccess()
	}
	c.publishBreakerState()
	if c.metrics != nil {
		c.metrics.RecordBackendRequest(c.serviceID, resp.StatusCode, time.Since(start))
	}

	result := Result{StatusCode: resp.StatusCode}

	if len(respBody) > 0 {
		var parsed any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			result.Body = parsed
		}
	}

	return result, nil
}

func (c *Client) recordRetry() {
	if c.metrics != nil {
		c.metrics.RecordBackendRetry(c.serviceID)
	}
}

// publishBreakerState exports the breaker state gauge using the metric's
// encoding: 0=closed, 1=half-open, 2=open.
func (c *Client) publishBreakerState() {
	if c.metrics == nil {
		return
	}
	var v float64
	switch c.breaker.State() {
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	c.metrics.SetBackendCircuitBreakerState(c.serviceID, v)
}

// PathEscape escapes an identifier for use as a URL path segment.
func PathEscape(s string) string {
	return url.PathEscape(s)
}

func buildHeaders(rctx *model.RequestContext, method string) http.Header {
	h := make(http.Header)

	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}

	if rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		h.Set("X-Request-Subject", sanitizeHeader(rctx.StaffID))
	}

	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Circuit breaker open errors are not retryable.
	if _, ok := err.(*model.ErrorEnvelope); ok {
		return false
	}
	return true
}

// connectionError marks a failure where the request never reached the
// backend: refused connection or DNS resolution. Resending is safe even
// for non-idempotent methods.
type connectionError struct {
	err error
}

func (e *connectionError) Error() string { return e.err.Error() }
func (e *connectionError) Unwrap() error { return e.err }

// retryableError reports whether a failed attempt may be retried.
// Connection-level failures bypass the idempotency restriction; everything
// else follows canRetry and the envelope rule above.
func retryableError(err error, canRetry bool) bool {
	var connErr *connectionError
	if errors.As(err, &connErr) {
		return true
	}
	return canRetry && isRetryableError(err)
}

// normalizeError converts internal failure markers into their public
// envelope form once retries are exhausted.
func normalizeError(err error) error {
	var connErr *connectionError
	if errors.As(err, &connErr) {
		return model.NewBackendUnavailableError()
	}
	return err
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return false
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
