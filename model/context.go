package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries actor identity and tracing information for the
// lifetime of a request. Authentication happens upstream at the gateway;
// this core only plumbs the identity through to backends and audit fields.
// It is immutable after construction and safe for concurrent reads.
type RequestContext struct {
	StaffID       string
	Role          string
	Token         string
	CorrelationID string
	TraceID       string
}

// Validate checks that mandatory fields are present.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.StaffID == "" {
		errs = append(errs, fmt.Errorf("StaffID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
