// Package timeclock gates manager clock-out on the end-of-day close.
package timeclock

import (
	"context"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/model"
)

// EODStatus reports whether a business date's closing checklist has been
// finalized.
type EODStatus interface {
	Finalized(ctx context.Context, businessDate string) (bool, error)
}

// ClockOutRecorder records a clock-out event with the time-tracking
// service. Satisfied by remote.TimeClockAPI.
type ClockOutRecorder interface {
	ClockOut(ctx context.Context, rctx *model.RequestContext, managerID, businessDate string) error
}

// Gate blocks manager clock-out until the end-of-day checklist for the
// business date is finalized.
type Gate struct {
	eod    EODStatus
	clock  ClockOutRecorder
	logger *zap.Logger
}

// NewGate creates a Gate.
func NewGate(eod EODStatus, clock ClockOutRecorder, logger *zap.Logger) *Gate {
	return &Gate{eod: eod, clock: clock, logger: logger}
}

// RequestClockOut records a manager clock-out. The end-of-day checklist for
// the business date must be finalized first; every step being ticked does
// not count. Unlike checklist syncs, the clock-out call is awaited — the
// staff member must know immediately whether the event was recorded.
func (g *Gate) RequestClockOut(ctx context.Context, rctx *model.RequestContext, managerID, businessDate string) error {
	if managerID == "" {
		return model.NewValidationError([]model.FieldError{
			{Field: "managerId", Code: "required", Message: "managerId must not be empty"},
		})
	}

	ctx, span := observability.StartSpan(ctx, "timeclock.clock_out",
		observability.AttrStaffID.String(managerID),
		observability.AttrBusinessDate.String(businessDate),
	)
	defer span.End()

	finalized, err := g.eod.Finalized(ctx, businessDate)
	if err != nil {
		return err
	}
	if !finalized {
		g.logger.Info("clock-out blocked by end-of-day gate",
			zap.String("manager_id", managerID),
			zap.String("business_date", businessDate),
		)
		return model.NewEODIncompleteError(businessDate)
	}

	if err := g.clock.ClockOut(ctx, rctx, managerID, businessDate); err != nil {
		return err
	}

	g.logger.Info("manager clocked out",
		zap.String("manager_id", managerID),
		zap.String("business_date", businessDate),
	)
	return nil
}
