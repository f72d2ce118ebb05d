// Package eod runs the manager's end-of-day closing checklist. The checklist
// is fixed: six steps per business date, finalized exactly once, and the
// finalized flag is what the clock-out gate consumes.
package eod

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/checklist"
	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/internal/outbox"
	"github.com/glossworks/shopcore/model"
)

const updateRetries = 3

// Controller manages end-of-day checklist instances keyed by business date.
type Controller struct {
	store  checklist.Store
	outbox outbox.Store
	logger *zap.Logger
}

// NewController creates a Controller.
func NewController(store checklist.Store, ob outbox.Store, logger *zap.Logger) *Controller {
	return &Controller{store: store, outbox: ob, logger: logger}
}

// Get returns the checklist for a business date, creating a fresh one on
// first access. Every calendar date has a closing checklist whether or not
// anyone has touched it yet.
func (c *Controller) Get(ctx context.Context, businessDate string) (model.ChecklistInstance, error) {
	if err := validateBusinessDate(businessDate); err != nil {
		return model.ChecklistInstance{}, err
	}

	inst, err := c.store.Get(ctx, businessDate)
	if err == nil {
		return inst, nil
	}
	if model.ErrorCode(err) != model.ErrNotFound {
		return model.ChecklistInstance{}, err
	}

	inst = checklist.NewInstance(checklist.EODTemplate(), businessDate)
	if err := c.store.Create(ctx, inst); err != nil {
		if model.ErrorCode(err) == model.ErrConflict {
			return c.store.Get(ctx, businessDate)
		}
		return model.ChecklistInstance{}, err
	}
	c.logger.Info("opened end-of-day checklist", zap.String("business_date", businessDate))
	return inst, nil
}

// UpdateStep records a step's payload and completion flag. Completing a step
// validates its payload contract; unchecking does not. Steps cannot change
// once the date is finalized.
func (c *Controller) UpdateStep(ctx context.Context, rctx *model.RequestContext, businessDate, stepID string, data map[string]any, completed bool) (model.EODStepResult, error) {
	ctx, span := observability.StartSpan(ctx, "eod.update_step",
		observability.AttrBusinessDate.String(businessDate),
		observability.AttrStepID.String(stepID),
	)
	defer span.End()

	if _, err := c.Get(ctx, businessDate); err != nil {
		return model.EODStepResult{}, err
	}

	var result model.EODStepResult
	err := c.mutate(ctx, businessDate, func(inst model.ChecklistInstance) (model.ChecklistInstance, error) {
		if inst.Finalized {
			return inst, model.NewAlreadyFinalizedError(businessDate)
		}

		stepData := data
		var variance *float64
		if completed {
			normalized, v, err := validateStepPayload(stepID, data)
			if err != nil {
				return inst, err
			}
			stepData = normalized
			variance = v
		}

		updated, err := checklist.SetStepData(inst, stepID, stepData)
		if err != nil {
			return inst, err
		}
		updated, err = checklist.ToggleStep(updated, stepID, completed)
		if err != nil {
			return inst, err
		}

		result.Instance = updated
		result.Progress = checklist.ComputeProgress(updated)
		result.Variance = variance
		return updated, nil
	})
	if err != nil {
		return model.EODStepResult{}, err
	}

	record := &outbox.SyncRecord{
		Service: config.ServiceEOD,
		Method:  http.MethodPost,
		Path:    "/manager/eod/update-step",
		Body: map[string]any{
			"businessDate": businessDate,
			"stepId":       stepID,
			"stepData":     result.Instance.Steps[mustStepIndex(result.Instance, stepID)].Data,
			"completed":    completed,
		},
		CoalesceKey: "eod:" + businessDate + ":" + stepID,
		Actor:       rctx,
	}
	if err := c.outbox.Enqueue(ctx, record); err != nil {
		c.logger.Error("failed to queue end-of-day step sync",
			zap.String("business_date", businessDate),
			zap.String("step_id", stepID),
			zap.Error(err),
		)
	}
	return result, nil
}

// Finalize closes the business date. All required steps must be complete,
// and a date finalizes at most once.
func (c *Controller) Finalize(ctx context.Context, rctx *model.RequestContext, businessDate string) (model.ChecklistInstance, error) {
	ctx, span := observability.StartSpan(ctx, "eod.finalize",
		observability.AttrBusinessDate.String(businessDate),
	)
	defer span.End()

	if _, err := c.Get(ctx, businessDate); err != nil {
		return model.ChecklistInstance{}, err
	}

	var finalized model.ChecklistInstance
	err := c.mutate(ctx, businessDate, func(inst model.ChecklistInstance) (model.ChecklistInstance, error) {
		if inst.Finalized {
			return inst, model.NewAlreadyFinalizedError(businessDate)
		}
		if incomplete := checklist.RequiredIncomplete(inst); len(incomplete) > 0 {
			return inst, model.NewRequiredStepsIncompleteError(checklist.StepTitles(incomplete))
		}

		now := time.Now().UTC()
		inst.Finalized = true
		inst.FinalizedAt = &now
		if rctx != nil {
			inst.FinalizedBy = rctx.StaffID
		}
		finalized = inst
		return inst, nil
	})
	if err != nil {
		return model.ChecklistInstance{}, err
	}

	var completedBy string
	if rctx != nil {
		completedBy = rctx.StaffID
	}
	record := &outbox.SyncRecord{
		Service: config.ServiceEOD,
		Method:  http.MethodPost,
		Path:    "/manager/eod/complete",
		Body: map[string]any{
			"businessDate":  businessDate,
			"completedBy":   completedBy,
			"checklistData": finalized.Steps,
		},
		Actor: rctx,
	}
	if err := c.outbox.Enqueue(ctx, record); err != nil {
		c.logger.Error("failed to queue end-of-day completion sync",
			zap.String("business_date", businessDate),
			zap.Error(err),
		)
	}

	c.logger.Info("finalized end-of-day checklist",
		zap.String("business_date", businessDate),
		zap.String("finalized_by", finalized.FinalizedBy),
	)
	return finalized, nil
}

// CanFinalize reports whether the date could finalize right now. When it
// cannot, the titles name the blocking required steps.
func (c *Controller) CanFinalize(ctx context.Context, businessDate string) (bool, []string, error) {
	inst, err := c.Get(ctx, businessDate)
	if err != nil {
		return false, nil, err
	}
	if inst.Finalized {
		return false, nil, model.NewAlreadyFinalizedError(businessDate)
	}
	incomplete := checklist.RequiredIncomplete(inst)
	if len(incomplete) == 0 {
		return true, nil, nil
	}
	return false, checklist.StepTitles(incomplete), nil
}

// Finalized reports whether the business date has been closed. Having every
// step ticked is not enough — only an explicit Finalize counts.
func (c *Controller) Finalized(ctx context.Context, businessDate string) (bool, error) {
	if err := validateBusinessDate(businessDate); err != nil {
		return false, err
	}
	inst, err := c.store.Get(ctx, businessDate)
	if err != nil {
		if model.ErrorCode(err) == model.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return inst.Finalized, nil
}

func (c *Controller) mutate(ctx context.Context, businessDate string, fn func(model.ChecklistInstance) (model.ChecklistInstance, error)) error {
	var lastErr error
	for attempt := 0; attempt < updateRetries; attempt++ {
		inst, err := c.store.Get(ctx, businessDate)
		if err != nil {
			return err
		}

		updated, err := fn(inst)
		if err != nil {
			return err
		}

		if err := c.store.Update(ctx, updated); err != nil {
			if model.ErrorCode(err) == model.ErrConflict {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

func mustStepIndex(inst model.ChecklistInstance, stepID string) int {
	for i := range inst.Steps {
		if inst.Steps[i].StepID == stepID {
			return i
		}
	}
	return 0
}

// validateBusinessDate enforces the YYYY-MM-DD scope key format.
func validateBusinessDate(businessDate string) error {
	if _, err := time.Parse("2006-01-02", businessDate); err != nil {
		return model.NewBadRequestError("businessDate must be formatted YYYY-MM-DD")
	}
	return nil
}
