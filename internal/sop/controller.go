// Package sop binds SOP checklist templates to job cards and keeps the shop
// backend in sync with local step changes.
package sop

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/checklist"
	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/internal/outbox"
	"github.com/glossworks/shopcore/internal/remote"
	"github.com/glossworks/shopcore/model"
)

// updateRetries bounds optimistic-lock retries for a single step mutation.
const updateRetries = 3

// Controller manages SOP checklist instances bound to job cards.
type Controller struct {
	templates *checklist.Registry
	store     checklist.Store
	outbox    outbox.Store
	logger    *zap.Logger
}

// NewController creates a Controller.
func NewController(templates *checklist.Registry, store checklist.Store, ob outbox.Store, logger *zap.Logger) *Controller {
	return &Controller{
		templates: templates,
		store:     store,
		outbox:    ob,
		logger:    logger,
	}
}

// StepResult is the outcome of a step mutation.
type StepResult struct {
	Instance model.ChecklistInstance `json:"checklist"`
	Progress model.Progress          `json:"progress"`
}

// LoadFor resolves the SOP checklist for a job card. If no template exists
// for the job card's service type it returns (nil, nil): the job card simply
// has no SOP checklist and the quality-check gate stays open. Previously
// persisted step state is folded in by step ID so template edits between
// sessions never misattribute completions.
func (c *Controller) LoadFor(ctx context.Context, jobCardID, serviceType string, persisted []model.PersistedStepState) (*model.ChecklistInstance, error) {
	ctx, span := observability.StartSpan(ctx, "sop.load_checklist",
		observability.AttrJobCardID.String(jobCardID),
		observability.AttrServiceType.String(serviceType),
	)
	defer span.End()

	if inst, err := c.store.Get(ctx, jobCardID); err == nil {
		return &inst, nil
	} else if model.ErrorCode(err) != model.ErrNotFound {
		return nil, err
	}

	tmpl, ok := c.templates.SOPTemplate(serviceType)
	if !ok {
		c.logger.Debug("no checklist template for service type",
			zap.String("job_card_id", jobCardID),
			zap.String("service_type", serviceType),
		)
		return nil, nil
	}

	inst := checklist.NewInstance(tmpl, jobCardID)
	inst = checklist.Seed(inst, persisted)
	if err := c.store.Create(ctx, inst); err != nil {
		// Concurrent load for the same job card. The winner's instance is
		// equivalent, so read it back.
		if model.ErrorCode(err) == model.ErrConflict {
			existing, getErr := c.store.Get(ctx, jobCardID)
			if getErr != nil {
				return nil, getErr
			}
			return &existing, nil
		}
		return nil, err
	}

	c.logger.Info("bound checklist to job card",
		zap.String("job_card_id", jobCardID),
		zap.String("service_type", serviceType),
		zap.String("template_id", tmpl.ID),
		zap.Int("steps", len(inst.Steps)),
	)
	return &inst, nil
}

// Get returns the checklist bound to a job card, or (nil, nil) when the job
// card has none.
func (c *Controller) Get(ctx context.Context, jobCardID string) (*model.ChecklistInstance, error) {
	inst, err := c.store.Get(ctx, jobCardID)
	if err != nil {
		if model.ErrorCode(err) == model.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

// CompleteStep marks a step complete and queues the backend sync.
func (c *Controller) CompleteStep(ctx context.Context, rctx *model.RequestContext, jobCardID, stepID string) (StepResult, error) {
	return c.toggle(ctx, rctx, jobCardID, stepID, true)
}

// UncheckStep clears a step's completion flag and queues the backend sync.
// Unchecking never rolls back a stage the job card has already reached.
func (c *Controller) UncheckStep(ctx context.Context, rctx *model.RequestContext, jobCardID, stepID string) (StepResult, error) {
	return c.toggle(ctx, rctx, jobCardID, stepID, false)
}

func (c *Controller) toggle(ctx context.Context, rctx *model.RequestContext, jobCardID, stepID string, completed bool) (StepResult, error) {
	ctx, span := observability.StartSpan(ctx, "sop.toggle_step",
		observability.AttrJobCardID.String(jobCardID),
		observability.AttrStepID.String(stepID),
	)
	defer span.End()

	var result StepResult
	err := c.mutate(ctx, jobCardID, func(inst model.ChecklistInstance) (model.ChecklistInstance, error) {
		updated, err := checklist.ToggleStep(inst, stepID, completed)
		if err != nil {
			return inst, err
		}
		result.Instance = updated
		result.Progress = checklist.ComputeProgress(updated)
		return updated, nil
	})
	if err != nil {
		return StepResult{}, err
	}

	record := &outbox.SyncRecord{
		Service: config.ServiceJobCard,
		Method:  http.MethodPut,
		Path:    fmt.Sprintf("/job-cards/%s/sop", remote.PathEscape(jobCardID)),
		Body: map[string]any{
			"stepId":    stepID,
			"completed": completed,
		},
		CoalesceKey: fmt.Sprintf("sop:%s:%s", jobCardID, stepID),
		Actor:       rctx,
	}
	if err := c.outbox.Enqueue(ctx, record); err != nil {
		c.logger.Error("failed to queue step sync",
			zap.String("job_card_id", jobCardID),
			zap.String("step_id", stepID),
			zap.Error(err),
		)
	}
	return result, nil
}

// AttachPhoto appends a photo URI to a step's evidence and queues the
// backend sync. Photos never coalesce: each one is a distinct record.
func (c *Controller) AttachPhoto(ctx context.Context, rctx *model.RequestContext, jobCardID, stepID, photoURI string) (StepResult, error) {
	if photoURI == "" {
		return StepResult{}, model.NewValidationError([]model.FieldError{
			{Field: "photoUrl", Code: "required", Message: "photoUrl must not be empty"},
		})
	}

	ctx, span := observability.StartSpan(ctx, "sop.attach_photo",
		observability.AttrJobCardID.String(jobCardID),
		observability.AttrStepID.String(stepID),
	)
	defer span.End()

	var result StepResult
	err := c.mutate(ctx, jobCardID, func(inst model.ChecklistInstance) (model.ChecklistInstance, error) {
		updated, err := checklist.AttachEvidence(inst, stepID, photoURI)
		if err != nil {
			return inst, err
		}
		result.Instance = updated
		result.Progress = checklist.ComputeProgress(updated)
		return updated, nil
	})
	if err != nil {
		return StepResult{}, err
	}

	record := &outbox.SyncRecord{
		Service: config.ServiceJobCard,
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("/job-cards/%s/sop/add-photo", remote.PathEscape(jobCardID)),
		Body: map[string]any{
			"stepId":   stepID,
			"photoUrl": photoURI,
		},
		Actor: rctx,
	}
	if err := c.outbox.Enqueue(ctx, record); err != nil {
		c.logger.Error("failed to queue photo sync",
			zap.String("job_card_id", jobCardID),
			zap.String("step_id", stepID),
			zap.Error(err),
		)
	}
	return result, nil
}

// Progress returns the completion summary for a job card's checklist. A job
// card with no checklist reports zero progress over zero steps.
func (c *Controller) Progress(ctx context.Context, jobCardID string) (model.Progress, error) {
	inst, err := c.Get(ctx, jobCardID)
	if err != nil {
		return model.Progress{}, err
	}
	if inst == nil {
		return model.Progress{}, nil
	}
	return checklist.ComputeProgress(*inst), nil
}

// CanAdvanceStage reports whether the job card's SOP gate is satisfied.
// When the gate is closed, the returned titles name the blocking steps in
// template order. A job card with no checklist has no gate.
func (c *Controller) CanAdvanceStage(ctx context.Context, jobCardID string) (bool, []string, error) {
	inst, err := c.Get(ctx, jobCardID)
	if err != nil {
		return false, nil, err
	}
	if inst == nil {
		return true, nil, nil
	}
	incomplete := checklist.RequiredIncomplete(*inst)
	if len(incomplete) == 0 {
		return true, nil, nil
	}
	return false, checklist.StepTitles(incomplete), nil
}

// mutate applies fn to the job card's checklist under optimistic locking,
// retrying on version conflicts.
func (c *Controller) mutate(ctx context.Context, jobCardID string, fn func(model.ChecklistInstance) (model.ChecklistInstance, error)) error {
	var lastErr error
	for attempt := 0; attempt < updateRetries; attempt++ {
		inst, err := c.store.Get(ctx, jobCardID)
		if err != nil {
			if model.ErrorCode(err) == model.ErrNotFound {
				return model.NewNotFoundError("no checklist bound to job card " + jobCardID)
			}
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
