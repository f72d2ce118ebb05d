// Package pipeline moves job cards through the shop's fixed service
// pipeline. Transitions are declared in a single table so the legal edges
// and their guards are visible in one place.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/model"
)

// SOPGate answers whether a job card's SOP checklist permits leaving the
// service bay. A job card with no checklist always passes.
type SOPGate interface {
	CanAdvanceStage(ctx context.Context, jobCardID string) (bool, []string, error)
}

// edge is one directed transition between stages.
type edge struct {
	from model.PipelineStage
	to   model.PipelineStage
}

// guardFn vetoes a transition. It returns nil to allow.
type guardFn func(ctx context.Context, m *Machine, card model.JobCard) error

// Machine advances job cards through the pipeline.
type Machine struct {
	store  Store
	gate   SOPGate
	logger *zap.Logger

	// transitions maps every legal edge to its guard. A nil guard means
	// the edge is unconditional. Absent edges are illegal.
	transitions map[edge]guardFn
}

// NewMachine creates a Machine over the given store and SOP gate.
func NewMachine(store Store, gate SOPGate, logger *zap.Logger) *Machine {
	m := &Machine{
		store:  store,
		gate:   gate,
		logger: logger,
	}
	m.transitions = map[edge]guardFn{
		{model.StageCheckIn, model.StageInService}:           nil,
		{model.StageInService, model.StageQualityCheck}:      guardSOPComplete,
		{model.StageQualityCheck, model.StageReadyForPickup}: nil,
		{model.StageReadyForPickup, model.StageBilling}:      nil,
		{model.StageBilling, model.StagePaid}:                nil,
	}
	return m
}

// guardSOPComplete blocks the exit from the service bay until every
// required SOP step is complete.
func guardSOPComplete(ctx context.Context, m *Machine, card model.JobCard) error {
	ok, blocking, err := m.gate.CanAdvanceStage(ctx, card.ID)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewGuardFailedError(blocking)
	}
	return nil
}

// Register adds a new job card at the check-in stage.
func (m *Machine) Register(ctx context.Context, id, serviceType string) (model.JobCard, error) {
	if id == "" {
		return model.JobCard{}, model.NewValidationError([]model.FieldError{
			{Field: "id", Code: "required", Message: "id must not be empty"},
		})
	}
	if serviceType == "" {
		return model.JobCard{}, model.NewValidationError([]model.FieldError{
			{Field: "serviceType", Code: "required", Message: "serviceType must not be empty"},
		})
	}

	card := model.JobCard{
		ID:          id,
		ServiceType: serviceType,
		Stage:       model.StageCheckIn,
	}
	if err := m.store.Create(ctx, card); err != nil {
		return model.JobCard{}, err
	}

	m.logger.Info("registered job card",
		zap.String("job_card_id", id),
		zap.String("service_type", serviceType),
	)
	return m.store.Get(ctx, id)
}

// Get returns a job card by ID.
func (m *Machine) Get(ctx context.Context, id string) (model.JobCard, error) {
	return m.store.Get(ctx, id)
}

// List returns all job cards in the working set.
func (m *Machine) List(ctx context.Context) ([]model.JobCard, error) {
	return m.store.List(ctx)
}

// Advance moves a job card to the requested stage. The move must be a legal
// edge in the transition table and its guard, if any, must pass. Skipping
// stages and moving backward are both illegal, including from the terminal
// paid stage. A non-empty from is the caller's view of the current stage:
// if it disagrees with the stored stage the caller is working from stale
// data and the move is rejected with CONFLICT.
func (m *Machine) Advance(ctx context.Context, id string, from, to model.PipelineStage) (model.JobCard, error) {
	if !to.Valid() {
		return model.JobCard{}, model.NewBadRequestError("unknown pipeline stage: " + string(to))
	}
	if from != "" && !from.Valid() {
		return model.JobCard{}, model.NewBadRequestError("unknown pipeline stage: " + string(from))
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.advance",
		observability.AttrJobCardID.String(id),
		observability.AttrStage.String(string(to)),
	)
	defer span.End()

	card, err := m.store.Get(ctx, id)
	if err != nil {
		return model.JobCard{}, err
	}

	if from != "" && card.Stage != from {
		return model.JobCard{}, model.NewConflictError(fmt.Sprintf(
			"job card %s is in stage %s, not %s", id, card.Stage, from,
		))
	}

	guard, legal := m.transitions[edge{card.Stage, to}]
	if !legal {
		return model.JobCard{}, model.NewIllegalTransitionError(card.Stage, to)
	}
	if guard != nil {
		if err := guard(ctx, m, card); err != nil {
			m.logger.Info("stage transition blocked",
				zap.String("job_card_id", id),
				zap.String("from", string(card.Stage)),
				zap.String("to", string(to)),
				zap.String("reason", err.Error()),
			)
			return model.JobCard{}, err
		}
	}

	from = card.Stage
	card.Stage = to
	if err := m.store.Update(ctx, card); err != nil {
		return model.JobCard{}, err
	}

	m.logger.Info("advanced job card",
		zap.String("job_card_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return m.store.Get(ctx, id)
}

// SetPriority flags or unflags a job card as priority. Priority is a queue
// hint within the current stage; it never consults checklist gating and
// never changes the stage.
func (m *Machine) SetPriority(ctx context.Context, id string, priority bool) (model.JobCard, error) {
	card, err := m.store.Get(ctx, id)
	if err != nil {
		return model.JobCard{}, err
	}
	if card.Priority == priority {
		return card, nil
	}

	card.Priority = priority
	if err := m.store.Update(ctx, card); err != nil {
		return model.JobCard{}, err
	}
	return m.store.Get(ctx, id)
}
