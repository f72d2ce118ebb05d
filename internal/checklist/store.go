package checklist

import (
	"context"

	"github.com/glossworks/shopcore/model"
)

// Store persists checklist instances keyed by scope: job-card ID for SOP
// checklists, business date for end-of-day checklists. One scope owns at
// most one live instance.
type Store interface {
	// Create persists a new instance. Returns CONFLICT if the scope
	// already has one.
	Create(ctx context.Context, inst model.ChecklistInstance) error

	// Get retrieves the instance for a scope. Returns NOT_FOUND if the
	// scope has no instance — callers must treat that as "no checklist",
	// distinct from a checklist with zero steps.
	Get(ctx context.Context, scopeKey string) (model.ChecklistInstance, error)

	// Update persists an updated instance with optimistic locking. The
	// version must match the stored version; returns CONFLICT otherwise.
	Update(ctx context.Context, inst model.ChecklistInstance) error

	// Delete removes the instance for a scope.
	Delete(ctx context.Context, scopeKey string) error
}
