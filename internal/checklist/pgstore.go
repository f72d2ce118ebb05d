package checklist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glossworks/shopcore/model"
)

// PgStore is a PostgreSQL-backed checklist Store using pgx/v5. Steps are
// stored as a jsonb column; the scope key is the primary key.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL checklist store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Create inserts a new checklist instance.
func (s *PgStore) Create(ctx context.Context, inst model.ChecklistInstance) error {
	stepsJSON, err := json.Marshal(inst.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO checklist_instances (
			scope_key, template_id, steps,
			finalized, finalized_by, finalized_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (scope_key) DO NOTHING`,
		inst.ScopeKey, inst.TemplateID, stepsJSON,
		inst.Finalized, inst.FinalizedBy, inst.FinalizedAt,
		inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checklist instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("checklist for scope %q already exists", inst.ScopeKey),
		)
	}
	return nil
}

// Get retrieves the instance for a scope.
func (s *PgStore) Get(ctx context.Context, scopeKey string) (model.ChecklistInstance, error) {
	var inst model.ChecklistInstance
	var stepsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT scope_key, template_id, steps,
		       finalized, finalized_by, finalized_at,
		       version, created_at, updated_at
		FROM checklist_instances
		WHERE scope_key = $1`,
		scopeKey,
	).Scan(
		&inst.ScopeKey, &inst.TemplateID, &stepsJSON,
		&inst.Finalized, &inst.FinalizedBy, &inst.FinalizedAt,
		&inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.ChecklistInstance{}, model.NewNotFoundError(
			fmt.Sprintf("checklist for scope %q not found", scopeKey),
		)
	}
	if err != nil {
		return model.ChecklistInstance{}, fmt.Errorf("query checklist instance: %w", err)
	}

	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &inst.Steps); err != nil {
			return model.ChecklistInstance{}, fmt.Errorf("unmarshal steps: %w", err)
		}
	}

	return inst, nil
}

// Update persists an updated instance with optimistic locking.
func (s *PgStore) Update(ctx context.Context, inst model.ChecklistInstance) error {
	stepsJSON, err := json.Marshal(inst.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE checklist_instances SET
			steps = $1,
			finalized = $2,
			finalized_by = $3,
			finalized_at = $4,
			version = $5,
			updated_at = $6
		WHERE scope_key = $7 AND version = $8`,
		stepsJSON, inst.Finalized, inst.FinalizedBy, inst.FinalizedAt,
		inst.Version+1, time.Now().UTC(),
		inst.ScopeKey, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update checklist instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("checklist for scope %q version conflict (expected %d)", inst.ScopeKey, inst.Version),
		)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Delete removes the instance for a scope.
func (s *PgStore) Delete(ctx context.Context, scopeKey string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM checklist_instances
		WHERE scope_key = $1`,
		scopeKey,
	)
	if err != nil {
		return fmt.Errorf("delete checklist instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("checklist for scope %q not found", scopeKey),
		)
	}
	return nil
}
