package checklist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glossworks/shopcore/model"
)

// MemoryStore is an in-memory checklist Store. It is the default driver and
// is also used throughout the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.ChecklistInstance // key: scope key
}

// NewMemoryStore creates a new in-memory checklist store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.ChecklistInstance),
	}
}

// Create persists a new checklist instance.
func (s *MemoryStore) Create(_ context.Context, inst model.ChecklistInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ScopeKey]; exists {
		return model.NewConflictError(
			fmt.Sprintf("checklist for scope %q already exists", inst.ScopeKey),
		)
	}

	s.instances[inst.ScopeKey] = inst
	return nil
}

// Get retrieves the instance for a scope.
func (s *MemoryStore) Get(_ context.Context, scopeKey string) (model.ChecklistInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[scopeKey]
	if !exists {
		return model.ChecklistInstance{}, model.NewNotFoundError(
			fmt.Sprintf("checklist for scope %q not found", scopeKey),
		)
	}
	return inst, nil
}

// Update persists an updated instance with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, inst model.ChecklistInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ScopeKey]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("checklist for scope %q not found", inst.ScopeKey),
		)
	}

	if existing.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("checklist for scope %q version conflict (expected %d, got %d)",
				inst.ScopeKey, inst.Version, existing.Version),
		)
	}

	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ScopeKey] = inst
	return nil
}

// Delete removes the instance for a scope.
func (s *MemoryStore) Delete(_ context.Context, scopeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[scopeKey]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("checklist for scope %q not found", scopeKey),
		)
	}

	delete(s.instances, scopeKey)
	return nil
}

// Len returns the total number of instances. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
