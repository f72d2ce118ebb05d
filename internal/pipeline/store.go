package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/glossworks/shopcore/model"
)

// Store holds the working set of job cards. The shop backend owns the full
// work-order record; this store tracks only what the pipeline needs.
type Store interface {
	Create(ctx context.Context, card model.JobCard) error
	Get(ctx context.Context, id string) (model.JobCard, error)
	Update(ctx context.Context, card model.JobCard) error
	List(ctx context.Context) ([]model.JobCard, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]model.JobCard
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cards: make(map[string]model.JobCard)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, card model.JobCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cards[card.ID]; exists {
		return model.NewConflictError("job card already exists: " + card.ID)
	}
	now := time.Now().UTC()
	card.CreatedAt = now
	card.UpdatedAt = now
	card.Version = 1
	s.cards[card.ID] = card
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (model.JobCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[id]
	if !ok {
		return model.JobCard{}, model.NewNotFoundError("job card not found: " + id)
	}
	return card, nil
}

// Update implements Store. The version must match the stored version.
func (s *MemoryStore) Update(_ context.Context, card model.JobCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cards[card.ID]
	if !ok {
		return model.NewNotFoundError("job card not found: " + card.ID)
	}
	if current.Version != card.Version {
		return model.NewConflictError("job card was modified concurrently: " + card.ID)
	}
	card.Version++
	card.UpdatedAt = time.Now().UTC()
	s.cards[card.ID] = card
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]model.JobCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.JobCard, 0, len(s.cards))
	for _, card := range s.cards {
		out = append(out, card)
	}
	return out, nil
}
