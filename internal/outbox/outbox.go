// Package outbox queues backend writes so local checklist mutations never
// block on, or fail with, the remote shop systems. Records are drained by a
// background worker with exponential backoff.
package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glossworks/shopcore/model"
)

// SyncRecord is one pending backend write.
type SyncRecord struct {
	ID            string                `json:"id"`
	Service       string                `json:"service"`
	Method        string                `json:"method"`
	Path          string                `json:"path"`
	Body          map[string]any        `json:"body,omitempty"`
	CoalesceKey   string                `json:"coalesceKey,omitempty"`
	Actor         *model.RequestContext `json:"actor,omitempty"`
	Attempts      int                   `json:"attempts"`
	NextAttemptAt time.Time             `json:"nextAttemptAt"`
	LastError     string                `json:"lastError,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// Store holds pending sync records.
type Store interface {
	// Enqueue adds a record. When the record carries a coalesce key and a
	// pending record with the same key exists, the older record is replaced
	// so only the newest intent for a given step is ever delivered.
	Enqueue(ctx context.Context, record *SyncRecord) error

	// Due returns up to limit records whose next attempt time has passed,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*SyncRecord, error)

	// Update rewrites a record after a failed delivery attempt.
	Update(ctx context.Context, record *SyncRecord) error

	// Delete removes a record after successful delivery or exhaustion.
	Delete(ctx context.Context, id string) error

	// Depth reports the number of pending records.
	Depth(ctx context.Context) (int, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*SyncRecord
	byKey   map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*SyncRecord),
		byKey:   make(map[string]string),
	}
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(_ context.Context, record *SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.NextAttemptAt.IsZero() {
		record.NextAttemptAt = record.CreatedAt
	}

	if record.CoalesceKey != "" {
		if oldID, ok := s.byKey[record.CoalesceKey]; ok {
			delete(s.records, oldID)
		}
		s.byKey[record.CoalesceKey] = record.ID
	}
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// Due implements Store.
func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]*SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*SyncRecord, 0, limit)
	for _, record := range s.records {
		if !record.NextAttemptAt.After(now) {
			due = append(due, cloneRecord(record))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, record *SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; !ok {
		return model.NewNotFoundError("sync record not found: " + record.ID)
	}
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	if record.CoalesceKey != "" && s.byKey[record.CoalesceKey] == id {
		delete(s.byKey, record.CoalesceKey)
	}
	delete(s.records, id)
	return nil
}

// Depth implements Store.
func (s *MemoryStore) Depth(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func cloneRecord(record *SyncRecord) *SyncRecord {
	out := *record
	if record.Body != nil {
		out.Body = make(map[string]any, len(record.Body))
		for k, v := range record.Body {
			out.Body[k] = v
		}
	}
	if record.Actor != nil {
		actor := *record.Actor
		out.Actor = &actor
	}
	return &out
}
