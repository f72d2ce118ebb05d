package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/remote"
	"github.com/glossworks/shopcore/model"
)

func TestMemoryStoreEnqueueAndDue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Enqueue(ctx, &SyncRecord{Service: "job_card", Method: "PUT", Path: "/job-cards/jc-1/sop"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	due, err := store.Due(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Due() returned %d records, want 1", len(due))
	}
	if due[0].ID == "" {
		t.Error("Enqueue() did not assign an ID")
	}
	if due[0].Service != "job_card" {
		t.Errorf("Service = %q, want %q", due[0].Service, "job_card")
	}
}

func TestMemoryStoreCoalescesByKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &SyncRecord{
		Service:     "job_card",
		Method:      "PUT",
		Path:        "/job-cards/jc-1/sop",
		Body:        map[string]any{"stepId": "wash", "completed": true},
		CoalesceKey: "sop:jc-1:wash",
	}
	second := &SyncRecord{
		Service:     "job_card",
		Method:      "PUT",
		Path:        "/job-cards/jc-1/sop",
		Body:        map[string]any{"stepId": "wash", "completed": false},
		CoalesceKey: "sop:jc-1:wash",
	}

	if err := store.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue(first) error = %v", err)
	}
	if err := store.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue(second) error = %v", err)
	}

	depth, err := store.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 1 {
		t.Fatalf("Depth() = %d after coalescing enqueue, want 1", depth)
	}

	due, err := store.Due(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if got := due[0].Body["completed"]; got != false {
		t.Errorf("coalesced record body completed = %v, want the newest intent (false)", got)
	}
}

func TestMemoryStoreDueRespectsSchedule(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	record := &SyncRecord{
		Service:       "eod",
		Method:        "POST",
		Path:          "/manager/eod/update-step",
		NextAttemptAt: now.Add(time.Minute),
	}
	if err := store.Enqueue(ctx, record); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	due, err := store.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("Due() returned %d records before schedule, want 0", len(due))
	}

	due, err = store.Due(ctx, now.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 1 {
		t.Errorf("Due() returned %d records after schedule, want 1", len(due))
	}
}

func TestMemoryStoreDeleteClearsCoalesceKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &SyncRecord{Service: "job_card", Method: "PUT", Path: "/p", CoalesceKey: "k"}
	if err := store.Enqueue(ctx, record); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := store.Delete(ctx, record.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if err := store.Enqueue(ctx, &SyncRecord{Service: "job_card", Method: "PUT", Path: "/p", CoalesceKey: "k"}); err != nil {
		t.Fatalf("Enqueue() after delete error = %v", err)
	}
	depth, _ := store.Depth(ctx)
	if depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}
}

type fakeInvoker struct {
	mu       sync.Mutex
	calls    []string
	statuses []int
	errs     []error
}

func (f *fakeInvoker) Do(_ context.Context, _ *model.RequestContext, method, path string, _ any) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, method+" "+path)
	idx := len(f.calls) - 1

	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	status := 200
	if idx < len(f.statuses) {
		status = f.statuses[idx]
	}
	return remote.Result{StatusCode: status}, err
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func workerConfig() config.OutboxConfig {
	return config.OutboxConfig{
		Interval:       time.Millisecond,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
	}
}

func TestWorkerDeliversAndDeletes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	invoker := &fakeInvoker{}

	if err := store.Enqueue(ctx, &SyncRecord{Service: "job_card", Method: "PUT", Path: "/job-cards/jc-1/sop"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	worker := NewWorker(store, map[string]Invoker{"job_card": invoker}, workerConfig(), zap.NewNop(), nil)
	worker.Drain(ctx)

	if invoker.callCount() != 1 {
		t.Fatalf("invoker called %d times, want 1", invoker.callCount())
	}
	depth, _ := store.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() = %d after successful delivery, want 0", depth)
	}
}

func TestWorkerReschedulesOnFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	invoker := &fakeInvoker{errs: []error{errors.New("connection refused")}}

	record := &SyncRecord{Service: "job_card", Method: "PUT", Path: "/job-cards/jc-1/sop"}
	if err := store.Enqueue(ctx, record); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	worker := NewWorker(store, map[string]Invoker{"job_card": invoker}, workerConfig(), zap.NewNop(), nil)
	worker.Drain(ctx)

	depth, _ := store.Depth(ctx)
	if depth != 1 {
		t.Fatalf("Depth() = %d after failed delivery, want 1 (rescheduled)", depth)
	}

	due, _ := store.Due(ctx, time.Now().UTC().Add(time.Hour), 10)
	if due[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", due[0].Attempts)
	}
	if due[0].LastError == "" {
		t.Error("LastError is empty after failed delivery")
	}
}

func TestWorkerDropsAfterMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	invoker := &fakeInvoker{
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}

	if err := store.Enqueue(ctx, &SyncRecord{Service: "job_card", Method: "PUT", Path: "/p"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	worker := NewWorker(store, map[string]Invoker{"job_card": invoker}, workerConfig(), zap.NewNop(), nil)
	for i := 0; i < 5; i++ {
		worker.Drain(ctx)
		time.Sleep(15 * time.Millisecond)
	}

	depth, _ := store.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() = %d after exhausting retries, want 0 (dropped)", depth)
	}
	if invoker.callCount() != 3 {
		t.Errorf("invoker called %d times, want 3 (max attempts)", invoker.callCount())
	}
}

func TestWorkerDropsUnknownService(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Enqueue(ctx, &SyncRecord{Service: "nonexistent", Method: "POST", Path: "/p"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	worker := NewWorker(store, map[string]Invoker{}, workerConfig(), zap.NewNop(), nil)
	worker.Drain(ctx)

	depth, _ := store.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() = %d for unknown service record, want 0", depth)
	}
}

func TestWorkerTreats5xxAsFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	invoker := &fakeInvoker{statuses: []int{502}}

	if err := store.Enqueue(ctx, &SyncRecord{Service: "eod", Method: "POST", Path: "/manager/eod/update-step"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	worker := NewWorker(store, map[string]Invoker{"eod": invoker}, workerConfig(), zap.NewNop(), nil)
	worker.Drain(ctx)

	depth, _ := store.Depth(ctx)
	if depth != 1 {
		t.Errorf("Depth() = %d after 502 response, want 1 (rescheduled)", depth)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	worker := NewWorker(store, map[string]Invoker{}, workerConfig(), zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)
	cancel()

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
