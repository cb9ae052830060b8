package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/repo"
)

// In-memory stores mirroring the conditional-write semantics of the
// Postgres repositories. Shared by the orchestrator tests.

type memRequests struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Request
}

func newMemRequests() *memRequests {
	return &memRequests{items: make(map[uuid.UUID]*domain.Request)}
}

func (s *memRequests) Create(_ context.Context, req *domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.items[req.ID] = &cp
	return nil
}

func (s *memRequests) GetByID(_ context.Context, id uuid.UUID) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *memRequests) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.items[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if req.Status != from {
		return false, nil
	}
	req.Status = to
	return true, nil
}

type memTasks struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Task
}

func newMemTasks() *memTasks {
	return &memTasks{items: make(map[uuid.UUID]*domain.Task)}
}

func (s *memTasks) Create(_ context.Context, task *domain.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Unique constraint on (request_id, key).
	for _, existing := range s.items {
		if existing.RequestID == task.RequestID && existing.Key == task.Key {
			return false, nil
		}
	}
	cp := *task
	s.items[task.ID] = &cp
	return true, nil
}

func (s *memTasks) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (s *memTasks) ListByRequest(_ context.Context, requestID uuid.UUID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, task := range s.items {
		if task.RequestID == requestID {
			out = append(out, *task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *memTasks) Update(_ context.Context, task *domain.Task, expect domain.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[task.ID]
	if !ok {
		return false, repo.ErrNotFound
	}
	if existing.Status != expect {
		return false, nil
	}
	cp := *task
	s.items[task.ID] = &cp
	return true, nil
}

type memDispatches struct {
	mu   sync.Mutex
	recs []domain.DispatchRecord
}

func newMemDispatches() *memDispatches {
	return &memDispatches{}
}

func (s *memDispatches) Insert(_ context.Context, rec *domain.DispatchRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Unique constraint on (task_id, external_job_id, status).
	for i := range s.recs {
		r := &s.recs[i]
		if r.TaskID == rec.TaskID && r.ExternalJobID == rec.ExternalJobID && r.Status == rec.Status {
			return false, nil
		}
	}
	s.recs = append(s.recs, *rec)
	return true, nil
}

func (s *memDispatches) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DispatchRecord
	for i := range s.recs {
		if s.recs[i].TaskID == taskID {
			out = append(out, s.recs[i])
		}
	}
	return out, nil
}

type memEventStore struct {
	mu     sync.Mutex
	events []domain.Event
}

func newMemEventStore() *memEventStore {
	return &memEventStore{}
}

func (s *memEventStore) Insert(_ context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *memEventStore) ListByRequest(_ context.Context, requestID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := range s.events {
		if s.events[i].RequestID == requestID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *memEventStore) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := range s.events {
		if s.events[i].TaskID != nil && *s.events[i].TaskID == taskID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *memEventStore) CountByType(_ context.Context, requestID uuid.UUID) (map[domain.EventType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.EventType]int)
	for i := range s.events {
		if s.events[i].RequestID == requestID {
			counts[s.events[i].Type]++
		}
	}
	return counts, nil
}

// byType returns events of the given type for a request, in insert order.
func (s *memEventStore) byType(requestID uuid.UUID, typ domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := range s.events {
		if s.events[i].RequestID == requestID && s.events[i].Type == typ {
			out = append(out, s.events[i])
		}
	}
	return out
}

type memDeadLetters struct {
	mu       sync.Mutex
	received []domain.DeadLetter
	requeued []uuid.UUID
}

func newMemDeadLetters() *memDeadLetters {
	return &memDeadLetters{}
}

func (s *memDeadLetters) Receive(_ context.Context, task *domain.Task, history []domain.DeadLetterAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, domain.DeadLetter{
		ID:        uuid.New(),
		TaskID:    task.ID,
		RequestID: task.RequestID,
		Role:      task.Role,
		Key:       task.Key,
		Reason:    task.Error,
		Attempts:  task.RetryCount + 1,
		History:   history,
	})
	return nil
}

func (s *memDeadLetters) MarkRequeued(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeued = append(s.requeued, taskID)
	return nil
}

func (s *memDeadLetters) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// stubDispatcher records dispatches and returns sequential job ids.
type stubDispatcher struct {
	name string

	mu    sync.Mutex
	calls int
	err   error
}

func (d *stubDispatcher) Name() string { return d.name }

func (d *stubDispatcher) Dispatch(_ context.Context, _ *domain.Request, task *domain.Task) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return fmt.Sprintf("job-%s-%d", task.Key, d.calls), nil
}

func (d *stubDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// stubRouter sends every role to the same dispatcher.
type stubRouter struct {
	dispatcher Dispatcher
}

func (r *stubRouter) For(domain.AgentRole) (Dispatcher, error) {
	return r.dispatcher, nil
}
