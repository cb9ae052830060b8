package taskfactory

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
)

// memTaskStore enforces the request_id+key unique constraint in memory.
type memTaskStore struct {
	mu    sync.Mutex
	tasks []domain.Task
}

func (s *memTaskStore) Create(_ context.Context, task *domain.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].RequestID == task.RequestID && s.tasks[i].Key == task.Key {
			return false, nil
		}
	}
	s.tasks = append(s.tasks, *task)
	return true, nil
}

func (s *memTaskStore) ListByRequest(_ context.Context, requestID uuid.UUID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for i := range s.tasks {
		if s.tasks[i].RequestID == requestID {
			out = append(out, s.tasks[i])
		}
	}
	return out, nil
}

func newRequest(reqType domain.RequestType) *domain.Request {
	return &domain.Request{
		ID:     uuid.New(),
		Type:   reqType,
		Status: domain.StatusIntake,
	}
}

func TestCreateTasks_ImageShape(t *testing.T) {
	store := &memTaskStore{}
	factory := New(store, nil)

	tasks, err := factory.CreateTasks(context.Background(), newRequest(domain.RequestTypeImage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("image request should produce 4 tasks, got %d", len(tasks))
	}

	wantRoles := []domain.AgentRole{
		domain.RoleExecutive,
		domain.RoleStrategist,
		domain.RoleProducer,
		domain.RoleQA,
	}
	for i, task := range tasks {
		if task.Role != wantRoles[i] {
			t.Errorf("task %d role = %s, want %s", i, task.Role, wantRoles[i])
		}
		if task.Sequence != i+1 {
			t.Errorf("task %d sequence = %d, want %d", i, task.Sequence, i+1)
		}
		if task.Status != domain.TaskStatusPending {
			t.Errorf("task %s status = %s, want PENDING", task.Key, task.Status)
		}
		if task.MaxRetries != defaultMaxRetries {
			t.Errorf("task %s max_retries = %d, want %d", task.Key, task.MaxRetries, defaultMaxRetries)
		}
	}
}

func TestCreateTasks_VideoShapes(t *testing.T) {
	tests := []struct {
		reqType domain.RequestType
		count   int
	}{
		{domain.RequestTypeVideo, 5},
		{domain.RequestTypeVideoVoice, 6},
	}

	for _, tt := range tests {
		store := &memTaskStore{}
		factory := New(store, nil)

		tasks, err := factory.CreateTasks(context.Background(), newRequest(tt.reqType))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.reqType, err)
		}
		if len(tasks) != tt.count {
			t.Errorf("%s: got %d tasks, want %d", tt.reqType, len(tasks), tt.count)
		}
	}
}

func TestCreateTasks_Idempotent(t *testing.T) {
	store := &memTaskStore{}
	factory := New(store, nil)
	req := newRequest(domain.RequestTypeVideoVoice)

	first, err := factory.CreateTasks(context.Background(), req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := factory.CreateTasks(context.Background(), req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("second call changed task count: %d -> %d", len(first), len(second))
	}

	keys := make(map[string]bool)
	for _, task := range second {
		if keys[task.Key] {
			t.Errorf("duplicate task key %s", task.Key)
		}
		keys[task.Key] = true
	}
}

func TestCreateTasks_ConcurrentNoDuplicates(t *testing.T) {
	store := &memTaskStore{}
	factory := New(store, nil)
	req := newRequest(domain.RequestTypeImage)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := factory.CreateTasks(context.Background(), req); err != nil {
				t.Errorf("concurrent create: %v", err)
			}
		}()
	}
	wg.Wait()

	tasks, _ := store.ListByRequest(context.Background(), req.ID)
	keys := make(map[string]bool)
	for _, task := range tasks {
		keys[task.Key] = true
	}
	if len(keys) != len(tasks) || len(tasks) != 4 {
		t.Fatalf("expected 4 unique tasks, got %d tasks / %d keys", len(tasks), len(keys))
	}
}

func TestCreateTasks_UnknownType(t *testing.T) {
	factory := New(&memTaskStore{}, nil)

	_, err := factory.CreateTasks(context.Background(), newRequest("podcast"))
	if err == nil {
		t.Fatal("expected error for unknown request type")
	}
}

func TestRegister_NewShape(t *testing.T) {
	store := &memTaskStore{}
	factory := New(store, nil)

	factory.Register("carousel", []Blueprint{
		{Role: domain.RoleStrategist, Key: "strategy", Name: "Strategy", Sequence: 1, Timeout: time.Minute},
		{Role: domain.RoleProducer, Key: "render", Name: "Render", Sequence: 2, DependsOn: []string{"strategy"}, Timeout: time.Minute},
	})

	tasks, err := factory.CreateTasks(context.Background(), newRequest("carousel"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
}

func TestCreateTasks_Dependencies(t *testing.T) {
	store := &memTaskStore{}
	factory := New(store, nil)

	tasks, err := factory.CreateTasks(context.Background(), newRequest(domain.RequestTypeVideoVoice))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byKey := make(map[string]domain.Task)
	for _, task := range tasks {
		byKey[task.Key] = task
	}

	render := byKey["render"]
	if !slices.Contains(render.DependsOn, "voiceover") || !slices.Contains(render.DependsOn, "script") {
		t.Errorf("render deps = %v, want script and voiceover", render.DependsOn)
	}

	done := map[string]bool{"script": true}
	if render.DepsSatisfied(done) {
		t.Error("render deps must not be satisfied without voiceover")
	}
	done["voiceover"] = true
	if !render.DepsSatisfied(done) {
		t.Error("render deps should be satisfied")
	}
}
