package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/retrypolicy"
)

// --- Test Fakes ---

type fakeDispatcher struct {
	name string
}

func (f *fakeDispatcher) Name() string { return f.name }

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *domain.Request, _ *domain.Task) (string, error) {
	return "job-1", nil
}

type fakeDispatchPublisher struct {
	published []mq.TaskDispatchPayload
	err       error
}

func (f *fakeDispatchPublisher) PublishTaskDispatch(_ context.Context, payload mq.TaskDispatchPayload) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload)
	return nil
}

// --- Router Tests ---

func TestRouter_For(t *testing.T) {
	r := NewRouter()
	qa := &fakeDispatcher{name: "qa-panel"}
	r.Register(domain.RoleQA, qa)

	got, err := r.For(domain.RoleQA)
	if err != nil {
		t.Fatalf("For(qa) error = %v", err)
	}
	if got != orchestrator.Dispatcher(qa) {
		t.Errorf("For(qa) = %v, want registered dispatcher", got.Name())
	}

	if _, err := r.For(domain.RoleProducer); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("For(producer) error = %v, want ErrUnknownRole", err)
	}
}

func TestRouter_Fallback(t *testing.T) {
	r := NewRouter()
	engine := &fakeDispatcher{name: "engine"}
	qa := &fakeDispatcher{name: "qa-panel"}
	r.SetFallback(engine)
	r.Register(domain.RoleQA, qa)

	got, err := r.For(domain.RoleProducer)
	if err != nil {
		t.Fatalf("For(producer) error = %v", err)
	}
	if got.Name() != "engine" {
		t.Errorf("For(producer) = %s, want fallback engine", got.Name())
	}

	// Explicit registration wins over fallback
	got, err = r.For(domain.RoleQA)
	if err != nil {
		t.Fatalf("For(qa) error = %v", err)
	}
	if got.Name() != "qa-panel" {
		t.Errorf("For(qa) = %s, want qa-panel", got.Name())
	}
}

// --- EngineDispatcher Tests ---

func TestEngineDispatch(t *testing.T) {
	pub := &fakeDispatchPublisher{}
	d := NewEngineDispatcher(EngineConfig{Publisher: pub})

	req := &domain.Request{
		ID:    uuid.New(),
		Brief: map[string]any{"topic": "spring sale"},
	}
	task := &domain.Task{
		ID:         uuid.New(),
		RequestID:  req.ID,
		Role:       domain.RoleProducer,
		Key:        "render",
		TimeoutSec: 1800,
	}

	jobID, err := d.Dispatch(context.Background(), req, task)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if jobID == "" {
		t.Fatal("Dispatch() returned empty job id")
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	p := pub.published[0]
	if p.JobID != jobID {
		t.Errorf("payload JobID = %s, want %s", p.JobID, jobID)
	}
	if p.TaskID != task.ID || p.RequestID != req.ID {
		t.Errorf("payload ids = (%s, %s), want (%s, %s)", p.TaskID, p.RequestID, task.ID, req.ID)
	}
	if p.DelayMs != 0 {
		t.Errorf("DelayMs = %d for first attempt, want 0", p.DelayMs)
	}
	if p.Brief["topic"] != "spring sale" {
		t.Errorf("Brief not propagated: %v", p.Brief)
	}
}

func TestEngineDispatch_RetryCarriesBackoff(t *testing.T) {
	pub := &fakeDispatchPublisher{}
	d := NewEngineDispatcher(EngineConfig{
		Publisher: pub,
		Backoff: retrypolicy.Policy{
			MaxRetries: 3,
			BaseDelay:  5 * time.Second,
			Multiplier: 2.0,
			MaxDelay:   60 * time.Second,
		},
	})

	req := &domain.Request{ID: uuid.New()}
	task := &domain.Task{ID: uuid.New(), Role: domain.RoleVoice, Key: "voiceover", RetryCount: 2}

	if _, err := d.Dispatch(context.Background(), req, task); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// Second retry: base 5s doubled once = 10s
	if got := pub.published[0].DelayMs; got != 10000 {
		t.Errorf("DelayMs = %d, want 10000", got)
	}
}

func TestEngineDispatch_PublishError(t *testing.T) {
	pub := &fakeDispatchPublisher{err: errors.New("broker down")}
	d := NewEngineDispatcher(EngineConfig{Publisher: pub})

	req := &domain.Request{ID: uuid.New()}
	task := &domain.Task{ID: uuid.New(), Role: domain.RoleProducer, Key: "render"}

	if _, err := d.Dispatch(context.Background(), req, task); err == nil {
		t.Fatal("Dispatch() expected error, got nil")
	}
}

// --- Mock Worker Tests ---

func TestBuildCallback_Success(t *testing.T) {
	w := NewWorker(WorkerConfig{})

	payload := &mq.TaskDispatchPayload{
		TaskID:    uuid.New(),
		RequestID: uuid.New(),
		JobID:     "job-42",
		Role:      domain.RoleProducer,
		Key:       "render",
	}

	cb := w.buildCallback(payload)

	if cb.Status != string(domain.TaskStatusCompleted) {
		t.Errorf("Status = %s, want COMPLETED", cb.Status)
	}
	if cb.JobID != "job-42" || cb.TaskID != payload.TaskID {
		t.Errorf("callback ids not propagated: %+v", cb)
	}
	if !strings.HasSuffix(cb.OutputURL, ".mp4") {
		t.Errorf("OutputURL = %s, want .mp4 for producer", cb.OutputURL)
	}
	if cb.CostCents != 250 {
		t.Errorf("CostCents = %d, want 250", cb.CostCents)
	}
}

func TestBuildCallback_FailKeys(t *testing.T) {
	w := NewWorker(WorkerConfig{
		FailKeys: map[string]string{"render": "RENDER_CRASH"},
	})

	cb := w.buildCallback(&mq.TaskDispatchPayload{
		TaskID: uuid.New(),
		JobID:  "job-1",
		Role:   domain.RoleProducer,
		Key:    "render",
	})

	if cb.Status != string(domain.TaskStatusFailed) {
		t.Errorf("Status = %s, want FAILED", cb.Status)
	}
	if cb.ErrorCode != "RENDER_CRASH" {
		t.Errorf("ErrorCode = %s, want RENDER_CRASH", cb.ErrorCode)
	}
	if cb.OutputURL != "" {
		t.Errorf("OutputURL = %s, want empty on failure", cb.OutputURL)
	}
}

func TestBuildCallback_QAOutput(t *testing.T) {
	w := NewWorker(WorkerConfig{})

	cb := w.buildCallback(&mq.TaskDispatchPayload{
		TaskID: uuid.New(),
		JobID:  "job-1",
		Role:   domain.RoleQA,
		Key:    "review",
	})

	if cb.Output["approved"] != true {
		t.Errorf("Output = %v, want approved=true for qa", cb.Output)
	}
}
