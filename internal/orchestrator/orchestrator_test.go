package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/breaker"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/events"
	"github.com/shaiso/Conductor/internal/taskfactory"
)

type testEnv struct {
	orch        *Orchestrator
	requests    *memRequests
	tasks       *memTasks
	dispatches  *memDispatches
	eventStore  *memEventStore
	deadLetters *memDeadLetters
	dispatcher  *stubDispatcher
}

func newTestEnv(mutate func(*Config)) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		requests:    newMemRequests(),
		tasks:       newMemTasks(),
		dispatches:  newMemDispatches(),
		eventStore:  newMemEventStore(),
		deadLetters: newMemDeadLetters(),
		dispatcher:  &stubDispatcher{name: "engine"},
	}

	cfg := Config{
		Requests:    env.requests,
		Tasks:       env.tasks,
		Dispatches:  env.dispatches,
		Events:      events.NewLogger(env.eventStore, logger),
		Factory:     taskfactory.New(env.tasks, logger),
		Router:      &stubRouter{dispatcher: env.dispatcher},
		Breakers:    breaker.NewRegistry(breaker.Config{}),
		DeadLetters: env.deadLetters,
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env.orch = New(cfg)
	return env
}

func (e *testEnv) create(t *testing.T, typ domain.RequestType) *domain.Request {
	t.Helper()
	req, err := e.orch.CreateRequest(context.Background(), "user-1", "org-1", typ, map[string]any{"topic": "spring sale"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

func (e *testEnv) process(t *testing.T, requestID uuid.UUID) domain.RequestStatus {
	t.Helper()
	status, err := e.orch.ProcessRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	return status
}

func (e *testEnv) taskByKey(t *testing.T, requestID uuid.UUID, key string) *domain.Task {
	t.Helper()
	tasks, err := e.tasks.ListByRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("ListByRequest: %v", err)
	}
	for i := range tasks {
		if tasks[i].Key == key {
			return &tasks[i]
		}
	}
	t.Fatalf("task %s not found", key)
	return nil
}

// jobID returns the external job id of the latest submitted dispatch.
func (e *testEnv) jobID(t *testing.T, taskID uuid.UUID) string {
	t.Helper()
	recs, err := e.dispatches.ListByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("ListByTask: %v", err)
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Status == domain.DispatchStatusSubmitted {
			return recs[i].ExternalJobID
		}
	}
	t.Fatalf("no submitted dispatch for task %s", taskID)
	return ""
}

func (e *testEnv) complete(t *testing.T, requestID uuid.UUID, key string) {
	t.Helper()
	task := e.taskByKey(t, requestID, key)
	err := e.orch.HandleCallback(context.Background(), Callback{
		TaskID:        task.ID,
		ExternalJobID: e.jobID(t, task.ID),
		Status:        domain.TaskStatusCompleted,
		OutputURL:     "https://cdn.example.com/" + key + ".png",
		Output:        map[string]any{"key": key},
	})
	if err != nil {
		t.Fatalf("HandleCallback(%s): %v", key, err)
	}
}

func (e *testEnv) fail(t *testing.T, requestID uuid.UUID, key, code, msg string) {
	t.Helper()
	task := e.taskByKey(t, requestID, key)
	err := e.orch.HandleCallback(context.Background(), Callback{
		TaskID:        task.ID,
		ExternalJobID: e.jobID(t, task.ID),
		Status:        domain.TaskStatusFailed,
		ErrorCode:     code,
		ErrorMessage:  msg,
	})
	if err != nil {
		t.Fatalf("HandleCallback(%s failed): %v", key, err)
	}
}

func (e *testEnv) requestStatus(t *testing.T, requestID uuid.UUID) domain.RequestStatus {
	t.Helper()
	req, err := e.requests.GetByID(context.Background(), requestID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return req.Status
}

// mutateTask rewrites stored task fields, keeping its current status as
// the expected one. Used to seed edge-case states.
func (e *testEnv) mutateTask(t *testing.T, taskID uuid.UUID, mutate func(*domain.Task)) {
	t.Helper()
	task, err := e.tasks.GetByID(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	expect := task.Status
	mutate(task)
	ok, err := e.tasks.Update(context.Background(), task, expect)
	if err != nil || !ok {
		t.Fatalf("mutate task: ok=%v err=%v", ok, err)
	}
}

// --- CreateRequest Tests ---

func TestCreateRequest(t *testing.T) {
	env := newTestEnv(nil)

	req := env.create(t, domain.RequestTypeImage)

	if req.Status != domain.StatusIntake {
		t.Errorf("expected INTAKE, got %s", req.Status)
	}

	created := env.eventStore.byType(req.ID, domain.EventCreated)
	if len(created) != 1 {
		t.Fatalf("expected 1 created event, got %d", len(created))
	}
	if created[0].Actor != "user-1" {
		t.Errorf("expected actor user-1, got %s", created[0].Actor)
	}

	// No tasks until the first ProcessRequest.
	tasks, _ := env.tasks.ListByRequest(context.Background(), req.ID)
	if len(tasks) != 0 {
		t.Errorf("expected no tasks yet, got %d", len(tasks))
	}
}

func TestCreateRequest_UnknownType(t *testing.T) {
	env := newTestEnv(nil)

	_, err := env.orch.CreateRequest(context.Background(), "user-1", "org-1", "podcast", nil)
	if !errors.Is(err, taskfactory.ErrUnknownRequestType) {
		t.Fatalf("expected ErrUnknownRequestType, got %v", err)
	}
}

// --- ProcessRequest Tests ---

func TestProcessRequest_IntakeToDraft(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)

	status := env.process(t, req.ID)

	if status != domain.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", status)
	}

	tasks, _ := env.tasks.ListByRequest(context.Background(), req.ID)
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks for image, got %d", len(tasks))
	}

	// Tasks without dependencies are dispatched right away.
	if got := env.taskByKey(t, req.ID, "concept").Status; got != domain.TaskStatusInProgress {
		t.Errorf("concept: expected IN_PROGRESS, got %s", got)
	}
	if got := env.taskByKey(t, req.ID, "strategy").Status; got != domain.TaskStatusInProgress {
		t.Errorf("strategy: expected IN_PROGRESS, got %s", got)
	}

	// render depends on strategy and must wait.
	if got := env.taskByKey(t, req.ID, "render").Status; got != domain.TaskStatusPending {
		t.Errorf("render: expected PENDING, got %s", got)
	}

	changes := env.eventStore.byType(req.ID, domain.EventStatusChange)
	if len(changes) != 1 {
		t.Fatalf("expected 1 status_change, got %d", len(changes))
	}
}

func TestProcessRequest_NotFound(t *testing.T) {
	env := newTestEnv(nil)

	_, err := env.orch.ProcessRequest(context.Background(), uuid.New())
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestProcessRequest_ImageEndToEnd(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	// Strategy done -> draft stage complete -> production, render dispatched.
	env.complete(t, req.ID, "strategy")
	if got := env.requestStatus(t, req.ID); got != domain.StatusProduction {
		t.Fatalf("after strategy: expected PRODUCTION, got %s", got)
	}
	if got := env.taskByKey(t, req.ID, "render").Status; got != domain.TaskStatusInProgress {
		t.Fatalf("render should be dispatched, got %s", got)
	}

	// Render done -> qa, review auto-approved -> published.
	env.complete(t, req.ID, "render")
	if got := env.requestStatus(t, req.ID); got != domain.StatusPublished {
		t.Fatalf("after render: expected PUBLISHED, got %s", got)
	}

	review := env.taskByKey(t, req.ID, "review")
	if review.Status != domain.TaskStatusCompleted {
		t.Errorf("review should be auto-completed, got %s", review.Status)
	}

	// Exactly one status_change per hop, in pipeline order.
	changes := env.eventStore.byType(req.ID, domain.EventStatusChange)
	wantHops := [][2]domain.RequestStatus{
		{domain.StatusIntake, domain.StatusDraft},
		{domain.StatusDraft, domain.StatusProduction},
		{domain.StatusProduction, domain.StatusQA},
		{domain.StatusQA, domain.StatusPublished},
	}
	if len(changes) != len(wantHops) {
		t.Fatalf("expected %d status changes, got %d", len(wantHops), len(changes))
	}
	for i, hop := range wantHops {
		from, _ := changes[i].Metadata["from"].(domain.RequestStatus)
		to, _ := changes[i].Metadata["to"].(domain.RequestStatus)
		if from != hop[0] || to != hop[1] {
			t.Errorf("hop %d: got %s -> %s, want %s -> %s", i, from, to, hop[0], hop[1])
		}
	}
}

func TestProcessRequest_RepeatIsNoOp(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	before, _ := env.eventStore.ListByRequest(context.Background(), req.ID)
	calls := env.dispatcher.callCount()

	// In-flight stage: repeat processing changes nothing.
	for i := 0; i < 3; i++ {
		if got := env.process(t, req.ID); got != domain.StatusDraft {
			t.Fatalf("expected DRAFT, got %s", got)
		}
	}

	after, _ := env.eventStore.ListByRequest(context.Background(), req.ID)
	if len(after) != len(before) {
		t.Errorf("repeat processing added events: %d -> %d", len(before), len(after))
	}
	if env.dispatcher.callCount() != calls {
		t.Errorf("repeat processing re-dispatched tasks")
	}
}

func TestProcessRequest_Concurrent(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.orch.ProcessRequest(context.Background(), req.ID)
		}()
	}
	wg.Wait()

	tasks, _ := env.tasks.ListByRequest(context.Background(), req.ID)
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d (duplicates?)", len(tasks))
	}

	changes := env.eventStore.byType(req.ID, domain.EventStatusChange)
	if len(changes) != 1 {
		t.Errorf("expected exactly 1 status_change, got %d", len(changes))
	}

	// Each dispatched task got exactly one submitted record.
	for _, key := range []string{"concept", "strategy"} {
		task := env.taskByKey(t, req.ID, key)
		recs, _ := env.dispatches.ListByTask(context.Background(), task.ID)
		if len(recs) != 1 {
			t.Errorf("%s: expected 1 dispatch record, got %d", key, len(recs))
		}
	}
}

func TestProcessRequest_NoTasksDoesNotAdvance(t *testing.T) {
	env := newTestEnv(nil)

	// A draft request with no tasks: broken state that must not advance.
	req := &domain.Request{
		ID:     uuid.New(),
		Type:   domain.RequestTypeImage,
		Status: domain.StatusDraft,
	}
	if err := env.requests.Create(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if got := env.process(t, req.ID); got != domain.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", got)
	}

	blocked := env.eventStore.byType(req.ID, domain.EventAutoAdvanceBlocked)
	if len(blocked) == 0 {
		t.Error("expected auto_advance_blocked event")
	}
}

// --- Callback Tests ---

func TestHandleCallback_InvalidStatus(t *testing.T) {
	env := newTestEnv(nil)

	err := env.orch.HandleCallback(context.Background(), Callback{
		TaskID: uuid.New(),
		Status: domain.TaskStatusPending,
	})
	if !errors.Is(err, ErrInvalidCallback) {
		t.Fatalf("expected ErrInvalidCallback, got %v", err)
	}
}

func TestHandleCallback_DuplicateIsNoOp(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	cb := Callback{
		TaskID:        task.ID,
		ExternalJobID: env.jobID(t, task.ID),
		Status:        domain.TaskStatusCompleted,
		OutputURL:     "https://cdn.example.com/strategy.json",
	}

	if err := env.orch.HandleCallback(context.Background(), cb); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if err := env.orch.HandleCallback(context.Background(), cb); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}

	completedEvents := env.eventStore.byType(req.ID, domain.EventTaskCompleted)
	if len(completedEvents) != 1 {
		t.Errorf("expected 1 task_completed event, got %d", len(completedEvents))
	}

	recs, _ := env.dispatches.ListByTask(context.Background(), task.ID)
	terminal := 0
	for i := range recs {
		if recs[i].Status == domain.DispatchStatusCompleted {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("expected 1 completed dispatch record, got %d", terminal)
	}

	// The duplicate must not re-trigger the transition.
	changes := env.eventStore.byType(req.ID, domain.EventStatusChange)
	if len(changes) != 2 { // intake->draft, draft->production
		t.Errorf("expected 2 status changes, got %d", len(changes))
	}
}

func TestHandleCallback_FailureRetriesAutomatically(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	calls := env.dispatcher.callCount()
	env.fail(t, req.ID, "strategy", "PROVIDER_ERROR", "model overloaded")

	task := env.taskByKey(t, req.ID, "strategy")
	if task.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", task.RetryCount)
	}
	// Requeued task is dispatched again on the resumed processing pass.
	if task.Status != domain.TaskStatusInProgress {
		t.Errorf("expected IN_PROGRESS after redispatch, got %s", task.Status)
	}
	if env.dispatcher.callCount() != calls+1 {
		t.Errorf("expected 1 extra dispatch, got %d", env.dispatcher.callCount()-calls)
	}

	retries := env.eventStore.byType(req.ID, domain.EventRetryInitiated)
	if len(retries) != 1 {
		t.Errorf("expected 1 retry_initiated event, got %d", len(retries))
	}

	if got := env.requestStatus(t, req.ID); got != domain.StatusDraft {
		t.Errorf("request should stay in DRAFT, got %s", got)
	}
}

func TestHandleCallback_ConflictingFailureKeepsCompletion(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	jobID := env.jobID(t, task.ID)
	env.complete(t, req.ID, "strategy")

	// A conflicting failure for the same job arrives after completion.
	err := env.orch.HandleCallback(context.Background(), Callback{
		TaskID:        task.ID,
		ExternalJobID: jobID,
		Status:        domain.TaskStatusFailed,
		ErrorCode:     "PROVIDER_ERROR",
		ErrorMessage:  "worker crashed after upload",
	})
	if err != nil {
		t.Fatalf("conflicting callback: %v", err)
	}

	task = env.taskByKey(t, req.ID, "strategy")
	if task.Status != domain.TaskStatusCompleted {
		t.Fatalf("first outcome must win, got %s", task.Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", task.RetryCount)
	}
	if failures := env.eventStore.byType(req.ID, domain.EventTaskFailed); len(failures) != 0 {
		t.Errorf("expected no task_failed events, got %d", len(failures))
	}
}

func TestHandleCallback_StaleAttemptFailureDoesNotConsumeRetry(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	oldJob := env.jobID(t, task.ID)

	// First attempt times out; the task is retried and redispatched.
	started := time.Now().Add(-time.Hour)
	env.mutateTask(t, task.ID, func(tk *domain.Task) { tk.StartedAt = &started })
	if err := env.orch.FailTimedOut(context.Background(), task.ID); err != nil {
		t.Fatalf("FailTimedOut: %v", err)
	}
	if got := env.taskByKey(t, req.ID, "strategy").RetryCount; got != 1 {
		t.Fatalf("expected retry count 1 after timeout, got %d", got)
	}

	// The provider reports the timed-out attempt failed, late.
	err := env.orch.HandleCallback(context.Background(), Callback{
		TaskID:        task.ID,
		ExternalJobID: oldJob,
		Status:        domain.TaskStatusFailed,
		ErrorCode:     "PROVIDER_ERROR",
		ErrorMessage:  "model overloaded",
	})
	if err != nil {
		t.Fatalf("late callback: %v", err)
	}

	task = env.taskByKey(t, req.ID, "strategy")
	if task.RetryCount != 1 {
		t.Errorf("superseded failure must not consume a retry, got count %d", task.RetryCount)
	}
	if task.Status != domain.TaskStatusInProgress {
		t.Errorf("second attempt must keep running, got %s", task.Status)
	}
	if retries := env.eventStore.byType(req.ID, domain.EventRetryInitiated); len(retries) != 1 {
		t.Errorf("expected 1 retry_initiated event, got %d", len(retries))
	}
}

func TestHandleCallback_ExhaustedGoesToDeadLetters(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	env.mutateTask(t, task.ID, func(tk *domain.Task) { tk.RetryCount = tk.MaxRetries })

	env.fail(t, req.ID, "strategy", "PROVIDER_ERROR", "model overloaded")

	task = env.taskByKey(t, req.ID, "strategy")
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", task.Status)
	}
	if env.deadLetters.count() != 1 {
		t.Fatalf("expected 1 dead letter, got %d", env.deadLetters.count())
	}

	failures := env.eventStore.byType(req.ID, domain.EventTaskFailed)
	if len(failures) != 1 {
		t.Fatalf("expected 1 task_failed event, got %d", len(failures))
	}
	if dl, _ := failures[0].Metadata["dead_lettered"].(bool); !dl {
		t.Error("task_failed event should carry dead_lettered=true")
	}

	// Failed required task keeps the request in DRAFT.
	if got := env.requestStatus(t, req.ID); got != domain.StatusDraft {
		t.Errorf("request should stay in DRAFT, got %s", got)
	}
}

func TestHandleCallback_AfterCancelIsRecordedOnly(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	jobID := env.jobID(t, task.ID)

	if err := env.orch.CancelRequest(context.Background(), req.ID, "user-1", "changed plans"); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}

	err := env.orch.HandleCallback(context.Background(), Callback{
		TaskID:        task.ID,
		ExternalJobID: jobID,
		Status:        domain.TaskStatusCompleted,
		OutputURL:     "https://cdn.example.com/late.json",
	})
	if err != nil {
		t.Fatalf("late callback: %v", err)
	}

	// Recorded in the audit trail, but the task stays SKIPPED.
	if got := env.taskByKey(t, req.ID, "strategy").Status; got != domain.TaskStatusSkipped {
		t.Errorf("expected SKIPPED, got %s", got)
	}
	callbacks := env.eventStore.byType(req.ID, domain.EventProviderCallback)
	if len(callbacks) != 1 {
		t.Errorf("expected 1 provider_callback event, got %d", len(callbacks))
	}
	if got := env.requestStatus(t, req.ID); got != domain.StatusCancelled {
		t.Errorf("request should stay CANCELLED, got %s", got)
	}
}

// --- Circuit Breaker Tests ---

func TestDispatch_BreakerFailFast(t *testing.T) {
	env := newTestEnv(func(cfg *Config) {
		cfg.Breakers = breaker.NewRegistry(breaker.Config{
			FailureThreshold: 2,
			Cooldown:         time.Hour,
		})
	})
	env.dispatcher.err = errors.New("connection refused")

	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	// Two sync failures opened the breaker.
	if env.dispatcher.callCount() != 2 {
		t.Fatalf("expected 2 dispatch attempts, got %d", env.dispatcher.callCount())
	}

	// Provider is back, but the breaker is still open: no calls go out,
	// tasks stay queued and no retry budget is spent.
	env.dispatcher.err = nil
	before := map[string]int{}
	for _, key := range []string{"concept", "strategy"} {
		before[key] = env.taskByKey(t, req.ID, key).RetryCount
	}

	env.process(t, req.ID)

	if env.dispatcher.callCount() != 2 {
		t.Errorf("breaker open: expected no new dispatches, got %d total", env.dispatcher.callCount())
	}
	for _, key := range []string{"concept", "strategy"} {
		task := env.taskByKey(t, req.ID, key)
		if task.Status != domain.TaskStatusPending {
			t.Errorf("%s: expected PENDING, got %s", key, task.Status)
		}
		if task.RetryCount != before[key] {
			t.Errorf("%s: breaker rejection must not consume retries", key)
		}
	}
}

// --- Retry / Dead Letter Tests ---

func TestRetryTask(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")

	// Not failed yet.
	err := env.orch.RetryTask(context.Background(), task.ID, "user-1")
	if !errors.Is(err, ErrTaskNotFailed) {
		t.Fatalf("expected ErrTaskNotFailed, got %v", err)
	}

	// Park the task in FAILED with one retry left.
	env.mutateTask(t, task.ID, func(tk *domain.Task) {
		tk.Status = domain.TaskStatusFailed
		tk.RetryCount = tk.MaxRetries - 1
	})

	if err := env.orch.RetryTask(context.Background(), task.ID, "user-1"); err != nil {
		t.Fatalf("RetryTask: %v", err)
	}

	task = env.taskByKey(t, req.ID, "strategy")
	if task.RetryCount != 3 {
		t.Errorf("expected retry count 3, got %d", task.RetryCount)
	}
	if task.Status != domain.TaskStatusInProgress {
		t.Errorf("expected redispatch to IN_PROGRESS, got %s", task.Status)
	}
}

func TestRetryTask_Exhausted(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	env.mutateTask(t, task.ID, func(tk *domain.Task) {
		tk.Status = domain.TaskStatusFailed
		tk.RetryCount = tk.MaxRetries
	})

	err := env.orch.RetryTask(context.Background(), task.ID, "user-1")
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
}

func TestRequeueDeadLetter(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	env.mutateTask(t, task.ID, func(tk *domain.Task) { tk.RetryCount = tk.MaxRetries })
	env.fail(t, req.ID, "strategy", "PROVIDER_ERROR", "model overloaded")

	if err := env.orch.RequeueDeadLetter(context.Background(), task.ID, "operator"); err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}

	task = env.taskByKey(t, req.ID, "strategy")
	if task.RetryCount != 0 {
		t.Errorf("requeue must reset retry count, got %d", task.RetryCount)
	}
	if task.Status != domain.TaskStatusInProgress {
		t.Errorf("expected redispatch to IN_PROGRESS, got %s", task.Status)
	}

	env.deadLetters.mu.Lock()
	requeued := len(env.deadLetters.requeued)
	env.deadLetters.mu.Unlock()
	if requeued != 1 {
		t.Errorf("expected dead letter marked requeued")
	}
}

// --- Timeout Tests ---

func TestFailTimedOut(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	started := time.Now().Add(-time.Hour)
	env.mutateTask(t, task.ID, func(tk *domain.Task) { tk.StartedAt = &started })

	if err := env.orch.FailTimedOut(context.Background(), task.ID); err != nil {
		t.Fatalf("FailTimedOut: %v", err)
	}

	failures := env.eventStore.byType(req.ID, domain.EventTaskFailed)
	if len(failures) != 1 {
		t.Fatalf("expected 1 task_failed event, got %d", len(failures))
	}
	if code, _ := failures[0].Metadata["error_code"].(string); code != domain.ErrCodeTimeout {
		t.Errorf("expected TIMEOUT code, got %s", code)
	}

	// Timed-out task is retried and redispatched.
	task = env.taskByKey(t, req.ID, "strategy")
	if task.RetryCount != 1 || task.Status != domain.TaskStatusInProgress {
		t.Errorf("expected retried IN_PROGRESS task, got %s (retries %d)", task.Status, task.RetryCount)
	}
}

func TestFailTimedOut_NotExpired(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	task := env.taskByKey(t, req.ID, "strategy")
	if err := env.orch.FailTimedOut(context.Background(), task.ID); err != nil {
		t.Fatalf("FailTimedOut: %v", err)
	}

	if got := env.taskByKey(t, req.ID, "strategy").Status; got != domain.TaskStatusInProgress {
		t.Errorf("fresh task must not be failed, got %s", got)
	}
}

// --- Cancel Tests ---

func TestCancelRequest(t *testing.T) {
	env := newTestEnv(nil)
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	if err := env.orch.CancelRequest(context.Background(), req.ID, "user-1", "budget cut"); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}

	if got := env.requestStatus(t, req.ID); got != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got)
	}

	tasks, _ := env.tasks.ListByRequest(context.Background(), req.ID)
	for i := range tasks {
		if tasks[i].Status != domain.TaskStatusSkipped {
			t.Errorf("task %s: expected SKIPPED, got %s", tasks[i].Key, tasks[i].Status)
		}
	}

	cancelled := env.eventStore.byType(req.ID, domain.EventCancelled)
	if len(cancelled) != 1 {
		t.Errorf("expected 1 cancelled event, got %d", len(cancelled))
	}

	// Cancellation is not a pipeline transition.
	changes := env.eventStore.byType(req.ID, domain.EventStatusChange)
	if len(changes) != 1 { // only intake -> draft
		t.Errorf("expected 1 status_change, got %d", len(changes))
	}

	err := env.orch.CancelRequest(context.Background(), req.ID, "user-1", "again")
	if !errors.Is(err, ErrRequestTerminal) {
		t.Fatalf("expected ErrRequestTerminal, got %v", err)
	}
}

// --- Manual Approval Tests ---

func TestManualApproval_RejectionRollsBack(t *testing.T) {
	env := newTestEnv(func(cfg *Config) {
		cfg.Approval = ManualApproval{}
	})
	req := env.create(t, domain.RequestTypeImage)
	env.process(t, req.ID)

	env.complete(t, req.ID, "strategy")
	env.complete(t, req.ID, "render")

	// Manual policy dispatches the review task instead of closing it.
	if got := env.requestStatus(t, req.ID); got != domain.StatusQA {
		t.Fatalf("expected QA, got %s", got)
	}
	if got := env.taskByKey(t, req.ID, "review").Status; got != domain.TaskStatusInProgress {
		t.Fatalf("review should be dispatched, got %s", got)
	}

	env.fail(t, req.ID, "review", "REJECTED", "wrong aspect ratio")

	// Rejection rolls the request back and resets production work.
	if got := env.requestStatus(t, req.ID); got != domain.StatusProduction {
		t.Fatalf("expected rollback to PRODUCTION, got %s", got)
	}
	render := env.taskByKey(t, req.ID, "render")
	if render.Status != domain.TaskStatusInProgress {
		t.Errorf("render should be redispatched after rework, got %s", render.Status)
	}
	if render.OutputURL != "" {
		t.Errorf("rework must clear previous output, got %s", render.OutputURL)
	}
	if render.RetryCount != 0 {
		t.Errorf("rework must not consume retries, got %d", render.RetryCount)
	}

	// Second pass through production and review approval publishes.
	env.complete(t, req.ID, "render")
	env.complete(t, req.ID, "review")
	if got := env.requestStatus(t, req.ID); got != domain.StatusPublished {
		t.Fatalf("expected PUBLISHED, got %s", got)
	}
}
