package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/breaker"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/events"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/retrypolicy"
	"github.com/shaiso/Conductor/internal/statemachine"
	"github.com/shaiso/Conductor/internal/taskfactory"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// maxProcessDepth — граница рекурсии ProcessRequest: больше переходов,
// чем статусов, в одной цепочке быть не может.
var maxProcessDepth = len(domain.Statuses)

// stageHandler — обработчик одного статуса заявки.
type stageHandler func(ctx context.Context, req *domain.Request, depth int) (domain.RequestStatus, error)

// Orchestrator — центральный контроллер заявок.
type Orchestrator struct {
	requests   RequestStore
	tasks      TaskStore
	dispatches DispatchStore

	events      *events.Logger
	factory     *taskfactory.Factory
	router      DispatcherRouter
	breakers    *breaker.Registry
	retry       retrypolicy.Policy
	deadLetters DeadLetters
	approval    ApprovalPolicy

	logger *slog.Logger

	// handlers — явная таблица обработчиков по статусу.
	handlers map[domain.RequestStatus]stageHandler
}

// Config — конфигурация Orchestrator.
type Config struct {
	Requests   RequestStore
	Tasks      TaskStore
	Dispatches DispatchStore

	Events      *events.Logger
	Factory     *taskfactory.Factory
	Router      DispatcherRouter
	Breakers    *breaker.Registry
	Retry       retrypolicy.Policy // zero value → retrypolicy.Default()
	DeadLetters DeadLetters
	Approval    ApprovalPolicy // nil → AutoApprove

	Logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = retrypolicy.Default()
	}

	approval := cfg.Approval
	if approval == nil {
		approval = AutoApprove{}
	}

	breakers := cfg.Breakers
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.Config{})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		requests:    cfg.Requests,
		tasks:       cfg.Tasks,
		dispatches:  cfg.Dispatches,
		events:      cfg.Events,
		factory:     cfg.Factory,
		router:      cfg.Router,
		breakers:    breakers,
		retry:       retry,
		deadLetters: cfg.DeadLetters,
		approval:    approval,
		logger:      logger,
	}

	o.handlers = map[domain.RequestStatus]stageHandler{
		domain.StatusIntake:     o.handleIntake,
		domain.StatusDraft:      o.handleStage,
		domain.StatusProduction: o.handleStage,
		domain.StatusQA:         o.handleQA,
	}

	return o
}

// CreateRequest создаёт заявку в начальном статусе и сразу возвращается.
// Tasks на этом шаге не создаются — это делает intake-обработчик при
// первом ProcessRequest.
func (o *Orchestrator) CreateRequest(ctx context.Context, actor, orgID string, reqType domain.RequestType, brief map[string]any) (*domain.Request, error) {
	if !o.factory.Supports(reqType) {
		return nil, fmt.Errorf("%w: %s", taskfactory.ErrUnknownRequestType, reqType)
	}

	now := time.Now()
	req := &domain.Request{
		ID:        uuid.New(),
		Type:      reqType,
		Status:    domain.StatusIntake,
		OrgID:     orgID,
		CreatedBy: actor,
		Brief:     brief,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventCreated,
		Description: fmt.Sprintf("request created (%s)", req.Type),
		Metadata:    map[string]any{"type": req.Type, "org_id": orgID},
		Actor:       actor,
	})
	telemetry.RequestsCreated.WithLabelValues(string(req.Type)).Inc()

	o.logger.Info("request created",
		"request_id", req.ID,
		"type", req.Type,
		"org_id", orgID,
	)

	return req, nil
}

// ProcessRequest — движущий цикл оркестрации.
//
// Загружает заявку и передаёт её обработчику текущего статуса. Если все
// tasks стадии завершены, переход выполняется и обработка рекурсивно
// продолжается в новом статусе; если стадия ждёт внешнюю работу, вызов
// возвращается без ошибки. Терминальная заявка возвращается как есть.
//
// Внутренние сбои не покидают метод как panics: они фиксируются событием
// system_error и возвращаются ошибкой.
func (o *Orchestrator) ProcessRequest(ctx context.Context, requestID uuid.UUID) (status domain.RequestStatus, err error) {
	defer o.recoverPanic(ctx, requestID, &err)

	status, err = o.process(ctx, requestID, 0)
	if err != nil && !errors.Is(err, ErrRequestNotFound) {
		o.logSystemError(ctx, requestID, err)
	}
	return status, err
}

// process — один шаг цикла. depth ограничивает цепочку переходов.
func (o *Orchestrator) process(ctx context.Context, requestID uuid.UUID, depth int) (domain.RequestStatus, error) {
	if depth >= maxProcessDepth {
		return "", fmt.Errorf("%w: request %s", ErrDepthExceeded, requestID)
	}

	req, err := o.loadRequest(ctx, requestID)
	if err != nil {
		return "", err
	}

	if req.IsFinished() {
		return req.Status, nil
	}

	handler, ok := o.handlers[req.Status]
	if !ok {
		return req.Status, fmt.Errorf("%w: no handler for status %s", ErrInternal, req.Status)
	}

	return handler(ctx, req, depth)
}

// transition выполняет переход заявки в статус to.
//
// Переход ревалидируется через statemachine непосредственно перед
// записью; сама запись условна (from → to). Проигравший гонку вызов
// наблюдает уже применённый переход и возвращает актуальный статус.
func (o *Orchestrator) transition(ctx context.Context, req *domain.Request, to domain.RequestStatus, tasks []domain.Task, depth int) (domain.RequestStatus, error) {
	res := statemachine.ValidateTransition(req.Status, to, tasks)
	if !res.Allowed {
		// Состояние могло измениться между решением и записью.
		// Это ожидаемый исход, не ошибка.
		o.logBlocked(ctx, req, to, res.Reason, res.BlockedBy)
		return req.Status, nil
	}

	ok, err := o.requests.UpdateStatus(ctx, req.ID, req.Status, to)
	if err != nil {
		return req.Status, fmt.Errorf("update request status: %w", err)
	}
	if !ok {
		// Гонка: другой вызов уже применил переход.
		current, err := o.loadRequest(ctx, req.ID)
		if err != nil {
			return req.Status, err
		}
		o.logger.Debug("transition lost race",
			"request_id", req.ID,
			"from", req.Status,
			"to", to,
			"current", current.Status,
		)
		return current.Status, nil
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventStatusChange,
		Description: fmt.Sprintf("status changed %s -> %s", req.Status, to),
		Metadata:    map[string]any{"from": req.Status, "to": to},
	})
	telemetry.StatusTransitions.WithLabelValues(string(req.Status), string(to)).Inc()

	o.logger.Info("request transitioned",
		"request_id", req.ID,
		"from", req.Status,
		"to", to,
	)

	return o.process(ctx, req.ID, depth+1)
}

// loadRequest загружает заявку, транслируя not found в типизированную ошибку.
func (o *Orchestrator) loadRequest(ctx context.Context, requestID uuid.UUID) (*domain.Request, error) {
	req, err := o.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// loadTask загружает task, транслируя not found в типизированную ошибку.
func (o *Orchestrator) loadTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// logBlocked пишет событие auto_advance_blocked. Это нормальная пауза
// стадии, не ошибка.
func (o *Orchestrator) logBlocked(ctx context.Context, req *domain.Request, next domain.RequestStatus, reason string, blockedBy []string) {
	metadata := map[string]any{"next": next, "reason": reason}
	if len(blockedBy) > 0 {
		metadata["blocked_by"] = blockedBy
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventAutoAdvanceBlocked,
		Description: fmt.Sprintf("auto-advance to %s blocked: %s", next, reason),
		Metadata:    metadata,
	})

	o.logger.Debug("auto-advance blocked",
		"request_id", req.ID,
		"status", req.Status,
		"next", next,
		"reason", reason,
	)
}

// logSystemError фиксирует необработанный сбой обработчика.
func (o *Orchestrator) logSystemError(ctx context.Context, requestID uuid.UUID, err error) {
	o.events.Log(ctx, requestID, events.Entry{
		Type:        domain.EventSystemError,
		Description: "orchestration failed",
		Metadata:    map[string]any{"error": err.Error()},
	})
	o.logger.Error("orchestration failed", "request_id", requestID, "error", err)
}

// recoverPanic переводит panic в ErrInternal с событием system_error.
func (o *Orchestrator) recoverPanic(ctx context.Context, requestID uuid.UUID, err *error) {
	if r := recover(); r != nil {
		o.logger.Error("panic recovered",
			"request_id", requestID,
			"panic", r,
			"stack", string(debug.Stack()),
		)
		*err = fmt.Errorf("%w: panic: %v", ErrInternal, r)
		o.logSystemError(ctx, requestID, *err)
	}
}

