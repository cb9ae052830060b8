package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/breaker"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/events"
	"github.com/shaiso/Conductor/internal/statemachine"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// handleIntake строит граф tasks и продвигает заявку в DRAFT.
// CreateTasks идемпотентен, поэтому повторный вызов (гонка, рестарт)
// безопасен.
func (o *Orchestrator) handleIntake(ctx context.Context, req *domain.Request, depth int) (domain.RequestStatus, error) {
	tasks, err := o.factory.CreateTasks(ctx, req)
	if err != nil {
		return req.Status, fmt.Errorf("create tasks: %w", err)
	}

	return o.transition(ctx, req, domain.StatusDraft, tasks, depth)
}

// handleStage — общий обработчик рабочих стадий (DRAFT, PRODUCTION).
//
// Если стадия завершена — переход. Иначе диспатчатся готовые tasks
// и вызов возвращается: продолжение придёт с callback. Событие
// auto_advance_blocked пишется только когда заявка реально застряла:
// нечего диспатчить и ничего не выполняется.
func (o *Orchestrator) handleStage(ctx context.Context, req *domain.Request, depth int) (domain.RequestStatus, error) {
	tasks, err := o.tasks.ListByRequest(ctx, req.ID)
	if err != nil {
		return req.Status, fmt.Errorf("list tasks: %w", err)
	}

	adv := statemachine.CanAdvanceToNext(req.Status, tasks)
	if adv.CanAdvance {
		return o.transition(ctx, req, adv.Next, tasks, depth)
	}

	dispatched, err := o.dispatchEligible(ctx, req, tasks)
	if err != nil {
		return req.Status, err
	}

	if dispatched == 0 && !anyInProgress(tasks) {
		o.logBlocked(ctx, req, adv.Next, adv.Reason, statemachine.BlockingTasks(req.Status, tasks))
	}

	return req.Status, nil
}

// handleQA — стадия проверки качества.
//
// Политика AutoApprove закрывает qa tasks сама; ManualApproval диспатчит
// их внешнему ревьюеру и трактует исход: COMPLETED — публикация,
// FAILED — откат в PRODUCTION с переработкой.
func (o *Orchestrator) handleQA(ctx context.Context, req *domain.Request, depth int) (domain.RequestStatus, error) {
	tasks, err := o.tasks.ListByRequest(ctx, req.ID)
	if err != nil {
		return req.Status, fmt.Errorf("list tasks: %w", err)
	}

	dispatched := 0
	if o.approval.RequiresDispatch() {
		dispatched, err = o.dispatchEligible(ctx, req, tasks)
		if err != nil {
			return req.Status, err
		}
	} else {
		changed, err := o.autoCompleteReview(ctx, req, tasks)
		if err != nil {
			return req.Status, err
		}
		if changed {
			tasks, err = o.tasks.ListByRequest(ctx, req.ID)
			if err != nil {
				return req.Status, fmt.Errorf("list tasks: %w", err)
			}
		}
	}

	decision, err := o.approval.Decide(ctx, req, tasks)
	if err != nil {
		return req.Status, fmt.Errorf("approval decide: %w", err)
	}

	switch decision {
	case ApprovalApproved:
		return o.transition(ctx, req, domain.StatusPublished, tasks, depth)
	case ApprovalRejected:
		return o.rollbackToProduction(ctx, req, tasks, depth)
	default:
		if dispatched == 0 && !anyInProgress(tasks) {
			o.logBlocked(ctx, req, domain.StatusPublished, "awaiting review decision",
				statemachine.BlockingTasks(req.Status, tasks))
		}
		return req.Status, nil
	}
}

// autoCompleteReview закрывает qa tasks от имени политики одобрения.
func (o *Orchestrator) autoCompleteReview(ctx context.Context, req *domain.Request, tasks []domain.Task) (bool, error) {
	actor := "system:" + o.approval.Name()
	changed := false

	for i := range tasks {
		task := tasks[i]
		if task.Role != domain.RoleQA || task.Status != domain.TaskStatusPending {
			continue
		}

		task.MarkCompleted("", map[string]any{"approved_by": actor})
		ok, err := o.tasks.Update(ctx, &task, domain.TaskStatusPending)
		if err != nil {
			return changed, fmt.Errorf("complete review task %s: %w", task.Key, err)
		}
		if !ok {
			continue
		}
		changed = true

		o.events.Log(ctx, req.ID, events.Entry{
			Type:        domain.EventTaskCompleted,
			Description: fmt.Sprintf("task %s completed", task.Key),
			Metadata:    map[string]any{"key": task.Key, "role": task.Role},
			TaskID:      &task.ID,
			Actor:       actor,
		})
	}

	return changed, nil
}

// rollbackToProduction откатывает отклонённую заявку: tasks производства
// и проверки возвращаются в PENDING без расхода бюджета повторов.
func (o *Orchestrator) rollbackToProduction(ctx context.Context, req *domain.Request, tasks []domain.Task, depth int) (domain.RequestStatus, error) {
	for i := range tasks {
		task := tasks[i]
		switch task.Role {
		case domain.RoleProducer, domain.RoleVoice, domain.RoleQA:
		default:
			continue
		}
		if !task.Status.IsTerminal() {
			continue
		}

		expect := task.Status
		task.ResetForRework()
		if _, err := o.tasks.Update(ctx, &task, expect); err != nil {
			return req.Status, fmt.Errorf("reset task %s for rework: %w", task.Key, err)
		}
	}

	o.logger.Info("request rejected by review, rolling back",
		"request_id", req.ID,
		"from", req.Status,
	)

	return o.transition(ctx, req, domain.StatusProduction, tasks, depth)
}

// dispatchEligible отправляет провайдерам все готовые tasks:
// PENDING с выполненными зависимостями. qa tasks диспатчатся только
// если политика одобрения этого требует.
//
// Ошибка провайдера на одном task не прерывает диспатч остальных;
// наружу уходят только ошибки хранилища.
func (o *Orchestrator) dispatchEligible(ctx context.Context, req *domain.Request, tasks []domain.Task) (int, error) {
	done := make(map[string]bool, len(tasks))
	for i := range tasks {
		if tasks[i].Status.Done() {
			done[tasks[i].Key] = true
		}
	}

	dispatched := 0
	for i := range tasks {
		task := &tasks[i]
		if task.Status != domain.TaskStatusPending {
			continue
		}
		if !task.DepsSatisfied(done) {
			continue
		}
		if task.Role == domain.RoleQA && !o.approval.RequiresDispatch() {
			continue
		}

		ok, err := o.dispatchTask(ctx, req, task)
		if err != nil {
			return dispatched, err
		}
		if ok {
			dispatched++
		}
	}

	return dispatched, nil
}

// dispatchTask отправляет один task внешнему исполнителю.
//
// Порядок существенный: сначала условный захват task (PENDING →
// IN_PROGRESS), затем circuit breaker, затем собственно отправка.
// Захват первым исключает двойной диспатч при конкурентных вызовах;
// отказ breaker откатывает захват, не расходуя попытку.
func (o *Orchestrator) dispatchTask(ctx context.Context, req *domain.Request, task *domain.Task) (bool, error) {
	dispatcher, err := o.router.For(task.Role)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrNoDispatcher, task.Role)
	}

	orig := *task
	task.MarkInProgress()
	ok, err := o.tasks.Update(ctx, task, domain.TaskStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", task.Key, err)
	}
	if !ok {
		// Гонка: task уже захвачен другим вызовом.
		*task = orig
		return false, nil
	}

	br := o.breakers.Get(dispatcher.Name())
	if err := br.Allow(); err != nil {
		if !errors.Is(err, breaker.ErrOpen) {
			return false, err
		}

		// Зависимость недоступна: возвращаем task в очередь,
		// попытка не расходуется.
		reverted := orig
		if _, err := o.tasks.Update(ctx, &reverted, domain.TaskStatusInProgress); err != nil {
			return false, fmt.Errorf("revert task claim %s: %w", task.Key, err)
		}
		*task = reverted

		telemetry.BreakerRejections.WithLabelValues(dispatcher.Name()).Inc()
		o.logger.Warn("dispatch rejected by circuit breaker",
			"request_id", req.ID,
			"task_id", task.ID,
			"dependency", dispatcher.Name(),
		)
		return false, nil
	}

	jobID, err := dispatcher.Dispatch(ctx, req, task)
	if err != nil {
		br.RecordFailure()
		if failErr := o.failTask(ctx, req, task, "DISPATCH_ERROR", err.Error()); failErr != nil {
			return false, failErr
		}
		return false, nil
	}
	br.RecordSuccess()

	rec := &domain.DispatchRecord{
		ID:            uuid.New(),
		TaskID:        task.ID,
		ExternalJobID: jobID,
		Provider:      dispatcher.Name(),
		Status:        domain.DispatchStatusSubmitted,
		Payload:       req.Brief,
		CreatedAt:     time.Now(),
	}
	if _, err := o.dispatches.Insert(ctx, rec); err != nil {
		return true, fmt.Errorf("record dispatch for task %s: %w", task.Key, err)
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventTaskStarted,
		Description: fmt.Sprintf("task %s dispatched to %s", task.Key, dispatcher.Name()),
		Metadata: map[string]any{
			"key":             task.Key,
			"role":            task.Role,
			"provider":        dispatcher.Name(),
			"external_job_id": jobID,
		},
		TaskID: &task.ID,
	})
	telemetry.TasksDispatched.WithLabelValues(string(task.Role), dispatcher.Name()).Inc()

	o.logger.Info("task dispatched",
		"request_id", req.ID,
		"task_id", task.ID,
		"key", task.Key,
		"provider", dispatcher.Name(),
		"external_job_id", jobID,
	)

	return true, nil
}

// failTask фиксирует падение task и решает его судьбу: автоматический
// повтор, пока не исчерпан бюджет, иначе dead letter.
//
// Падение засчитывается только task, захваченному в работу: переход
// условный (IN_PROGRESS → FAILED), поэтому поздний конфликтующий исход
// не трогает уже завершённый или перезапущенный task.
//
// Задержка backoff записывается в событие и применяется транспортом
// при повторной отправке; ядро остаётся реактивным.
func (o *Orchestrator) failTask(ctx context.Context, req *domain.Request, task *domain.Task, code, errMsg string) error {
	failed := *task
	failed.MarkFailed(code, errMsg)

	ok, err := o.tasks.Update(ctx, &failed, domain.TaskStatusInProgress)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", task.Key, err)
	}
	if !ok {
		// Гонка: task уже в другом статусе. Исход зафиксирован не нами.
		return nil
	}
	*task = failed

	telemetry.TaskFailures.WithLabelValues(code).Inc()

	deadLettered := false
	if task.RetriesExhausted() {
		deadLettered = o.sendToDeadLetters(ctx, task)
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventTaskFailed,
		Description: fmt.Sprintf("task %s failed: %s", task.Key, errMsg),
		Metadata: map[string]any{
			"key":           task.Key,
			"error_code":    code,
			"error":         errMsg,
			"retry_count":   task.RetryCount,
			"dead_lettered": deadLettered,
		},
		TaskID: &task.ID,
	})

	o.logger.Warn("task failed",
		"request_id", req.ID,
		"task_id", task.ID,
		"key", task.Key,
		"error_code", code,
		"retry_count", task.RetryCount,
		"dead_lettered", deadLettered,
	)

	if deadLettered || task.RetriesExhausted() {
		return nil
	}

	// Бюджет не исчерпан: возвращаем task в очередь.
	delay := o.retry.Delay(task.RetryCount)
	retried := *task
	retried.ResetForRetry()

	ok, err = o.tasks.Update(ctx, &retried, domain.TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("requeue task %s for retry: %w", task.Key, err)
	}
	if !ok {
		return nil
	}
	*task = retried

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventRetryInitiated,
		Description: fmt.Sprintf("task %s queued for retry %d/%d", task.Key, task.RetryCount, task.MaxRetries),
		Metadata: map[string]any{
			"key":      task.Key,
			"attempt":  task.RetryCount,
			"delay_ms": delay.Milliseconds(),
		},
		TaskID: &task.ID,
	})
	telemetry.RetriesInitiated.Inc()

	return nil
}

// sendToDeadLetters передаёт исчерпавший повторы task в dead letters.
// Возвращает true при успешной записи.
func (o *Orchestrator) sendToDeadLetters(ctx context.Context, task *domain.Task) bool {
	if o.deadLetters == nil {
		return false
	}

	if err := o.deadLetters.Receive(ctx, task, o.attemptHistory(ctx, task)); err != nil {
		o.logger.Error("failed to dead-letter task",
			"task_id", task.ID,
			"key", task.Key,
			"error", err,
		)
		return false
	}

	telemetry.DeadLettered.Inc()
	return true
}

// attemptHistory восстанавливает историю неудачных попыток task из
// записей об отправках. Используется для инспекции dead letter оператором.
func (o *Orchestrator) attemptHistory(ctx context.Context, task *domain.Task) []domain.DeadLetterAttempt {
	var history []domain.DeadLetterAttempt

	recs, err := o.dispatches.ListByTask(ctx, task.ID)
	if err != nil {
		o.logger.Warn("failed to load dispatch history", "task_id", task.ID, "error", err)
	} else {
		attempt := 0
		for i := range recs {
			rec := &recs[i]
			if rec.Status != domain.DispatchStatusFailed {
				continue
			}
			entry := domain.DeadLetterAttempt{
				Attempt:  attempt,
				FailedAt: rec.CreatedAt,
			}
			if code, ok := rec.Response["error_code"].(string); ok {
				entry.ErrorCode = code
			}
			if msg, ok := rec.Response["error_message"].(string); ok {
				entry.Error = msg
			}
			history = append(history, entry)
			attempt++
		}
	}

	last := domain.DeadLetterAttempt{
		Attempt:   task.RetryCount,
		ErrorCode: task.ErrorCode,
		Error:     task.Error,
		FailedAt:  time.Now(),
	}
	if task.FinishedAt != nil {
		last.FailedAt = *task.FinishedAt
	}

	return append(history, last)
}

// anyInProgress — есть ли tasks, ожидающие callback.
func anyInProgress(tasks []domain.Task) bool {
	for i := range tasks {
		if tasks[i].Status == domain.TaskStatusInProgress {
			return true
		}
	}
	return false
}
