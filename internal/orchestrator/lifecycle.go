package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/events"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// RetryTask вручную возвращает упавший task в работу.
//
// Повтор расходует бюджет: при исчерпанном бюджете возвращается
// ErrRetryExhausted (для dead-lettered tasks есть RequeueDeadLetter).
func (o *Orchestrator) RetryTask(ctx context.Context, taskID uuid.UUID, actor string) error {
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	req, err := o.loadRequest(ctx, task.RequestID)
	if err != nil {
		return err
	}

	if req.IsFinished() {
		return fmt.Errorf("%w: %s", ErrRequestTerminal, req.Status)
	}
	if task.Status != domain.TaskStatusFailed {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotFailed, task.Key, task.Status)
	}
	if task.RetriesExhausted() {
		return fmt.Errorf("%w: task %s used %d of %d retries", ErrRetryExhausted, task.Key, task.RetryCount, task.MaxRetries)
	}

	retried := *task
	retried.ResetForRetry()

	ok, err := o.tasks.Update(ctx, &retried, domain.TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("retry task %s: %w", task.Key, err)
	}
	if !ok {
		// Гонка: task уже кто-то оживил или добил.
		return nil
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventRetryInitiated,
		Description: fmt.Sprintf("task %s manually queued for retry %d/%d", task.Key, retried.RetryCount, task.MaxRetries),
		Metadata:    map[string]any{"key": task.Key, "attempt": retried.RetryCount},
		TaskID:      &task.ID,
		Actor:       actor,
	})
	telemetry.RetriesInitiated.Inc()

	o.logger.Info("task retry initiated",
		"request_id", req.ID,
		"task_id", task.ID,
		"key", task.Key,
		"attempt", retried.RetryCount,
		"actor", actor,
	)

	_, err = o.ProcessRequest(ctx, req.ID)
	return err
}

// CancelRequest отменяет заявку из любого нетерминального статуса.
//
// Незавершённые tasks переводятся в SKIPPED: поздний callback по ним
// будет зафиксирован, но ничего не изменит. Пишется единственное
// событие cancelled — отмена не является переходом пайплайна.
func (o *Orchestrator) CancelRequest(ctx context.Context, requestID uuid.UUID, actor, reason string) error {
	req, err := o.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.IsFinished() {
		return fmt.Errorf("%w: %s", ErrRequestTerminal, req.Status)
	}

	ok, err := o.requests.UpdateStatus(ctx, req.ID, req.Status, domain.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if !ok {
		// Гонка: статус изменился под нами. Отмена из нового статуса
		// возможна, если он не терминальный.
		current, err := o.loadRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if current.Status == domain.StatusCancelled {
			return nil
		}
		return o.CancelRequest(ctx, requestID, actor, reason)
	}

	tasks, err := o.tasks.ListByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for i := range tasks {
		task := tasks[i]
		if task.Status.IsTerminal() {
			continue
		}

		expect := task.Status
		task.MarkSkipped()
		if _, err := o.tasks.Update(ctx, &task, expect); err != nil {
			return fmt.Errorf("skip task %s: %w", task.Key, err)
		}
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventCancelled,
		Description: fmt.Sprintf("request cancelled: %s", reason),
		Metadata:    map[string]any{"from": req.Status, "reason": reason},
		Actor:       actor,
	})
	telemetry.StatusTransitions.WithLabelValues(string(req.Status), string(domain.StatusCancelled)).Inc()

	o.logger.Info("request cancelled",
		"request_id", req.ID,
		"from", req.Status,
		"actor", actor,
		"reason", reason,
	)

	return nil
}

// RequeueDeadLetter возвращает dead-lettered task в работу со сброшенным
// счётчиком повторов и возобновляет оркестрацию заявки.
func (o *Orchestrator) RequeueDeadLetter(ctx context.Context, taskID uuid.UUID, actor string) error {
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	req, err := o.loadRequest(ctx, task.RequestID)
	if err != nil {
		return err
	}

	if req.IsFinished() {
		return fmt.Errorf("%w: %s", ErrRequestTerminal, req.Status)
	}
	if task.Status != domain.TaskStatusFailed {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotFailed, task.Key, task.Status)
	}

	requeued := *task
	requeued.ResetForRequeue()

	ok, err := o.tasks.Update(ctx, &requeued, domain.TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("requeue task %s: %w", task.Key, err)
	}
	if !ok {
		return nil
	}

	if o.deadLetters != nil {
		if err := o.deadLetters.MarkRequeued(ctx, task.ID); err != nil {
			o.logger.Warn("failed to mark dead letter as requeued",
				"task_id", task.ID,
				"error", err,
			)
		}
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventRetryInitiated,
		Description: fmt.Sprintf("task %s requeued from dead letters", task.Key),
		Metadata:    map[string]any{"key": task.Key, "requeued": true},
		TaskID:      &task.ID,
		Actor:       actor,
	})
	telemetry.RetriesInitiated.Inc()

	o.logger.Info("dead letter requeued",
		"request_id", req.ID,
		"task_id", task.ID,
		"key", task.Key,
		"actor", actor,
	)

	_, err = o.ProcessRequest(ctx, req.ID)
	return err
}
