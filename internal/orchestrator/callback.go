package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/events"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// Callback — уведомление провайдера о терминальном исходе внешнего задания.
type Callback struct {
	// TaskID — task, к которому относится задание.
	TaskID uuid.UUID

	// ExternalJobID — идентификатор задания на стороне провайдера.
	ExternalJobID string

	// Status — исход: COMPLETED или FAILED.
	Status domain.TaskStatus

	// OutputURL — ссылка на результат (при успехе).
	OutputURL string

	// Output — структурированный результат (при успехе).
	Output map[string]any

	// ErrorCode — машинный код ошибки (при неудаче).
	ErrorCode string

	// ErrorMessage — текст ошибки (при неудаче).
	ErrorMessage string

	// ProviderData — сырые данные провайдера, сохраняются как есть.
	ProviderData map[string]any

	// CostCents — стоимость задания в центах (0, если провайдер не сообщил).
	CostCents int64

	// Actor — инициатор callback (по умолчанию system).
	Actor string
}

// HandleCallback принимает callback провайдера.
//
// Идемпотентность обеспечивает условная вставка терминальной записи
// об отправке: повторная доставка того же callback натыкается на
// конфликт уникальности и превращается в no-op. Изменение статуса task
// условно (IN_PROGRESS → терминальный), поэтому конфликтующие исходы
// одного task фиксируются ровно один раз. Неудача засчитывается только
// последней отправке: исход вытесненной повтором попытки остаётся
// записью в журнале.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb Callback) error {
	if cb.Status != domain.TaskStatusCompleted && cb.Status != domain.TaskStatusFailed {
		return fmt.Errorf("%w: %s", ErrInvalidCallback, cb.Status)
	}

	task, err := o.loadTask(ctx, cb.TaskID)
	if err != nil {
		return err
	}
	req, err := o.loadRequest(ctx, task.RequestID)
	if err != nil {
		return err
	}

	telemetry.CallbacksReceived.WithLabelValues(string(cb.Status)).Inc()

	rec := &domain.DispatchRecord{
		ID:            uuid.New(),
		TaskID:        task.ID,
		ExternalJobID: cb.ExternalJobID,
		Provider:      o.providerOf(ctx, task.ID, cb.ExternalJobID),
		Status:        dispatchStatusFor(cb.Status),
		Response:      callbackResponse(cb),
		CostCents:     cb.CostCents,
		CreatedAt:     time.Now(),
	}

	inserted, err := o.dispatches.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("record callback: %w", err)
	}
	if !inserted {
		telemetry.DuplicateCallbacks.Inc()
		o.logger.Info("duplicate callback ignored",
			"request_id", req.ID,
			"task_id", task.ID,
			"external_job_id", cb.ExternalJobID,
			"status", cb.Status,
		)
		return nil
	}

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventProviderCallback,
		Description: fmt.Sprintf("provider callback for task %s: %s", task.Key, cb.Status),
		Metadata: map[string]any{
			"key":             task.Key,
			"status":          cb.Status,
			"external_job_id": cb.ExternalJobID,
			"cost_cents":      cb.CostCents,
		},
		TaskID: &task.ID,
		Actor:  cb.Actor,
	})

	if req.IsFinished() {
		// Поздний callback отменённой заявки: зафиксирован, но task
		// уже SKIPPED и оркестрация не возобновляется.
		o.logger.Info("callback for finished request recorded",
			"request_id", req.ID,
			"task_id", task.ID,
			"request_status", req.Status,
		)
		return nil
	}

	switch cb.Status {
	case domain.TaskStatusCompleted:
		completed := *task
		completed.MarkCompleted(cb.OutputURL, cb.Output)
		ok, err := o.tasks.Update(ctx, &completed, domain.TaskStatusInProgress)
		if err != nil {
			return fmt.Errorf("complete task %s: %w", task.Key, err)
		}
		if ok {
			o.events.Log(ctx, req.ID, events.Entry{
				Type:        domain.EventTaskCompleted,
				Description: fmt.Sprintf("task %s completed", task.Key),
				Metadata:    map[string]any{"key": task.Key, "role": task.Role},
				TaskID:      &task.ID,
				Actor:       cb.Actor,
			})
		}

	case domain.TaskStatusFailed:
		code := cb.ErrorCode
		if code == "" {
			code = "PROVIDER_ERROR"
		}

		if o.staleAttempt(ctx, task.ID, cb.ExternalJobID) {
			// Исход старой попытки: task уже перезапущен с новым
			// заданием, неудача остаётся записью в журнале.
			o.logger.Info("failure callback for a superseded attempt recorded",
				"request_id", req.ID,
				"task_id", task.ID,
				"external_job_id", cb.ExternalJobID,
			)
			break
		}

		if task.Role == domain.RoleQA && o.approval.RequiresDispatch() {
			// FAILED от ревьюера — отклонение контента, а не сбой:
			// повторы не расходуются, dead letter не создаётся.
			// Откат выполнит обработчик стадии QA.
			if err := o.rejectReview(ctx, req, task, code, cb.ErrorMessage, cb.Actor); err != nil {
				return err
			}
			break
		}

		if err := o.failTask(ctx, req, task, code, cb.ErrorMessage); err != nil {
			return err
		}
	}

	_, err = o.ProcessRequest(ctx, req.ID)
	return err
}

// FailTimedOut переводит просроченный task в FAILED с кодом TIMEOUT
// и возобновляет оркестрацию заявки. Вызывается timeout monitor.
//
// Если task уже завершился (callback успел раньше), вызов — no-op.
func (o *Orchestrator) FailTimedOut(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Expired(time.Now()) {
		return nil
	}

	req, err := o.loadRequest(ctx, task.RequestID)
	if err != nil {
		return err
	}
	if req.IsFinished() {
		return nil
	}

	msg := fmt.Sprintf("task exceeded its %ds timeout", task.TimeoutSec)
	if err := o.failTask(ctx, req, task, domain.ErrCodeTimeout, msg); err != nil {
		return err
	}

	_, err = o.ProcessRequest(ctx, req.ID)
	return err
}

// rejectReview фиксирует отклонение контента ревьюером: qa task
// переводится в FAILED без расхода бюджета повторов.
func (o *Orchestrator) rejectReview(ctx context.Context, req *domain.Request, task *domain.Task, code, errMsg, actor string) error {
	rejected := *task
	rejected.MarkFailed(code, errMsg)

	ok, err := o.tasks.Update(ctx, &rejected, domain.TaskStatusInProgress)
	if err != nil {
		return fmt.Errorf("reject review task %s: %w", task.Key, err)
	}
	if !ok {
		return nil
	}
	*task = rejected

	o.events.Log(ctx, req.ID, events.Entry{
		Type:        domain.EventTaskFailed,
		Description: fmt.Sprintf("task %s rejected by review: %s", task.Key, errMsg),
		Metadata: map[string]any{
			"key":        task.Key,
			"error_code": code,
			"error":      errMsg,
			"rejection":  true,
		},
		TaskID: &task.ID,
		Actor:  actor,
	})

	o.logger.Info("content rejected by review",
		"request_id", req.ID,
		"task_id", task.ID,
		"reason", errMsg,
	)

	return nil
}

// staleAttempt возвращает true, если externalJobID не совпадает с
// последней отправкой task: callback относится к попытке, которую
// уже вытеснил повтор (например, после timeout).
func (o *Orchestrator) staleAttempt(ctx context.Context, taskID uuid.UUID, externalJobID string) bool {
	recs, err := o.dispatches.ListByTask(ctx, taskID)
	if err != nil {
		o.logger.Warn("failed to load dispatch history", "task_id", taskID, "error", err)
		return false
	}

	var latest string
	for i := range recs {
		if recs[i].Status == domain.DispatchStatusSubmitted {
			latest = recs[i].ExternalJobID
		}
	}
	return latest != "" && latest != externalJobID
}

// providerOf находит имя провайдера по записи об отправке задания.
func (o *Orchestrator) providerOf(ctx context.Context, taskID uuid.UUID, externalJobID string) string {
	recs, err := o.dispatches.ListByTask(ctx, taskID)
	if err != nil {
		o.logger.Warn("failed to resolve provider", "task_id", taskID, "error", err)
		return ""
	}
	for i := range recs {
		if recs[i].ExternalJobID == externalJobID {
			return recs[i].Provider
		}
	}
	return ""
}

func dispatchStatusFor(status domain.TaskStatus) domain.DispatchStatus {
	if status == domain.TaskStatusCompleted {
		return domain.DispatchStatusCompleted
	}
	return domain.DispatchStatusFailed
}

func callbackResponse(cb Callback) map[string]any {
	resp := make(map[string]any, len(cb.ProviderData)+4)
	for k, v := range cb.ProviderData {
		resp[k] = v
	}
	if cb.OutputURL != "" {
		resp["output_url"] = cb.OutputURL
	}
	if cb.ErrorCode != "" {
		resp["error_code"] = cb.ErrorCode
	}
	if cb.ErrorMessage != "" {
		resp["error_message"] = cb.ErrorMessage
	}
	return resp
}
