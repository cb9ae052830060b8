package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
)

// Request DTOs

// CreateRequestRequest — запрос на создание заявки.
type CreateRequestRequest struct {
	Type      string         `json:"type"`
	OrgID     string         `json:"org_id"`
	CreatedBy string         `json:"created_by,omitempty"`
	Brief     map[string]any `json:"brief,omitempty"`
}

// CancelRequestRequest — запрос на отмену заявки.
type CancelRequestRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RequestResponse — ответ с заявкой.
type RequestResponse struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	OrgID     string         `json:"org_id"`
	CreatedBy string         `json:"created_by"`
	Brief     map[string]any `json:"brief,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RequestFromDomain конвертирует domain.Request в RequestResponse.
func RequestFromDomain(r domain.Request) RequestResponse {
	return RequestResponse{
		ID:        r.ID,
		Type:      string(r.Type),
		Status:    string(r.Status),
		OrgID:     r.OrgID,
		CreatedBy: r.CreatedBy,
		Brief:     r.Brief,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Task DTOs

// RetryTaskRequest — запрос на ручной повтор task.
type RetryTaskRequest struct {
	Actor string `json:"actor,omitempty"`
}

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID         uuid.UUID      `json:"id"`
	RequestID  uuid.UUID      `json:"request_id"`
	Role       string         `json:"role"`
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	Sequence   int            `json:"sequence"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     string         `json:"status"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	TimeoutSec int            `json:"timeout_sec"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	OutputURL  string         `json:"output_url,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		RequestID:  t.RequestID,
		Role:       string(t.Role),
		Key:        t.Key,
		Name:       t.Name,
		Sequence:   t.Sequence,
		DependsOn:  t.DependsOn,
		Status:     string(t.Status),
		RetryCount: t.RetryCount,
		MaxRetries: t.MaxRetries,
		TimeoutSec: t.TimeoutSec,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		OutputURL:  t.OutputURL,
		Output:     t.Output,
		ErrorCode:  t.ErrorCode,
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
	}
}

// Event DTOs

// EventResponse — ответ с записью аудита.
type EventResponse struct {
	ID          uuid.UUID      `json:"id"`
	RequestID   uuid.UUID      `json:"request_id"`
	TaskID      *uuid.UUID     `json:"task_id,omitempty"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EventFromDomain конвертирует domain.Event в EventResponse.
func EventFromDomain(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		RequestID:   e.RequestID,
		TaskID:      e.TaskID,
		Type:        string(e.Type),
		Description: e.Description,
		Metadata:    e.Metadata,
		Actor:       e.Actor,
		CreatedAt:   e.CreatedAt,
	}
}

// Dispatch DTOs

// DispatchResponse — ответ с записью об отправке.
type DispatchResponse struct {
	ID            uuid.UUID      `json:"id"`
	TaskID        uuid.UUID      `json:"task_id"`
	ExternalJobID string         `json:"external_job_id"`
	Provider      string         `json:"provider"`
	Status        string         `json:"status"`
	Response      map[string]any `json:"response,omitempty"`
	CostCents     int64          `json:"cost_cents"`
	CreatedAt     time.Time      `json:"created_at"`
}

// DispatchFromDomain конвертирует domain.DispatchRecord в DispatchResponse.
func DispatchFromDomain(d domain.DispatchRecord) DispatchResponse {
	return DispatchResponse{
		ID:            d.ID,
		TaskID:        d.TaskID,
		ExternalJobID: d.ExternalJobID,
		Provider:      d.Provider,
		Status:        string(d.Status),
		Response:      d.Response,
		CostCents:     d.CostCents,
		CreatedAt:     d.CreatedAt,
	}
}

// CostResponse — суммарная стоимость заявки.
type CostResponse struct {
	RequestID      uuid.UUID `json:"request_id"`
	TotalCostCents int64     `json:"total_cost_cents"`
}

// Callback DTOs

// CallbackRequest — webhook провайдера о терминальном исходе задания.
type CallbackRequest struct {
	TaskID       uuid.UUID      `json:"task_id"`
	JobID        string         `json:"job_id"`
	Status       string         `json:"status"`
	OutputURL    string         `json:"output_url,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ProviderData map[string]any `json:"provider_data,omitempty"`
	CostCents    int64          `json:"cost_cents,omitempty"`
	Actor        string         `json:"actor,omitempty"`
}

// DeadLetter DTOs

// RequeueRequest — запрос на возврат task из dead letters.
type RequeueRequest struct {
	Actor string `json:"actor,omitempty"`
}

// DeadLetterResponse — ответ с записью dead letter.
type DeadLetterResponse struct {
	ID        uuid.UUID                  `json:"id"`
	TaskID    uuid.UUID                  `json:"task_id"`
	RequestID uuid.UUID                  `json:"request_id"`
	Role      string                     `json:"role"`
	Key       string                     `json:"key"`
	Reason    string                     `json:"reason"`
	Attempts  int                        `json:"attempts"`
	History   []domain.DeadLetterAttempt `json:"history,omitempty"`
	Requeued  bool                       `json:"requeued"`
	CreatedAt time.Time                  `json:"created_at"`
}

// DeadLetterFromDomain конвертирует domain.DeadLetter в DeadLetterResponse.
func DeadLetterFromDomain(dl domain.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:        dl.ID,
		TaskID:    dl.TaskID,
		RequestID: dl.RequestID,
		Role:      string(dl.Role),
		Key:       dl.Key,
		Reason:    dl.Reason,
		Attempts:  dl.Attempts,
		History:   dl.History,
		Requeued:  dl.Requeued,
		CreatedAt: dl.CreatedAt,
	}
}
