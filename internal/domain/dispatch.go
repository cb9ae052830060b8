package domain

import (
	"time"

	"github.com/google/uuid"
)

// DispatchRecord — запись об отправке задачи внешнему провайдеру.
//
// Одна строка на одно внешнее задание. Уникальность по
// (task_id, external_job_id, status) обеспечивает идемпотентность
// callbacks: повторная доставка того же callback — no-op.
type DispatchRecord struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// TaskID — task, для которого выполнялась отправка.
	TaskID uuid.UUID `json:"task_id"`

	// ExternalJobID — идентификатор задания на стороне провайдера.
	ExternalJobID string `json:"external_job_id"`

	// Provider — имя внешней зависимости (ключ circuit breaker).
	Provider string `json:"provider"`

	// Status — стадия задания: SUBMITTED, затем COMPLETED или FAILED.
	Status DispatchStatus `json:"status"`

	// Payload — что было отправлено провайдеру.
	Payload map[string]any `json:"payload,omitempty"`

	// Response — что провайдер вернул в callback.
	Response map[string]any `json:"response,omitempty"`

	// CostCents — стоимость задания в центах (0, если неизвестна).
	CostCents int64 `json:"cost_cents"`

	// CreatedAt — время записи.
	CreatedAt time.Time `json:"created_at"`
}
