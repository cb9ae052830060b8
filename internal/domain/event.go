package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип записи аудита.
type EventType string

const (
	// EventCreated — заявка создана.
	EventCreated EventType = "created"

	// EventStatusChange — заявка перешла в новый статус.
	EventStatusChange EventType = "status_change"

	// EventTaskStarted — task отправлен провайдеру.
	EventTaskStarted EventType = "task_started"

	// EventTaskCompleted — task успешно завершён.
	EventTaskCompleted EventType = "task_completed"

	// EventTaskFailed — task завершился с ошибкой.
	EventTaskFailed EventType = "task_failed"

	// EventProviderCallback — получен callback от провайдера.
	EventProviderCallback EventType = "provider_callback"

	// EventRetryInitiated — инициирован повтор упавшего task.
	EventRetryInitiated EventType = "retry_initiated"

	// EventCancelled — заявка отменена.
	EventCancelled EventType = "cancelled"

	// EventSystemError — необработанная ошибка внутри обработчика.
	EventSystemError EventType = "system_error"

	// EventAutoAdvanceBlocked — авто-переход невозможен: стадия ждёт tasks.
	// Это ожидаемое состояние паузы, не ошибка.
	EventAutoAdvanceBlocked EventType = "auto_advance_blocked"
)

// Event — неизменяемая запись аудита жизненного цикла заявки.
//
// Events никогда не обновляются и не удаляются. Порядок — по времени
// создания. Потеря event не должна прерывать оркестрацию (см. events.Logger).
type Event struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RequestID — ссылка на заявку.
	RequestID uuid.UUID `json:"request_id"`

	// TaskID — ссылка на task, если событие относится к конкретному task.
	TaskID *uuid.UUID `json:"task_id,omitempty"`

	// Type — тип события.
	Type EventType `json:"type"`

	// Description — человекочитаемое описание.
	Description string `json:"description"`

	// Metadata — структурированные детали события.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Actor — кто инициировал событие ("system", "system:timeout", user id).
	Actor string `json:"actor,omitempty"`

	// CreatedAt — время записи.
	CreatedAt time.Time `json:"created_at"`
}

// IsError возвращает true для событий, означающих сбой.
func (e *Event) IsError() bool {
	return e.Type == EventTaskFailed || e.Type == EventSystemError
}
