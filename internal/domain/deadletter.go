package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetter — task, исчерпавший бюджет повторов.
//
// Записи создаются deadletter.Sink и не оживляются автоматически:
// оператор либо отменяет заявку, либо явно возвращает task в работу
// (requeue со сбросом счётчика повторов).
type DeadLetter struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// TaskID — упавший task.
	TaskID uuid.UUID `json:"task_id"`

	// RequestID — заявка, которой принадлежит task.
	RequestID uuid.UUID `json:"request_id"`

	// Role — роль агента task.
	Role AgentRole `json:"role"`

	// Key — машинный ключ task.
	Key string `json:"key"`

	// Reason — причина последнего падения.
	Reason string `json:"reason"`

	// Attempts — сколько попыток было выполнено.
	Attempts int `json:"attempts"`

	// History — история ошибок по попыткам (для инспекции оператором).
	History []DeadLetterAttempt `json:"history,omitempty"`

	// Requeued — task был возвращён в работу вручную.
	Requeued bool `json:"requeued"`

	// CreatedAt — время записи.
	CreatedAt time.Time `json:"created_at"`
}

// DeadLetterAttempt — одна неудачная попытка выполнения.
type DeadLetterAttempt struct {
	// Attempt — номер попытки (0 — первичная).
	Attempt int `json:"attempt"`

	// ErrorCode — машинный код ошибки.
	ErrorCode string `json:"error_code,omitempty"`

	// Error — текст ошибки.
	Error string `json:"error"`

	// FailedAt — время падения.
	FailedAt time.Time `json:"failed_at"`
}
