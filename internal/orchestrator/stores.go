package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
)

// RequestStore — хранилище заявок.
//
// UpdateStatus — условная запись: переход применяется только если
// текущий статус равен from. Возвращает false без ошибки, если строка
// не совпала (проигранная гонка).
type RequestStore interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.RequestStatus) (bool, error)
}

// TaskStore — хранилище tasks.
//
// Create возвращает false при конфликте уникальности request_id+key.
// Update — условная запись всех изменяемых полей, применяется только
// если текущий статус равен expect.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error)
	Update(ctx context.Context, task *domain.Task, expect domain.TaskStatus) (bool, error)
}

// DispatchStore — хранилище записей об отправках провайдерам.
//
// Insert возвращает false при конфликте уникальности
// (task_id, external_job_id, status) — основа идемпотентности callbacks.
type DispatchStore interface {
	Insert(ctx context.Context, rec *domain.DispatchRecord) (bool, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.DispatchRecord, error)
}

// DeadLetters — приёмник tasks с исчерпанными повторами.
type DeadLetters interface {
	Receive(ctx context.Context, task *domain.Task, history []domain.DeadLetterAttempt) error
	MarkRequeued(ctx context.Context, taskID uuid.UUID) error
}

// Dispatcher — адаптер внешнего исполнителя (workflow engine, провайдер).
//
// Контракт: Dispatch либо возвращает ошибку сразу, либо, вернувшись без
// ошибки, гарантирует, что запланированная асинхронная работа ровно один
// раз на терминальный исход вызовет HandleCallback. Возвращаемое значение
// — идентификатор задания на стороне провайдера.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, req *domain.Request, task *domain.Task) (string, error)
}

// DispatcherRouter — выбор адаптера по роли агента.
type DispatcherRouter interface {
	For(role domain.AgentRole) (Dispatcher, error)
}
