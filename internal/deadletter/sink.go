// Package deadletter — приёмник tasks, исчерпавших бюджет повторов.
//
// Sink сохраняет запись с историей ошибок для инспекции оператором и
// best-effort публикует её в DLQ-очередь RabbitMQ. Автоматического
// оживления нет: возврат в работу выполняется явной операцией requeue
// (оркестратор сбрасывает счётчик повторов).
package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
)

// Store — хранилище dead letters.
type Store interface {
	Insert(ctx context.Context, dl *domain.DeadLetter) error
	GetByTask(ctx context.Context, taskID uuid.UUID) (*domain.DeadLetter, error)
	ListOpen(ctx context.Context, limit int) ([]domain.DeadLetter, error)
	MarkRequeued(ctx context.Context, taskID uuid.UUID) error
}

// Publisher — публикация в DLQ-очередь (best-effort).
type Publisher interface {
	PublishDeadLetter(ctx context.Context, dl *domain.DeadLetter) error
}

// Sink принимает задачи с исчерпанными повторами.
type Sink struct {
	store     Store
	publisher Publisher // может быть nil (без MQ)
	logger    *slog.Logger
}

// NewSink создаёт Sink. publisher опционален.
func NewSink(store Store, publisher Publisher, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, publisher: publisher, logger: logger}
}

// Receive сохраняет упавший task как dead letter.
// history — накопленная история ошибок по попыткам.
func (s *Sink) Receive(ctx context.Context, task *domain.Task, history []domain.DeadLetterAttempt) error {
	dl := &domain.DeadLetter{
		ID:        uuid.New(),
		TaskID:    task.ID,
		RequestID: task.RequestID,
		Role:      task.Role,
		Key:       task.Key,
		Reason:    fmt.Sprintf("%s: %s", task.ErrorCode, task.Error),
		Attempts:  task.RetryCount + 1,
		History:   history,
		CreatedAt: time.Now(),
	}
	if task.ErrorCode == "" {
		dl.Reason = task.Error
	}

	if err := s.store.Insert(ctx, dl); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	s.logger.Warn("task dead-lettered",
		"task_id", task.ID,
		"request_id", task.RequestID,
		"key", task.Key,
		"attempts", dl.Attempts,
	)

	if s.publisher != nil {
		if err := s.publisher.PublishDeadLetter(ctx, dl); err != nil {
			// Запись в БД — источник истины, публикация best-effort.
			s.logger.Warn("failed to publish dead letter", "task_id", task.ID, "error", err)
		}
	}

	return nil
}

// ListOpen возвращает ещё не возвращённые в работу dead letters.
func (s *Sink) ListOpen(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	return s.store.ListOpen(ctx, limit)
}

// GetByTask возвращает dead letter для task.
func (s *Sink) GetByTask(ctx context.Context, taskID uuid.UUID) (*domain.DeadLetter, error) {
	return s.store.GetByTask(ctx, taskID)
}

// MarkRequeued помечает dead letter как возвращённый в работу.
func (s *Sink) MarkRequeued(ctx context.Context, taskID uuid.UUID) error {
	return s.store.MarkRequeued(ctx, taskID)
}
