// Package events — append-only аудит жизненного цикла заявок.
//
// Logger никогда не возвращает ошибку вызывающему: потеря записи
// аудита не должна прерывать оркестрацию, которая её породила.
// Сбой хранилища уходит в side channel (slog).
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
)

// ActorSystem — актор по умолчанию для событий, инициированных системой.
const ActorSystem = "system"

// Store — хранилище событий.
type Store interface {
	Insert(ctx context.Context, event *domain.Event) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Event, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.Event, error)
	CountByType(ctx context.Context, requestID uuid.UUID) (map[domain.EventType]int, error)
}

// Logger пишет и читает события аудита.
type Logger struct {
	store  Store
	logger *slog.Logger
}

// NewLogger создаёт Logger.
func NewLogger(store Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger}
}

// Entry — параметры записываемого события.
type Entry struct {
	// Type — тип события.
	Type domain.EventType

	// Description — человекочитаемое описание.
	Description string

	// Metadata — структурированные детали.
	Metadata map[string]any

	// TaskID — task, к которому относится событие (опционально).
	TaskID *uuid.UUID

	// Actor — инициатор (по умолчанию ActorSystem).
	Actor string
}

// Log записывает событие. Ошибка хранилища не возвращается:
// она логируется, и оркестрация продолжается.
func (l *Logger) Log(ctx context.Context, requestID uuid.UUID, entry Entry) {
	actor := entry.Actor
	if actor == "" {
		actor = ActorSystem
	}

	event := &domain.Event{
		ID:          uuid.New(),
		RequestID:   requestID,
		TaskID:      entry.TaskID,
		Type:        entry.Type,
		Description: entry.Description,
		Metadata:    entry.Metadata,
		Actor:       actor,
		CreatedAt:   time.Now(),
	}

	if err := l.store.Insert(ctx, event); err != nil {
		l.logger.Error("failed to persist audit event",
			"request_id", requestID,
			"type", entry.Type,
			"error", err,
		)
	}
}

// History возвращает полную историю заявки в порядке создания.
func (l *Logger) History(ctx context.Context, requestID uuid.UUID) ([]domain.Event, error) {
	return l.store.ListByRequest(ctx, requestID)
}

// TaskHistory возвращает события одного task.
func (l *Logger) TaskHistory(ctx context.Context, taskID uuid.UUID) ([]domain.Event, error) {
	return l.store.ListByTask(ctx, taskID)
}

// Counts возвращает количество событий заявки по типам.
func (l *Logger) Counts(ctx context.Context, requestID uuid.UUID) (map[domain.EventType]int, error) {
	return l.store.CountByType(ctx, requestID)
}

// HasErrored возвращает true, если у заявки были события сбоев
// (task_failed или system_error). Используется тулингом и тестами.
func (l *Logger) HasErrored(ctx context.Context, requestID uuid.UUID) (bool, error) {
	counts, err := l.store.CountByType(ctx, requestID)
	if err != nil {
		return false, err
	}
	return counts[domain.EventTaskFailed] > 0 || counts[domain.EventSystemError] > 0, nil
}
