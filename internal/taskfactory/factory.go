package taskfactory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
)

// defaultMaxRetries — бюджет повторов, если blueprint не задаёт свой.
const defaultMaxRetries = 3

// ErrUnknownRequestType — для типа заявки нет зарегистрированного blueprint.
var ErrUnknownRequestType = errors.New("unknown request type")

// TaskStore — подмножество хранилища, нужное фабрике.
//
// Create возвращает false без ошибки, если task с таким request_id+key
// уже существует (конфликт уникальности — no-op).
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) (bool, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error)
}

// Factory строит начальный граф tasks для заявки.
type Factory struct {
	tasks      TaskStore
	blueprints map[domain.RequestType][]Blueprint
	logger     *slog.Logger
}

// New создаёт Factory с каноническими blueprints (image, video, video_voice).
func New(tasks TaskStore, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		tasks:      tasks,
		blueprints: defaultBlueprints(),
		logger:     logger,
	}
}

// Register добавляет (или заменяет) blueprint для типа заявки.
// Позволяет вводить новые формы без изменений оркестратора.
func (f *Factory) Register(reqType domain.RequestType, blueprints []Blueprint) {
	f.blueprints[reqType] = blueprints
}

// Supports проверяет, известен ли тип заявки.
func (f *Factory) Supports(reqType domain.RequestType) bool {
	_, ok := f.blueprints[reqType]
	return ok
}

// CreateTasks создаёт tasks заявки по её типу. Идемпотентен:
// уже существующие tasks (по ключу) пропускаются, повторный вызов
// возвращает полный актуальный список без дубликатов.
func (f *Factory) CreateTasks(ctx context.Context, req *domain.Request) ([]domain.Task, error) {
	blueprints, ok := f.blueprints[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequestType, req.Type)
	}

	// check-then-insert: сначала смотрим, что уже есть.
	existing, err := f.tasks.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("list existing tasks: %w", err)
	}
	byKey := make(map[string]bool, len(existing))
	for i := range existing {
		byKey[existing[i].Key] = true
	}

	created := 0
	for _, bp := range blueprints {
		if byKey[bp.Key] {
			continue
		}

		maxRetries := bp.MaxRetries
		if maxRetries <= 0 {
			maxRetries = defaultMaxRetries
		}

		task := &domain.Task{
			ID:         uuid.New(),
			RequestID:  req.ID,
			Role:       bp.Role,
			Key:        bp.Key,
			Name:       bp.Name,
			Sequence:   bp.Sequence,
			DependsOn:  bp.DependsOn,
			Status:     domain.TaskStatusPending,
			MaxRetries: maxRetries,
			TimeoutSec: int(bp.Timeout / time.Second),
			CreatedAt:  time.Now(),
		}

		inserted, err := f.tasks.Create(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("create task %s: %w", bp.Key, err)
		}
		if !inserted {
			// Гонка с параллельным вызовом: ключ уже вставлен. No-op.
			f.logger.Debug("task already exists, skipping",
				"request_id", req.ID,
				"key", bp.Key,
			)
			continue
		}
		created++
	}

	if created > 0 {
		f.logger.Info("tasks created",
			"request_id", req.ID,
			"type", req.Type,
			"count", created,
		)
	}

	return f.tasks.ListByRequest(ctx, req.ID)
}
