package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/retrypolicy"
)

// DispatchPublisher — транспорт для заданий провайдерам.
type DispatchPublisher interface {
	PublishTaskDispatch(ctx context.Context, payload mq.TaskDispatchPayload) error
}

// EngineDispatcher отправляет task внешнему исполнителю через очередь
// tasks.dispatch.
//
// Идентификатор задания генерируется здесь и возвращается оркестратору
// до публикации: исполнитель обязан указать его в callback. Backoff
// повтора передаётся в DelayMs — исполнитель выдерживает задержку сам,
// а оркестратор остаётся детерминированным.
type EngineDispatcher struct {
	name      string
	publisher DispatchPublisher
	backoff   retrypolicy.Policy
}

// EngineConfig — конфигурация EngineDispatcher.
type EngineConfig struct {
	// Name — имя провайдера в записях об отправке (default: "engine").
	Name string

	// Publisher — транспорт для заданий.
	Publisher DispatchPublisher

	// Backoff — политика задержек повторов (zero value: Default).
	Backoff retrypolicy.Policy
}

// NewEngineDispatcher создаёт новый EngineDispatcher.
func NewEngineDispatcher(cfg EngineConfig) *EngineDispatcher {
	name := cfg.Name
	if name == "" {
		name = "engine"
	}
	backoff := cfg.Backoff
	if backoff.MaxRetries == 0 {
		backoff = retrypolicy.Default()
	}

	return &EngineDispatcher{
		name:      name,
		publisher: cfg.Publisher,
		backoff:   backoff,
	}
}

// Name возвращает имя провайдера.
func (d *EngineDispatcher) Name() string {
	return d.name
}

// Dispatch публикует задание и возвращает его идентификатор.
func (d *EngineDispatcher) Dispatch(ctx context.Context, req *domain.Request, task *domain.Task) (string, error) {
	if d.publisher == nil {
		return "", fmt.Errorf("dispatch transport unavailable")
	}

	jobID := uuid.New().String()

	payload := mq.TaskDispatchPayload{
		TaskID:     task.ID,
		RequestID:  req.ID,
		JobID:      jobID,
		Role:       task.Role,
		Key:        task.Key,
		Brief:      req.Brief,
		TimeoutSec: task.TimeoutSec,
	}

	// Повтор после сбоя — исполнитель должен выдержать backoff.
	if task.RetryCount > 0 {
		payload.DelayMs = d.backoff.Delay(task.RetryCount - 1).Milliseconds()
	}

	if err := d.publisher.PublishTaskDispatch(ctx, payload); err != nil {
		return "", fmt.Errorf("publish dispatch for task %s: %w", task.ID, err)
	}

	return jobID, nil
}
