package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/mq"
)

// Значения по умолчанию.
const (
	defaultLatency  = 2 * time.Second
	defaultPrefetch = 5
)

// CallbackPublisher — транспорт для исходов заданий.
type CallbackPublisher interface {
	PublishCallback(ctx context.Context, payload mq.TaskCallbackPayload) error
}

// Worker — имитация внешних исполнителей для локальной разработки.
//
// Потребляет задания из очереди tasks.dispatch, выдерживает задержку
// и публикует правдоподобный callback. Не трогает БД: общается с
// оркестратором исключительно через очереди, как настоящий провайдер.
//
// Масштабируется горизонтально — несколько экземпляров потребляют
// из одной очереди.
type Worker struct {
	conn      *mq.Connection
	publisher CallbackPublisher
	logger    *slog.Logger
	latency   time.Duration
	failKeys  map[string]string

	consumer   *mq.Consumer
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// WorkerConfig — конфигурация Worker.
type WorkerConfig struct {
	Conn      *mq.Connection
	Publisher CallbackPublisher
	Logger    *slog.Logger

	// Latency — имитируемое время выполнения задания (default: 2s).
	Latency time.Duration

	// FailKeys — ключи tasks, для которых возвращается сбой с указанным
	// кодом ошибки. Для проверки повторов и dead letters на стенде.
	FailKeys map[string]string
}

// NewWorker создаёт новый Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	latency := cfg.Latency
	if latency <= 0 {
		latency = defaultLatency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		conn:      cfg.Conn,
		publisher: cfg.Publisher,
		logger:    logger,
		latency:   latency,
		failKeys:  cfg.FailKeys,
	}
}

// Start запускает потребление заданий.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueTasksDispatch),
		Handler:  w.handleDispatch,
		Prefetch: defaultPrefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("dispatch consumer error", "error", err)
		}
	}()

	w.logger.Info("mock provider started", "latency", w.latency)
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()
	w.logger.Info("mock provider stopped")
}

// handleDispatch обрабатывает одно задание из очереди.
func (w *Worker) handleDispatch(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskDispatchPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse task.dispatch payload", "error", err)
		return err
	}

	w.logger.Info("job accepted",
		"job_id", payload.JobID,
		"task_id", payload.TaskID,
		"role", payload.Role,
		"key", payload.Key,
		"delay_ms", payload.DelayMs,
	)

	// Backoff повтора плюс имитация работы.
	wait := time.Duration(payload.DelayMs)*time.Millisecond + w.latency
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	callback := w.buildCallback(&payload)
	if err := w.publisher.PublishCallback(ctx, callback); err != nil {
		return fmt.Errorf("publish callback for job %s: %w", payload.JobID, err)
	}

	w.logger.Info("job finished",
		"job_id", payload.JobID,
		"task_id", payload.TaskID,
		"status", callback.Status,
	)

	return nil
}

// buildCallback формирует исход задания.
func (w *Worker) buildCallback(payload *mq.TaskDispatchPayload) mq.TaskCallbackPayload {
	if code, ok := w.failKeys[payload.Key]; ok {
		return mq.TaskCallbackPayload{
			TaskID:       payload.TaskID,
			JobID:        payload.JobID,
			Status:       string(domain.TaskStatusFailed),
			ErrorCode:    code,
			ErrorMessage: fmt.Sprintf("simulated failure for %s", payload.Key),
		}
	}

	return mq.TaskCallbackPayload{
		TaskID:    payload.TaskID,
		JobID:     payload.JobID,
		Status:    string(domain.TaskStatusCompleted),
		OutputURL: sampleOutputURL(payload),
		Output:    sampleOutput(payload),
		CostCents: sampleCost(payload.Role),
	}
}

// sampleOutputURL возвращает правдоподобный URL артефакта по роли.
func sampleOutputURL(payload *mq.TaskDispatchPayload) string {
	ext := "json"
	switch payload.Role {
	case domain.RoleProducer:
		ext = "mp4"
	case domain.RoleVoice:
		ext = "mp3"
	case domain.RoleCopywriter:
		ext = "md"
	}
	return fmt.Sprintf("https://cdn.example.com/%s/%s.%s", payload.RequestID, payload.Key, ext)
}

// sampleOutput возвращает минимальный структурированный результат.
func sampleOutput(payload *mq.TaskDispatchPayload) map[string]any {
	out := map[string]any{
		"provider": "mock",
		"key":      payload.Key,
	}
	if payload.Role == domain.RoleQA {
		out["approved"] = true
		out["score"] = 0.95
	}
	return out
}

// sampleCost возвращает условную стоимость по роли.
func sampleCost(role domain.AgentRole) int64 {
	switch role {
	case domain.RoleProducer:
		return 250
	case domain.RoleVoice:
		return 80
	default:
		return 10
	}
}
