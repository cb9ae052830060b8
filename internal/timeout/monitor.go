package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// TaskSource — источник просроченных tasks.
type TaskSource interface {
	ListExpired(ctx context.Context, limit int) ([]domain.Task, error)
}

// Failer — принимает просроченный task (оркестратор).
type Failer interface {
	FailTimedOut(ctx context.Context, taskID uuid.UUID) error
}

// Monitor периодически находит tasks, выполняющиеся дольше своего
// таймаута, и передаёт их оркестратору.
type Monitor struct {
	tasks     TaskSource
	failer    Failer
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
}

// Config — конфигурация Monitor.
type Config struct {
	Tasks     TaskSource
	Failer    Failer
	Logger    *slog.Logger
	BatchSize int           // количество tasks за один тик (default: 100)
	Interval  time.Duration // период между тиками (default: 30s)
}

// Значения по умолчанию.
const (
	defaultBatchSize = 100
	defaultInterval  = 30 * time.Second
)

// New создаёт новый Monitor.
func New(cfg Config) *Monitor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		tasks:     cfg.Tasks,
		failer:    cfg.Failer,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run крутит тики до отмены контекста.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("timeout monitor started", "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("timeout monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("timeout sweep failed", "error", err)
			}
		}
	}
}

// Tick выполняет один проход: находит просроченные tasks и передаёт
// каждый оркестратору. Ошибка одного task не блокирует остальные.
func (m *Monitor) Tick(ctx context.Context) error {
	telemetry.TimeoutSweeps.Inc()

	expired, err := m.tasks.ListExpired(ctx, m.batchSize)
	if err != nil {
		return fmt.Errorf("list expired tasks: %w", err)
	}

	if len(expired) == 0 {
		return nil
	}

	failed := 0
	for i := range expired {
		task := &expired[i]

		if err := m.failer.FailTimedOut(ctx, task.ID); err != nil {
			m.logger.Error("failed to time out task",
				"task_id", task.ID,
				"request_id", task.RequestID,
				"key", task.Key,
				"error", err,
			)
			continue
		}

		failed++
		telemetry.TimedOutTasks.Inc()
		m.logger.Warn("task timed out",
			"task_id", task.ID,
			"request_id", task.RequestID,
			"key", task.Key,
			"timeout_sec", task.TimeoutSec,
		)
	}

	m.logger.Info("timeout sweep completed",
		"expired", len(expired),
		"timed_out", failed,
	)

	return nil
}
