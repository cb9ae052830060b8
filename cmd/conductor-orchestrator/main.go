// Conductor Orchestrator — управляет жизненным циклом заявок.
//
// Orchestrator:
//   - Получает новые заявки и callbacks провайдеров из RabbitMQ
//   - Диспатчит tasks провайдерам и двигает заявки по пайплайну
//   - Переметает подвисшие tasks (timeout monitor, только лидер)
//   - Деградирует до polling по БД при недоступном брокере
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conductor/internal/deadletter"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/events"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/provider"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/taskfactory"
	"github.com/shaiso/Conductor/internal/telemetry"
	"github.com/shaiso/Conductor/internal/timeout"
)

// sweepLockKey — advisory lock для лидерства timeout monitor.
const sweepLockKey int64 = 727272

const (
	intakePollInterval = 10 * time.Second
	sweepInterval      = 30 * time.Second
	pollBatchSize      = 50
	consumerPrefetch   = 5
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Репозитории
	requestRepo := repo.NewRequestRepo(pool)
	taskRepo := repo.NewTaskRepo(pool)
	dispatchRepo := repo.NewDispatchRepo(pool)
	eventRepo := repo.NewEventRepo(pool)
	deadLetterRepo := repo.NewDeadLetterRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Dead letter sink (публикация в DLQ best-effort)
	var dlqPublisher deadletter.Publisher
	if publisher != nil {
		dlqPublisher = publisher
	}
	sink := deadletter.NewSink(deadLetterRepo, dlqPublisher, logger)

	// Провайдеры: все роли идут через очередь tasks.dispatch
	engineCfg := provider.EngineConfig{}
	if publisher != nil {
		engineCfg.Publisher = publisher
	}
	router := provider.NewRouter()
	router.SetFallback(provider.NewEngineDispatcher(engineCfg))

	// Политика QA
	var approval orchestrator.ApprovalPolicy = orchestrator.AutoApprove{}
	if os.Getenv("APPROVAL_MODE") == "manual" {
		approval = orchestrator.ManualApproval{}
		logger.Info("manual approval enabled")
	}

	orc := orchestrator.New(orchestrator.Config{
		Requests:    requestRepo,
		Tasks:       taskRepo,
		Dispatches:  dispatchRepo,
		Events:      events.NewLogger(eventRepo, logger),
		Factory:     taskfactory.New(taskRepo, logger),
		Router:      router,
		DeadLetters: sink,
		Approval:    approval,
		Logger:      logger,
	})

	// Consumers: новые заявки и callbacks провайдеров
	if mqConn != nil {
		startConsumers(ctx, mqConn, orc, logger)
	}

	// Polling fallback: подхватываем заявки, застрявшие в INTAKE
	go pollIntake(ctx, requestRepo, orc, logger)

	// Timeout monitor: только лидер выполняет проходы.
	// SWEEP_CRON переключает с фиксированного интервала на cron-расписание.
	sweepCron := os.Getenv("SWEEP_CRON")
	if sweepCron != "" {
		if err := timeout.ValidateCronExpr(sweepCron); err != nil {
			logger.Warn("invalid SWEEP_CRON, falling back to interval", "error", err)
			sweepCron = ""
		}
	}
	monitor := timeout.New(timeout.Config{
		Tasks:    taskRepo,
		Failer:   orc,
		Logger:   logger,
		Interval: sweepInterval,
	})
	go runSweepLoop(ctx, pool, monitor, logger, sweepCron)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("conductor-orchestrator stopped")
}

// startConsumers запускает потребителей requests.created и tasks.callbacks.
func startConsumers(ctx context.Context, conn *mq.Connection, orc *orchestrator.Orchestrator, logger *slog.Logger) {
	created := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRequestsCreated),
		Prefetch: consumerPrefetch,
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			payload, err := mq.ParsePayload[mq.RequestCreatedPayload](&d.Message)
			if err != nil {
				return err
			}
			_, err = orc.ProcessRequest(ctx, payload.RequestID)
			if errors.Is(err, orchestrator.ErrRequestNotFound) {
				// Event опередил запись в БД — подхватит polling.
				return nil
			}
			return err
		},
	})

	callbacks := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueTasksCallbacks),
		Prefetch: consumerPrefetch,
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			payload, err := mq.ParsePayload[mq.TaskCallbackPayload](&d.Message)
			if err != nil {
				return err
			}
			return orc.HandleCallback(ctx, orchestrator.Callback{
				TaskID:        payload.TaskID,
				ExternalJobID: payload.JobID,
				Status:        domain.TaskStatus(payload.Status),
				OutputURL:     payload.OutputURL,
				Output:        payload.Output,
				ErrorCode:     payload.ErrorCode,
				ErrorMessage:  payload.ErrorMessage,
				CostCents:     payload.CostCents,
				Actor:         "provider",
			})
		},
	})

	go func() {
		if err := created.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("requests consumer error", "error", err)
		}
	}()
	go func() {
		if err := callbacks.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("callbacks consumer error", "error", err)
		}
	}()
}

// pollIntake периодически подхватывает заявки в INTAKE.
// Основной путь — event из очереди; polling закрывает потерю событий.
func pollIntake(ctx context.Context, requests *repo.RequestRepo, orc *orchestrator.Orchestrator, logger *slog.Logger) {
	ticker := time.NewTicker(intakePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := requests.ListByStatus(ctx, domain.StatusIntake, pollBatchSize)
			if err != nil {
				logger.Error("failed to list intake requests", "error", err)
				continue
			}
			for i := range pending {
				if _, err := orc.ProcessRequest(ctx, pending[i].ID); err != nil {
					logger.Error("failed to process request from poll",
						"request_id", pending[i].ID,
						"error", err,
					)
				}
			}
		}
	}
}

// runSweepLoop запускает timeout monitor на инстансе-лидере. Лидерство
// между инстансами — через advisory lock PostgreSQL: лидер удерживает
// lock до завершения, остальные перепроверяют его по тикеру.
func runSweepLoop(ctx context.Context, pool *pgxpool.Pool, monitor *timeout.Monitor, logger *slog.Logger, cronExpr string) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ok bool
			if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", sweepLockKey).Scan(&ok); err != nil {
				logger.Error("sweep lock error", "error", err)
				continue
			}
			if !ok {
				continue
			}

			logger.Info("timeout sweep leadership acquired")

			var err error
			if cronExpr != "" {
				err = monitor.RunCron(ctx, cronExpr)
			} else {
				err = monitor.Run(ctx)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("timeout monitor error", "error", err)
			}

			_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", sweepLockKey)
			return
		}
	}
}
