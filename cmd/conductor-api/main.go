// Conductor API — HTTP-вход системы: приём заявок, webhook callbacks
// провайдеров, инспекция tasks, событий и dead letters.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conductor/internal/api"
	"github.com/shaiso/Conductor/internal/deadletter"
	"github.com/shaiso/Conductor/internal/events"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/provider"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/taskfactory"
	"github.com/shaiso/Conductor/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_api_http_requests_total",
		Help: "Total HTTP requests handled by conductor_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-api")

	// Подключаемся к базе данных
	pool, err := repo.NewPool(context.Background())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	requestRepo := repo.NewRequestRepo(pool)
	taskRepo := repo.NewTaskRepo(pool)
	dispatchRepo := repo.NewDispatchRepo(pool)
	eventRepo := repo.NewEventRepo(pool)
	deadLetterRepo := repo.NewDeadLetterRepo(pool)

	// RabbitMQ (опционально: без брокера заявки подхватывает polling)
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(context.Background(), mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	var dlqPublisher deadletter.Publisher
	if publisher != nil {
		dlqPublisher = publisher
	}

	engineCfg := provider.EngineConfig{}
	if publisher != nil {
		engineCfg.Publisher = publisher
	}
	router := provider.NewRouter()
	router.SetFallback(provider.NewEngineDispatcher(engineCfg))

	var approval orchestrator.ApprovalPolicy = orchestrator.AutoApprove{}
	if os.Getenv("APPROVAL_MODE") == "manual" {
		approval = orchestrator.ManualApproval{}
	}

	orc := orchestrator.New(orchestrator.Config{
		Requests:    requestRepo,
		Tasks:       taskRepo,
		Dispatches:  dispatchRepo,
		Events:      events.NewLogger(eventRepo, logger),
		Factory:     taskfactory.New(taskRepo, logger),
		Router:      router,
		DeadLetters: deadletter.NewSink(deadLetterRepo, dlqPublisher, logger),
		Approval:    approval,
		Logger:      logger,
	})

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Orchestrator:   orc,
		RequestRepo:    requestRepo,
		TaskRepo:       taskRepo,
		EventRepo:      eventRepo,
		DispatchRepo:   dispatchRepo,
		DeadLetterRepo: deadLetterRepo,
		Publisher:      publisher,
		Logger:         logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
