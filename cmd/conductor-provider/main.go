// Conductor Provider — имитация внешних исполнителей для локальной
// разработки: потребляет задания из очереди и отвечает callbacks.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/provider"
	"github.com/shaiso/Conductor/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-provider")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// RabbitMQ обязателен: без очередей провайдеру нечего делать
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	worker := provider.NewWorker(provider.WorkerConfig{
		Conn:      mqConn,
		Publisher: mq.NewPublisher(mqConn, logger),
		Logger:    logger,
		Latency:   latencyFromEnv(),
		FailKeys:  failKeysFromEnv(),
	})

	if err := worker.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("PROVIDER_PORT"); v != "" {
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
	worker.Stop()
	logger.Info("conductor-provider stopped")
}

// latencyFromEnv читает MOCK_LATENCY_MS (имитируемое время работы).
func latencyFromEnv() time.Duration {
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0 // default задаёт provider.NewWorker
}

// failKeysFromEnv читает MOCK_FAIL_KEYS в формате "key=CODE,key2=CODE2".
// Для проверки повторов и dead letters на стенде.
func failKeysFromEnv() map[string]string {
	raw := os.Getenv("MOCK_FAIL_KEYS")
	if raw == "" {
		return nil
	}

	failKeys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		failKeys[parts[0]] = parts[1]
	}
	return failKeys
}
