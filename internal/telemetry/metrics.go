package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестрации. Регистрируются в default registry,
// экспортируются всеми сервисами через promhttp на /metrics.
var (
	// RequestsCreated — созданные заявки по типу контента.
	RequestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_requests_created_total",
		Help: "Number of content requests created, by request type.",
	}, []string{"type"})

	// StatusTransitions — переходы заявок по статусам.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_status_transitions_total",
		Help: "Number of request status transitions.",
	}, []string{"from", "to"})

	// CallbacksReceived — полученные provider callbacks по статусу.
	CallbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_provider_callbacks_total",
		Help: "Number of provider callbacks received, by terminal status.",
	}, []string{"status"})

	// DuplicateCallbacks — повторные доставки уже применённых callbacks.
	DuplicateCallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_duplicate_callbacks_total",
		Help: "Number of duplicate provider callbacks ignored by idempotency.",
	})

	// TasksDispatched — отправленные провайдерам tasks.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_tasks_dispatched_total",
		Help: "Number of tasks dispatched to providers.",
	}, []string{"role", "provider"})

	// TaskFailures — падения tasks по коду ошибки.
	TaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_task_failures_total",
		Help: "Number of task failures, by error code.",
	}, []string{"code"})

	// RetriesInitiated — инициированные повторы tasks.
	RetriesInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_task_retries_total",
		Help: "Number of task retries initiated.",
	})

	// DeadLettered — tasks, ушедшие в dead letters.
	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_tasks_dead_lettered_total",
		Help: "Number of tasks routed to the dead letter sink.",
	})

	// BreakerRejections — диспатчи, отклонённые открытым breaker.
	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_breaker_rejections_total",
		Help: "Number of dispatch attempts rejected by an open circuit breaker.",
	}, []string{"dependency"})

	// BreakerState — состояние breaker: 0 closed, 1 half_open, 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conductor_breaker_state",
		Help: "Circuit breaker state per dependency: 0 closed, 1 half_open, 2 open.",
	}, []string{"dependency"})

	// TimeoutSweeps — выполненные проходы timeout monitor.
	TimeoutSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_timeout_sweeps_total",
		Help: "Number of timeout monitor sweeps executed.",
	})

	// TimedOutTasks — tasks, закрытые по таймауту.
	TimedOutTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_timed_out_tasks_total",
		Help: "Number of in-progress tasks failed by the timeout monitor.",
	})
)
