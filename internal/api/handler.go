package api

import (
	"log/slog"

	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orc            *orchestrator.Orchestrator
	requestRepo    *repo.RequestRepo
	taskRepo       *repo.TaskRepo
	eventRepo      *repo.EventRepo
	dispatchRepo   *repo.DispatchRepo
	deadLetterRepo *repo.DeadLetterRepo
	publisher      *mq.Publisher
	logger         *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator   *orchestrator.Orchestrator
	RequestRepo    *repo.RequestRepo
	TaskRepo       *repo.TaskRepo
	EventRepo      *repo.EventRepo
	DispatchRepo   *repo.DispatchRepo
	DeadLetterRepo *repo.DeadLetterRepo
	Publisher      *mq.Publisher
	Logger         *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		orc:            cfg.Orchestrator,
		requestRepo:    cfg.RequestRepo,
		taskRepo:       cfg.TaskRepo,
		eventRepo:      cfg.EventRepo,
		dispatchRepo:   cfg.DispatchRepo,
		deadLetterRepo: cfg.DeadLetterRepo,
		publisher:      cfg.Publisher,
		logger:         cfg.Logger,
	}
}
