package api

import (
	"log/slog"

	"github.com/shaiso/Vocata/internal/mq"
	"github.com/shaiso/Vocata/internal/registry"
	"github.com/shaiso/Vocata/internal/repo"
	"github.com/shaiso/Vocata/internal/session"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	jobRepo   *repo.JobRepo
	taskRepo  *repo.TaskRepo
	publisher *mq.Publisher
	registry  *registry.Registry
	allocator *session.Allocator
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	JobRepo   *repo.JobRepo
	TaskRepo  *repo.TaskRepo
	Publisher *mq.Publisher
	Registry  *registry.Registry
	Allocator *session.Allocator
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		jobRepo:   cfg.JobRepo,
		taskRepo:  cfg.TaskRepo,
		publisher: cfg.Publisher,
		registry:  cfg.Registry,
		allocator: cfg.Allocator,
		logger:    cfg.Logger,
	}
}
