package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/repo"
)

// WorkerStore — операции хранилища, нужные Registry и Monitor.
// Реализуется repo.WorkerRepo; тесты используют in-memory fake.
type WorkerStore interface {
	Upsert(ctx context.Context, w *domain.Worker) error
	Get(ctx context.Context, id string) (*domain.Worker, error)
	List(ctx context.Context) ([]domain.Worker, error)
	ListReady(ctx context.Context) ([]domain.Worker, error)
	Heartbeat(ctx context.Context, id string, activeSessions int, at time.Time) (bool, error)
	MarkUnhealthy(ctx context.Context, id string, heartbeatBefore time.Time) (bool, error)
	ListExpired(ctx context.Context, cutoff time.Time) ([]domain.Worker, error)
}

// Registration — параметры регистрации worker'а.
type Registration struct {
	ID        string   `json:"id"`
	Endpoint  string   `json:"endpoint"`
	Capacity  int      `json:"capacity"`
	Models    []string `json:"models,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Validate проверяет параметры регистрации.
func (r *Registration) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRegistration)
	}
	if r.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidRegistration)
	}
	if r.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidRegistration)
	}
	return nil
}

// Registry — реестр real-time worker'ов.
type Registry struct {
	workers WorkerStore
	logger  *slog.Logger
}

// NewRegistry создаёт новый Registry.
func NewRegistry(workers WorkerStore, logger *slog.Logger) *Registry {
	return &Registry{
		workers: workers,
		logger:  logger,
	}
}

// Register регистрирует worker'а или обновляет существующую запись.
// Повторная регистрация с тем же ID идемпотентна: рестартовавший worker
// перезаписывает endpoint и capabilities, стартуя с нулевой загрузкой.
func (r *Registry) Register(ctx context.Context, reg Registration) (*domain.Worker, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	worker := &domain.Worker{
		ID:             reg.ID,
		Endpoint:       reg.Endpoint,
		Capacity:       reg.Capacity,
		ActiveSessions: 0,
		Models:         reg.Models,
		Languages:      reg.Languages,
		Status:         domain.WorkerStatusReady,
		LastHeartbeat:  now,
		RegisteredAt:   now,
	}

	if err := r.workers.Upsert(ctx, worker); err != nil {
		return nil, fmt.Errorf("register worker: %w", err)
	}

	r.logger.Info("worker registered",
		"worker_id", worker.ID,
		"endpoint", worker.Endpoint,
		"capacity", worker.Capacity,
	)

	return worker, nil
}

// Heartbeat обновляет liveness worker'а и сводит счётчик слотов к
// self-report'у. Heartbeat от UNHEALTHY worker'а возвращает его в READY.
// Heartbeat от незарегистрированного worker'а — ошибка: worker обязан
// пройти регистрацию заново.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, activeSessions int) error {
	if activeSessions < 0 {
		activeSessions = 0
	}

	ok, err := r.workers.Heartbeat(ctx, workerID, activeSessions, time.Now())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	return nil
}

// Get возвращает worker'а по ID.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Worker, error) {
	worker, err := r.workers.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// List возвращает всех worker'ов.
func (r *Registry) List(ctx context.Context) ([]domain.Worker, error) {
	return r.workers.List(ctx)
}

// ListReady возвращает READY worker'ов со свободными слотами,
// наиболее свободные первыми.
func (r *Registry) ListReady(ctx context.Context) ([]domain.Worker, error) {
	return r.workers.ListReady(ctx)
}
