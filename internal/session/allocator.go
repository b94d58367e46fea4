package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/repo"
	"github.com/shaiso/Vocata/internal/telemetry"
)

// WorkerSlots — операции хранилища worker'ов, нужные Allocator'у.
// Реализуется repo.WorkerRepo; тесты используют in-memory fake.
type WorkerSlots interface {
	ListReady(ctx context.Context) ([]domain.Worker, error)
	Reserve(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// SessionStore — операции хранилища сессий, нужные Allocator'у.
// Реализуется repo.SessionRepo.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	Activate(ctx context.Context, id uuid.UUID) (bool, error)
	End(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListOpenByWorker(ctx context.Context, workerID string) ([]domain.Session, error)
}

// Request — запрос на аллокацию live-сессии.
type Request struct {
	TenantID string `json:"tenant_id,omitempty"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Binding — результат аллокации: привязка сессии к worker'у.
// Клиент подключается к endpoint напрямую, минуя router.
type Binding struct {
	SessionID uuid.UUID `json:"session_id"`
	WorkerID  string    `json:"worker_id"`
	Endpoint  string    `json:"endpoint"`
}

// Allocator распределяет live-сессии по worker'ам.
type Allocator struct {
	workers  WorkerSlots
	sessions SessionStore
	logger   *slog.Logger
}

// NewAllocator создаёт новый Allocator.
func NewAllocator(workers WorkerSlots, sessions SessionStore, logger *slog.Logger) *Allocator {
	return &Allocator{
		workers:  workers,
		sessions: sessions,
		logger:   logger,
	}
}

// Allocate выбирает worker'а и привязывает к нему новую сессию.
//
// Кандидаты — READY worker'ы со свободными слотами, поддерживающие
// запрошенные модель и язык, от наиболее свободного. Слот берётся
// оптимистичным Reserve: промах CAS (кандидата заняли параллельно)
// переводит обход к следующему. Все промахнулись — ErrNoCapacity.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Binding, error) {
	candidates, err := a.workers.ListReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ready workers: %w", err)
	}

	for i := range candidates {
		worker := &candidates[i]

		if !worker.Supports(req.Model, req.Language) {
			continue
		}

		reserved, err := a.workers.Reserve(ctx, worker.ID)
		if err != nil {
			return nil, fmt.Errorf("reserve slot on %s: %w", worker.ID, err)
		}
		if !reserved {
			// Кандидата успели занять или эвиктить — следующий.
			continue
		}

		binding, err := a.bind(ctx, worker, req)
		if err != nil {
			// Слот занят, но сессию создать не удалось — возвращаем слот.
			if relErr := a.workers.Release(ctx, worker.ID); relErr != nil {
				a.logger.Error("failed to release slot after bind failure",
					"worker_id", worker.ID,
					"error", relErr,
				)
			}
			return nil, err
		}

		telemetry.SessionsAllocated.Inc()
		return binding, nil
	}

	telemetry.AllocationFailures.Inc()
	return nil, ErrNoCapacity
}

// bind создаёт сессию для зарезервированного слота.
func (a *Allocator) bind(ctx context.Context, worker *domain.Worker, req Request) (*Binding, error) {
	session := &domain.Session{
		ID:        uuid.New(),
		WorkerID:  worker.ID,
		TenantID:  req.TenantID,
		Language:  req.Language,
		Model:     req.Model,
		State:     domain.SessionStateAllocated,
		StartedAt: time.Now(),
	}

	if err := a.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	a.logger.Info("session allocated",
		"session_id", session.ID,
		"worker_id", worker.ID,
		"tenant_id", req.TenantID,
	)

	return &Binding{
		SessionID: session.ID,
		WorkerID:  worker.ID,
		Endpoint:  worker.Endpoint,
	}, nil
}

// Activate отмечает, что клиент подключился к worker'у и начал стрим.
func (a *Allocator) Activate(ctx context.Context, sessionID uuid.UUID) error {
	ok, err := a.sessions.Activate(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		session, err := a.sessions.Get(ctx, sessionID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return err
		}
		if session.IsEnded() {
			return fmt.Errorf("%w: %s", ErrSessionEnded, sessionID)
		}
		// Уже ACTIVE — повторная активация идемпотентна.
	}
	return nil
}

// End завершает сессию и освобождает слот ровно один раз.
//
// CAS-переход в ENDED — маркер освобождения: из конкурирующих путей
// завершения (клиент, таймаут, эвикция) декремент делает только
// победитель CAS; остальные получают no-op.
func (a *Allocator) End(ctx context.Context, sessionID uuid.UUID, reason string) error {
	session, err := a.sessions.Get(ctx, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}

	ended, err := a.sessions.End(ctx, sessionID, reason)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if !ended {
		// Уже завершена — слот освободил победитель CAS.
		return nil
	}

	if err := a.workers.Release(ctx, session.WorkerID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}

	telemetry.SessionsEnded.WithLabelValues(reason).Inc()
	a.logger.Info("session ended",
		"session_id", sessionID,
		"worker_id", session.WorkerID,
		"reason", reason,
	)

	return nil
}

// ForceEnd завершает сессию при эвикции worker'а.
//
// Слот на worker'е НЕ декрементится: worker уже UNHEALTHY и вне пула
// кандидатов, а при возвращении его счётчик сведётся к self-report'у
// первого heartbeat'а.
func (a *Allocator) ForceEnd(ctx context.Context, sessionID uuid.UUID, reason string) error {
	ended, err := a.sessions.End(ctx, sessionID, reason)
	if err != nil {
		return fmt.Errorf("force end session: %w", err)
	}
	if ended {
		telemetry.SessionsEnded.WithLabelValues(reason).Inc()
	}
	return nil
}

// Get возвращает сессию по ID.
func (a *Allocator) Get(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := a.sessions.Get(ctx, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, err
}

// ListOpenByWorker возвращает незавершённые сессии worker'а.
func (a *Allocator) ListOpenByWorker(ctx context.Context, workerID string) ([]domain.Session, error) {
	return a.sessions.ListOpenByWorker(ctx, workerID)
}
