package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/telemetry"
)

// SessionEnder — принудительное завершение сессий при эвикции worker'а.
// Реализуется session.Allocator'ом.
type SessionEnder interface {
	ListOpenByWorker(ctx context.Context, workerID string) ([]domain.Session, error)
	ForceEnd(ctx context.Context, sessionID uuid.UUID, reason string) error
}

// MonitorConfig — конфигурация Health Monitor'а.
type MonitorConfig struct {
	// HeartbeatTimeout — максимальный возраст heartbeat'а, после которого
	// worker считается мёртвым. По умолчанию 30 секунд.
	HeartbeatTimeout time.Duration

	// SweepInterval — период проверки. По умолчанию 10 секунд.
	SweepInterval time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Second
	}
}

// Monitor — Health Monitor парка worker'ов.
//
// Ticking-цикл: находит READY worker'ов с просроченным heartbeat'ом,
// CAS'ом помечает UNHEALTHY и принудительно завершает их сессии с
// причиной worker_lost. CAS с guard'ом по last_heartbeat исключает
// ложную эвикцию: worker, успевший прислать heartbeat между выборкой
// и UPDATE, не трогается.
type Monitor struct {
	workers  WorkerStore
	sessions SessionEnder
	logger   *slog.Logger
	cfg      MonitorConfig
}

// NewMonitor создаёт новый Monitor.
func NewMonitor(workers WorkerStore, sessions SessionEnder, logger *slog.Logger, cfg MonitorConfig) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		workers:  workers,
		sessions: sessions,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run запускает цикл мониторинга до отмены контекста.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("health monitor started",
		"heartbeat_timeout", m.cfg.HeartbeatTimeout,
		"sweep_interval", m.cfg.SweepInterval,
	)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход эвикции. Экспортирован для тестов.
func (m *Monitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.HeartbeatTimeout)

	expired, err := m.workers.ListExpired(ctx, cutoff)
	if err != nil {
		m.logger.Error("failed to list expired workers", "error", err)
		return
	}

	for i := range expired {
		m.evict(ctx, &expired[i], cutoff)
	}
}

// evict эвиктит одного worker'а.
func (m *Monitor) evict(ctx context.Context, worker *domain.Worker, cutoff time.Time) {
	log := telemetry.WithWorkerID(m.logger, worker.ID)

	evicted, err := m.workers.MarkUnhealthy(ctx, worker.ID, cutoff)
	if err != nil {
		log.Error("failed to mark worker unhealthy", "error", err)
		return
	}
	if !evicted {
		// Свежий heartbeat успел раньше — worker жив.
		return
	}

	log.Warn("worker evicted",
		"last_heartbeat", worker.LastHeartbeat,
		"active_sessions", worker.ActiveSessions,
	)
	telemetry.WorkersEvicted.Inc()

	// Сессии завершаются только после подтверждённой эвикции:
	// клиенты получают worker_lost и переаллоцируются на живых worker'ов.
	open, err := m.sessions.ListOpenByWorker(ctx, worker.ID)
	if err != nil {
		log.Error("failed to list worker sessions", "error", err)
		return
	}

	for i := range open {
		if err := m.sessions.ForceEnd(ctx, open[i].ID, domain.EndReasonWorkerLost); err != nil {
			log.Error("failed to end session",
				"session_id", open[i].ID,
				"error", err,
			)
		}
	}

	if len(open) > 0 {
		log.Info("worker sessions force-ended", "count", len(open))
	}
}
