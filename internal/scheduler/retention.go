package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Vocata/internal/repo"
)

// cronParser — парсер cron-выражений retention-расписания.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Default retention configuration.
const (
	defaultRetentionCron = "0 3 * * *"
	defaultRetentionTTL  = 30 * 24 * time.Hour
)

// Retention — периодическая чистка терминальных jobs и завершённых сессий.
//
// Расписание задаётся cron-выражением; каждое срабатывание удаляет
// записи, завершённые раньше, чем now - TTL. Tasks удаляются каскадом
// вместе со своим job.
type Retention struct {
	jobRepo     *repo.JobRepo
	sessionRepo *repo.SessionRepo
	logger      *slog.Logger

	schedule cron.Schedule
	ttl      time.Duration
}

// RetentionConfig — конфигурация Retention.
type RetentionConfig struct {
	JobRepo     *repo.JobRepo
	SessionRepo *repo.SessionRepo
	Logger      *slog.Logger

	// CronExpr — расписание чистки (default: "0 3 * * *", ежедневно в 03:00).
	CronExpr string

	// TTL — возраст завершённой записи, после которого она удаляется
	// (default: 30 дней).
	TTL time.Duration
}

// NewRetention создаёт новый Retention.
func NewRetention(cfg RetentionConfig) (*Retention, error) {
	expr := cfg.CronExpr
	if expr == "" {
		expr = defaultRetentionCron
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse retention cron %q: %w", expr, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultRetentionTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Retention{
		jobRepo:     cfg.JobRepo,
		sessionRepo: cfg.SessionRepo,
		logger:      logger,
		schedule:    schedule,
		ttl:         ttl,
	}, nil
}

// Run запускает цикл чистки до отмены контекста.
func (r *Retention) Run(ctx context.Context) error {
	r.logger.Info("retention sweep started", "ttl", r.ttl)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход чистки. Экспортирован для тестов и CLI.
func (r *Retention) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.ttl)

	jobs, err := r.jobRepo.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to purge jobs", "error", err)
	}

	var sessions int64
	if r.sessionRepo != nil {
		sessions, err = r.sessionRepo.PurgeEndedBefore(ctx, cutoff)
		if err != nil {
			r.logger.Error("failed to purge sessions", "error", err)
		}
	}

	r.logger.Info("retention sweep completed",
		"cutoff", cutoff,
		"jobs_purged", jobs,
		"sessions_purged", sessions,
	)
}
