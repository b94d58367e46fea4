package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultReapInterval = 15 * time.Second
	defaultLeaseTTL     = 5 * time.Minute
	defaultBatchSize    = 100
)

// JobStore — операции над jobs, нужные Scheduler'у.
// Реализуется repo.JobRepo.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ListUnfinished(ctx context.Context, limit int) ([]domain.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) (bool, error)
	Finalize(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg string) (bool, error)
}

// TaskStore — операции над tasks, нужные Scheduler'у.
// Реализуется repo.TaskRepo.
type TaskStore interface {
	CreateBatch(ctx context.Context, tasks []domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListByJobID(ctx context.Context, jobID uuid.UUID) ([]domain.Task, error)
	MarkReady(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, output map[string]any) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	Skip(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	SkipFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	SkipRemaining(ctx context.Context, jobID uuid.UUID, reason string) (int64, error)
	ReapExpired(ctx context.Context, now time.Time) (requeued, failed, skipped []domain.Task, err error)
}

// Scheduler управляет выполнением jobs.
//
// Scheduler — центральный компонент системы, который:
//   - Получает новые jobs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет незавершённые jobs в БД (polling fallback)
//   - Строит DAG для каждого job и сохраняет его tasks
//   - Ставит готовые tasks в очереди engine'ов
//   - Обрабатывает отчёты engine'ов (retry, skip-каскады)
//   - Возвращает брошенные tasks по истечению lease
//   - Финализирует jobs (COMPLETED/FAILED)
type Scheduler struct {
	// Repositories
	jobRepo  JobStore
	taskRepo TaskStore

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Active jobs — jobs в процессе выполнения (jobID → state)
	activeJobs map[uuid.UUID]*JobState
	mu         sync.RWMutex

	// Consumers
	jobConsumer    *mq.Consumer
	reportConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	reapInterval time.Duration
	leaseTTL     time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Scheduler.
type Config struct {
	// Repositories
	JobRepo  JobStore
	TaskRepo TaskStore

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// PollInterval — интервал polling fallback (default: 10s).
	PollInterval time.Duration

	// ReapInterval — период проверки истёкших lease (default: 15s).
	ReapInterval time.Duration

	// LeaseTTL — visibility timeout захваченного task'а (default: 5m).
	LeaseTTL time.Duration

	// BatchSize — количество jobs за один poll (default: 100).
	BatchSize int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	reapInterval := cfg.ReapInterval
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}

	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		jobRepo:      cfg.JobRepo,
		taskRepo:     cfg.TaskRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		activeJobs:   make(map[uuid.UUID]*JobState),
		pollInterval: pollInterval,
		reapInterval: reapInterval,
		leaseTTL:     leaseTTL,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// LeaseTTL возвращает visibility timeout для захвата tasks.
func (s *Scheduler) LeaseTTL() time.Duration {
	return s.leaseTTL
}

// Start запускает Scheduler.
//
// Запускает:
//   - Consumer для jobs.submitted
//   - Consumer для tasks.report
//   - Polling горутину для fallback
//   - Reaper для истёкших lease
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting scheduler",
		"poll_interval", s.pollInterval,
		"reap_interval", s.reapInterval,
		"lease_ttl", s.leaseTTL,
		"batch_size", s.batchSize,
	)

	// Создаём consumers. Без RabbitMQ работаем в polling-only режиме.
	if s.conn != nil {
		s.jobConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueJobsSubmitted),
			Handler:  s.handleJobSubmitted,
			Prefetch: 10,
		})

		s.reportConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTasksReport),
			Handler:  s.handleTaskReport,
			Prefetch: 10,
		})

		// Запускаем job consumer
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.jobConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("job consumer error", "error", err)
			}
		}()

		// Запускаем report consumer
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.reportConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("report consumer error", "error", err)
			}
		}()
	} else {
		s.logger.Warn("no RabbitMQ connection, scheduler runs in polling-only mode")
	}

	// Запускаем polling
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx)
	}()

	// Запускаем reaper
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reapLoop(ctx)
	}()

	s.logger.Info("scheduler started")
	return nil
}

// Stop останавливает Scheduler.
func (s *Scheduler) Stop() {
	s.stoppedMu.Lock()
	s.stopped = true
	s.stoppedMu.Unlock()

	s.logger.Info("stopping scheduler...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	// Останавливаем consumers
	if s.jobConsumer != nil {
		s.jobConsumer.Stop()
	}
	if s.reportConsumer != nil {
		s.reportConsumer.Stop()
	}

	// Ждём завершения горутин
	s.wg.Wait()

	s.logger.Info("scheduler stopped",
		"active_jobs", len(s.activeJobs),
	)
}

// IsStopped проверяет, остановлен ли Scheduler.
func (s *Scheduler) IsStopped() bool {
	s.stoppedMu.RLock()
	defer s.stoppedMu.RUnlock()
	return s.stopped
}

// pollLoop — цикл polling для fallback.
func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем jobs, созданные пока были выключены)
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (s *Scheduler) poll(ctx context.Context) {
	jobs, err := s.jobRepo.ListUnfinished(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list unfinished jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	s.logger.Debug("poll found unfinished jobs", "count", len(jobs))

	for i := range jobs {
		job := &jobs[i]

		// Проверяем, не обрабатывается ли уже
		if s.isJobActive(job.ID) {
			// В polling-only режиме отчёты не приходят: engines пишут
			// терминальные переходы прямо в БД, сводим состояние poll'ом.
			if s.conn == nil {
				s.refreshActiveJob(ctx, job.ID)
			}
			continue
		}

		if err := s.processJob(ctx, job.ID); err != nil {
			s.logger.Error("failed to process job from poll",
				"job_id", job.ID,
				"error", err,
			)
		}
	}
}

// refreshActiveJob сводит in-memory состояние активного job к хранилищу
// и продвигает DAG. Статус в БД всегда авторитетен.
func (s *Scheduler) refreshActiveJob(ctx context.Context, jobID uuid.UUID) {
	state := s.getActiveJob(jobID)
	if state == nil {
		return
	}

	tasks, err := s.taskRepo.ListByJobID(ctx, jobID)
	if err != nil {
		s.logger.Error("failed to refresh job state", "job_id", jobID, "error", err)
		return
	}
	for i := range tasks {
		state.SetStatus(tasks[i].Stage, tasks[i].Status)
	}

	s.advance(ctx, state)
}

// isJobActive проверяет, находится ли job в обработке.
func (s *Scheduler) isJobActive(jobID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.activeJobs[jobID]
	return exists
}

// getActiveJob возвращает активный JobState.
func (s *Scheduler) getActiveJob(jobID uuid.UUID) *JobState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeJobs[jobID]
}

// addActiveJob добавляет job в активные.
func (s *Scheduler) addActiveJob(state *JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeJobs[state.JobID()]; exists {
		return ErrJobAlreadyActive
	}

	s.activeJobs[state.JobID()] = state
	return nil
}

// removeActiveJob удаляет job из активных.
func (s *Scheduler) removeActiveJob(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeJobs, jobID)
}

// ActiveJobsCount возвращает количество активных jobs.
func (s *Scheduler) ActiveJobsCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeJobs)
}

// GetActiveJobStats возвращает статистику по активному job.
func (s *Scheduler) GetActiveJobStats(jobID uuid.UUID) (JobStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.activeJobs[jobID]
	if !exists {
		return JobStats{}, false
	}

	return state.Stats(), true
}
