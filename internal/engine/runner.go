package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/mq"
	"github.com/shaiso/Vocata/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
	defaultLeaseTTL     = 5 * time.Minute
)

// TaskStore — операции над tasks, нужные Runner'у.
// Реализуется repo.TaskRepo.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListReadyByEngine(ctx context.Context, engineID string, limit int) ([]domain.Task, error)
	Claim(ctx context.Context, id uuid.UUID, leaseUntil time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, output map[string]any) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	SkipFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

// Runner выполняет tasks одного engine'а.
//
// Runner — stateless компонент системы, который:
//   - Получает tasks из очереди engine.<engine_id> (event-driven)
//   - Периодически проверяет READY tasks своего engine'а (polling fallback)
//   - Захватывает task через CAS READY→RUNNING с lease
//   - Выполняет task через Executor
//   - Публикует отчёт в tasks.report
//
// Runners масштабируются горизонтально — несколько экземпляров
// одного engine'а потребляют из одной очереди.
type Runner struct {
	// Engine identity
	engineID string

	// Repositories
	taskRepo TaskStore

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Executor registry
	registry *Registry

	// Consumer
	consumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int
	leaseTTL     time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Runner.
type Config struct {
	// EngineID — идентификатор engine'а (совпадает со stage).
	EngineID string

	// Repositories
	TaskRepo TaskStore

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Registry — executor'ы по stage.
	Registry *Registry

	// PollInterval — интервал polling fallback (default: 10s).
	PollInterval time.Duration

	// BatchSize — количество tasks за один poll (default: 50).
	BatchSize int

	// LeaseTTL — visibility timeout захвата (default: 5m).
	// Должен совпадать с настройкой reaper'а scheduler'а.
	LeaseTTL time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Runner{
		engineID:     cfg.EngineID,
		taskRepo:     cfg.TaskRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		leaseTTL:     leaseTTL,
		logger:       logger,
	}
}

// Start запускает Runner.
//
// Запускает:
//   - Consumer для engine.<engine_id>
//   - Polling горутину для fallback
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	r.logger.Info("starting engine runner",
		"engine_id", r.engineID,
		"poll_interval", r.pollInterval,
		"lease_ttl", r.leaseTTL,
	)

	// Без RabbitMQ работаем в polling-only режиме.
	if r.conn != nil {
		// Объявляем свою очередь (идемпотентно)
		if err := mq.DeclareEngineQueue(ctx, r.conn, r.engineID); err != nil {
			return fmt.Errorf("declare engine queue: %w", err)
		}

		// Создаём consumer
		r.consumer = mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
			Queue:    string(mq.EngineQueue(r.engineID)),
			Handler:  r.handleDispatch,
			Prefetch: defaultPrefetch,
		})

		// Запускаем consumer
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("dispatch consumer error", "error", err)
			}
		}()
	} else {
		r.logger.Warn("no RabbitMQ connection, engine runs in polling-only mode")
	}

	// Запускаем polling
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pollLoop(ctx)
	}()

	r.logger.Info("engine runner started", "engine_id", r.engineID)
	return nil
}

// Stop останавливает Runner.
func (r *Runner) Stop() {
	r.stoppedMu.Lock()
	r.stopped = true
	r.stoppedMu.Unlock()

	r.logger.Info("stopping engine runner...", "engine_id", r.engineID)

	if r.cancelFunc != nil {
		r.cancelFunc()
	}

	if r.consumer != nil {
		r.consumer.Stop()
	}

	// Ждём завершения горутин
	r.wg.Wait()

	r.logger.Info("engine runner stopped", "engine_id", r.engineID)
}

// IsStopped проверяет, остановлен ли Runner.
func (r *Runner) IsStopped() bool {
	r.stoppedMu.RLock()
	defer r.stoppedMu.RUnlock()
	return r.stopped
}

// pollLoop — цикл polling для fallback.
func (r *Runner) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем tasks, чья доставка потерялась)
	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (r *Runner) poll(ctx context.Context) {
	tasks, err := r.taskRepo.ListReadyByEngine(ctx, r.engineID, r.batchSize)
	if err != nil {
		r.logger.Error("failed to list ready tasks", "error", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	r.logger.Debug("poll found ready tasks", "count", len(tasks))

	for i := range tasks {
		task := &tasks[i]

		if err := r.processTask(ctx, task.ID); err != nil {
			if errors.Is(err, ErrTaskNotClaimable) {
				continue
			}
			r.logger.Error("failed to process task from poll",
				"task_id", task.ID,
				"error", err,
			)
		}
	}
}

// handleDispatch обрабатывает доставку из очереди engine'а.
func (r *Runner) handleDispatch(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskDispatchPayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse task.dispatch payload", "error", err)
		return err
	}

	r.logger.Debug("received task.dispatch event",
		"task_id", payload.TaskID,
		"job_id", payload.JobID,
		"stage", payload.Stage,
	)

	if err := r.processTask(ctx, payload.TaskID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskNotClaimable) {
			r.logger.Debug("task not processed", "task_id", payload.TaskID, "reason", err)
			return nil
		}
		r.logger.Error("failed to process task", "task_id", payload.TaskID, "error", err)
		return err
	}

	return nil
}

// processTask захватывает task, выполняет и публикует отчёт.
func (r *Runner) processTask(ctx context.Context, taskID uuid.UUID) error {
	// 1. Загружаем task из БД
	task, err := r.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	// 2. Захватываем через CAS. Промах — дубликат доставки или
	// task уже не READY: ack без выполнения.
	claimed, err := r.taskRepo.Claim(ctx, taskID, time.Now().Add(r.leaseTTL))
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: %s (status %s)", ErrTaskNotClaimable, taskID, task.Status)
	}

	// Claim инкрементировал попытку в БД
	task.Attempt++

	r.logger.Info("task started",
		"task_id", task.ID,
		"job_id", task.JobID,
		"stage", task.Stage,
		"attempt", task.Attempt,
	)

	// 3. Выполняем
	started := time.Now()
	result, execErr := r.execute(ctx, task)
	duration := time.Since(started)

	// 4. Публикуем отчёт
	if execErr == nil && (result == nil || result.Error == "") {
		r.logger.Info("task succeeded",
			"task_id", task.ID,
			"job_id", task.JobID,
			"stage", task.Stage,
			"attempt", task.Attempt,
			"duration", duration,
		)

		var output map[string]any
		if result != nil {
			output = result.Output
		}
		return r.publishReport(ctx, task, string(domain.TaskStatusCompleted), output, "", duration)
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	} else {
		errMsg = result.Error
	}

	r.logger.Warn("task failed",
		"task_id", task.ID,
		"job_id", task.JobID,
		"stage", task.Stage,
		"attempt", task.Attempt,
		"error", errMsg,
	)

	return r.publishReport(ctx, task, string(domain.TaskStatusFailed), nil, errMsg, duration)
}

// execute вызывает executor stage'а.
func (r *Runner) execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error) {
	executor, err := r.registry.Get(task.Stage)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, task)
}

// publishReport доводит результат до Scheduler'а: публикует tasks.report,
// а в polling-only режиме (publisher отсутствует) применяет переход прямо
// к хранилищу — Scheduler подхватит его своим poll'ом.
func (r *Runner) publishReport(ctx context.Context, task *domain.Task, status string, output map[string]any, errMsg string, duration time.Duration) error {
	if r.publisher == nil {
		return r.reportDirect(ctx, task, status, output, errMsg)
	}

	payload := mq.TaskReportPayload{
		TaskID:     task.ID,
		JobID:      task.JobID,
		Stage:      string(task.Stage),
		Status:     status,
		Output:     output,
		Error:      errMsg,
		Attempt:    task.Attempt,
		DurationMS: duration.Milliseconds(),
	}

	if err := r.publisher.PublishTaskReport(ctx, payload); err != nil {
		r.logger.Warn("failed to publish task.report",
			"task_id", task.ID,
			"error", err,
		)
		// Отчёт потерян — lease истечёт, и reaper вернёт task в очередь.
	}

	return nil
}

// reportDirect применяет результат task'а к хранилищу без очереди.
// Те же CAS-переходы, что делает Scheduler при обработке отчёта:
// проигранный CAS означает дубликат или успевший раньше reaper — no-op.
func (r *Runner) reportDirect(ctx context.Context, task *domain.Task, status string, output map[string]any, errMsg string) error {
	if status == string(domain.TaskStatusCompleted) {
		if _, err := r.taskRepo.Complete(ctx, task.ID, output); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		return nil
	}

	if task.CanRetry() {
		if _, err := r.taskRepo.Requeue(ctx, task.ID, errMsg); err != nil {
			return fmt.Errorf("requeue task: %w", err)
		}
		return nil
	}

	// Retry исчерпаны
	if task.Required {
		if _, err := r.taskRepo.Fail(ctx, task.ID, errMsg); err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		return nil
	}

	if _, err := r.taskRepo.SkipFailed(ctx, task.ID, errMsg); err != nil {
		return fmt.Errorf("skip failed task: %w", err)
	}
	return nil
}
