package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/graph"
	"github.com/shaiso/Vocata/internal/mq"
	"github.com/shaiso/Vocata/internal/repo"
	"github.com/shaiso/Vocata/internal/telemetry"
)

// handleJobSubmitted обрабатывает событие о новом job.
func (s *Scheduler) handleJobSubmitted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobSubmittedPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse job.submitted payload", "error", err)
		return err
	}

	s.logger.Debug("received job.submitted event", "job_id", payload.JobID)

	// Проверяем, не обрабатывается ли уже
	if s.isJobActive(payload.JobID) {
		s.logger.Debug("job already active, skipping", "job_id", payload.JobID)
		return nil
	}

	if err := s.processJob(ctx, payload.JobID); err != nil {
		if errors.Is(err, ErrJobAlreadyActive) || errors.Is(err, ErrJobFinished) {
			s.logger.Debug("job not processed", "job_id", payload.JobID, "reason", err)
			return nil
		}
		s.logger.Error("failed to process job", "job_id", payload.JobID, "error", err)
		return err
	}

	return nil
}

// handleTaskReport обрабатывает отчёт engine'а о результате task'а.
func (s *Scheduler) handleTaskReport(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskReportPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse task.report payload", "error", err)
		return err
	}

	s.logger.Debug("received task.report event",
		"task_id", payload.TaskID,
		"job_id", payload.JobID,
		"stage", payload.Stage,
		"status", payload.Status,
	)

	if err := s.processTaskReport(ctx, payload); err != nil {
		s.logger.Error("failed to process task report",
			"task_id", payload.TaskID,
			"job_id", payload.JobID,
			"error", err,
		)
		return err
	}

	return nil
}

// processJob обрабатывает новый или подхваченный poll'ом job.
func (s *Scheduler) processJob(ctx context.Context, jobID uuid.UUID) error {
	// 1. Загружаем job из БД
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("get job: %w", err)
	}

	// 2. Терминальный job трогать нечего
	if job.Status.IsTerminal() {
		return ErrJobFinished
	}

	// 3. Загружаем tasks; если их ещё нет — строим DAG
	tasks, err := s.taskRepo.ListByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		tasks, err = s.buildTasks(ctx, job)
		if err != nil {
			return err
		}
		if tasks == nil {
			// Параметры невалидны — job финализирован как FAILED.
			return nil
		}
	}

	// 4. Создаём JobState
	state, err := NewJobState(job, tasks)
	if err != nil {
		return fmt.Errorf("build job state: %w", err)
	}

	// 5. Добавляем в активные jobs
	if err := s.addActiveJob(state); err != nil {
		return err
	}

	// 6. Переводим job в RUNNING (CAS; проигрыш означает, что другой
	// экземпляр успел раньше — состояние от этого не расходится)
	if job.Status == domain.JobStatusPending {
		if _, err := s.jobRepo.MarkRunning(ctx, jobID); err != nil {
			s.removeActiveJob(jobID)
			return fmt.Errorf("mark job running: %w", err)
		}
	}

	s.logger.Info("job started",
		"job_id", jobID,
		"tasks", state.Graph.Size(),
	)

	// 7. Продвигаем DAG: корневые tasks уходят в очереди
	s.advance(ctx, state)

	return nil
}

// buildTasks строит DAG из параметров job и сохраняет tasks.
// Невалидные параметры финализируют job как FAILED (возврат nil, nil).
func (s *Scheduler) buildTasks(ctx context.Context, job *domain.Job) ([]domain.Task, error) {
	tasks, err := graph.Build(job.ID, job.Params)
	if err != nil {
		var verr *graph.ValidationError
		if errors.As(err, &verr) {
			return nil, s.failJob(ctx, job.ID, fmt.Sprintf("invalid job params: %v", err))
		}
		return nil, fmt.Errorf("build graph: %w", err)
	}

	if err := s.taskRepo.CreateBatch(ctx, tasks); err != nil {
		return nil, fmt.Errorf("create tasks: %w", err)
	}

	return tasks, nil
}

// failJob финализирует job как FAILED до начала выполнения.
func (s *Scheduler) failJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	finalized, err := s.jobRepo.Finalize(ctx, jobID, domain.JobStatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("finalize failed job: %w", err)
	}
	if finalized {
		telemetry.JobsFinished.WithLabelValues(string(domain.JobStatusFailed)).Inc()
		s.logger.Warn("job failed early", "job_id", jobID, "error", errMsg)
	}
	return nil
}

// processTaskReport обрабатывает отчёт о результате task'а.
func (s *Scheduler) processTaskReport(ctx context.Context, payload mq.TaskReportPayload) error {
	// 1. Получаем активный JobState, при необходимости восстанавливаем
	state := s.getActiveJob(payload.JobID)
	if state == nil {
		var err error
		state, err = s.restoreJobState(ctx, payload.JobID)
		if err != nil {
			return fmt.Errorf("restore job state: %w", err)
		}
		if state == nil {
			// Job завершён или не существует — поздний отчёт
			// принимается и отбрасывается.
			s.logger.Debug("report for inactive job discarded",
				"job_id", payload.JobID,
				"task_id", payload.TaskID,
			)
			return nil
		}
	}

	stage := domain.Stage(payload.Stage)

	// 2. Применяем результат через CAS
	if payload.Status == string(domain.TaskStatusCompleted) {
		s.applyCompleted(ctx, state, stage, payload)
	} else {
		if err := s.applyFailed(ctx, state, stage, payload); err != nil {
			return err
		}
	}

	// 3. Продвигаем DAG и финализируем при завершении
	s.advance(ctx, state)

	return nil
}

// applyCompleted фиксирует успешный результат task'а.
func (s *Scheduler) applyCompleted(ctx context.Context, state *JobState, stage domain.Stage, payload mq.TaskReportPayload) {
	won, err := s.taskRepo.Complete(ctx, payload.TaskID, payload.Output)
	if err != nil {
		s.logger.Error("failed to complete task",
			"task_id", payload.TaskID,
			"error", err,
		)
		return
	}
	if !won {
		// Дубликат отчёта или reaper успел раньше — no-op.
		s.logger.Debug("duplicate completion discarded", "task_id", payload.TaskID)
		// In-memory статус всё равно сводим к хранилищу.
		s.syncStatus(ctx, state, stage, payload.TaskID)
		return
	}

	state.SetStatus(stage, domain.TaskStatusCompleted)
	if payload.DurationMS > 0 {
		telemetry.TaskDuration.WithLabelValues(string(stage)).Observe(float64(payload.DurationMS) / 1000)
	}

	s.logger.Debug("task completed",
		"job_id", state.JobID(),
		"stage", stage,
		"attempt", payload.Attempt,
	)
}

// applyFailed обрабатывает неуспешный отчёт: retry при остатке бюджета,
// иначе FAILED для required и SKIPPED для optional.
func (s *Scheduler) applyFailed(ctx context.Context, state *JobState, stage domain.Stage, payload mq.TaskReportPayload) error {
	task, err := s.taskRepo.GetByID(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, payload.TaskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	if task.CanRetry() {
		won, err := s.taskRepo.Requeue(ctx, task.ID, payload.Error)
		if err != nil {
			return fmt.Errorf("requeue task: %w", err)
		}
		if !won {
			s.logger.Debug("duplicate failure report discarded", "task_id", task.ID)
			s.syncStatus(ctx, state, stage, task.ID)
			return nil
		}

		state.SetStatus(stage, domain.TaskStatusReady)
		telemetry.TasksRetried.WithLabelValues(string(stage)).Inc()
		s.logger.Warn("task requeued for retry",
			"job_id", state.JobID(),
			"stage", stage,
			"attempt", task.Attempt,
			"max_retries", task.MaxRetries,
			"error", payload.Error,
		)

		return s.enqueue(ctx, task)
	}

	// Retry исчерпаны
	if task.Required {
		won, err := s.taskRepo.Fail(ctx, task.ID, payload.Error)
		if err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		if won {
			state.SetStatus(stage, domain.TaskStatusFailed)
			s.logger.Warn("task failed, retries exhausted",
				"job_id", state.JobID(),
				"stage", stage,
				"error", payload.Error,
			)
		} else {
			s.syncStatus(ctx, state, stage, task.ID)
		}
		return nil
	}

	won, err := s.taskRepo.SkipFailed(ctx, task.ID, payload.Error)
	if err != nil {
		return fmt.Errorf("skip failed task: %w", err)
	}
	if won {
		state.SetStatus(stage, domain.TaskStatusSkipped)
		s.logger.Warn("optional task skipped, retries exhausted",
			"job_id", state.JobID(),
			"stage", stage,
			"error", payload.Error,
		)
	} else {
		s.syncStatus(ctx, state, stage, task.ID)
	}
	return nil
}

// syncStatus сводит in-memory статус stage к хранилищу после
// проигранного CAS: авторитетен всегда статус в БД.
func (s *Scheduler) syncStatus(ctx context.Context, state *JobState, stage domain.Stage, taskID uuid.UUID) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to sync task status", "task_id", taskID, "error", err)
		return
	}
	state.SetStatus(stage, task.Status)
}

// advance продвигает DAG: ставит готовые tasks в очереди, применяет
// skip-каскады и финализирует job, когда все tasks терминальны.
func (s *Scheduler) advance(ctx context.Context, state *JobState) {
	// Отменённый (или иначе финализированный) job не продвигается:
	// оставшиеся tasks помечаются SKIPPED, RUNNING дорабатывают вхолостую.
	job, err := s.jobRepo.GetByID(ctx, state.JobID())
	if err != nil {
		s.logger.Error("failed to reload job", "job_id", state.JobID(), "error", err)
		return
	}
	if job.Status.IsTerminal() {
		if _, err := s.taskRepo.SkipRemaining(ctx, state.JobID(), "job "+string(job.Status)); err != nil {
			s.logger.Error("failed to skip remaining tasks", "job_id", state.JobID(), "error", err)
		}
		s.removeActiveJob(state.JobID())
		return
	}

	// Упавшая required-ветка приговаривает job: финализируем сразу,
	// не дожидаясь терминальности остальных веток, и ничего больше не
	// диспатчим. Не начатые tasks помечаются SKIPPED, RUNNING дорабатывают
	// вхолостую — их поздние отчёты принимаются и отбрасываются.
	if failed := state.FailedStages(); len(failed) > 0 {
		s.finalize(ctx, state)
		if _, err := s.taskRepo.SkipRemaining(ctx, state.JobID(), "required stage failed"); err != nil {
			s.logger.Error("failed to skip remaining tasks", "job_id", state.JobID(), "error", err)
		}
		return
	}

	for _, tr := range state.Advance() {
		switch tr.Readiness {
		case graph.Ready:
			s.dispatch(ctx, state, tr.Task)
		case graph.Skip:
			s.skip(ctx, state, tr.Task)
		}
	}

	if state.IsComplete() {
		s.finalize(ctx, state)
	}
}

// dispatch ставит task в очередь его engine'а.
// Enqueue делает только победитель CAS PENDING→READY.
func (s *Scheduler) dispatch(ctx context.Context, state *JobState, task *domain.Task) {
	won, err := s.taskRepo.MarkReady(ctx, task.ID)
	if err != nil {
		s.logger.Error("failed to mark task ready",
			"task_id", task.ID,
			"error", err,
		)
		return
	}
	if !won {
		// Другой экземпляр уже поставил в очередь.
		return
	}

	if err := s.enqueue(ctx, task); err != nil {
		s.logger.Warn("failed to enqueue task",
			"task_id", task.ID,
			"error", err,
		)
		// Task уже READY в БД — poll fallback повторит enqueue.
	}
}

// enqueue публикует task.dispatch в очередь engine'а.
func (s *Scheduler) enqueue(ctx context.Context, task *domain.Task) error {
	// Polling-only режим: task остаётся READY, engine подхватит его poll'ом.
	if s.publisher == nil {
		return nil
	}

	if err := mq.DeclareEngineQueue(ctx, s.conn, task.EngineID); err != nil {
		return fmt.Errorf("declare engine queue: %w", err)
	}

	err := s.publisher.PublishTaskDispatch(ctx, mq.TaskDispatchPayload{
		TaskID:   task.ID,
		JobID:    task.JobID,
		Stage:    string(task.Stage),
		EngineID: task.EngineID,
	})
	if err != nil {
		return err
	}

	telemetry.TasksDispatched.WithLabelValues(string(task.Stage)).Inc()
	s.logger.Debug("task dispatched",
		"task_id", task.ID,
		"job_id", task.JobID,
		"stage", task.Stage,
		"queue", task.QueueName(),
	)

	return nil
}

// skip помечает task SKIPPED в хранилище (каскад от пропущенной
// или упавшей зависимости).
func (s *Scheduler) skip(ctx context.Context, state *JobState, task *domain.Task) {
	won, err := s.taskRepo.Skip(ctx, task.ID, "dependency not satisfied")
	if err != nil {
		s.logger.Error("failed to skip task",
			"task_id", task.ID,
			"error", err,
		)
		return
	}
	if won {
		s.logger.Debug("task skipped",
			"job_id", state.JobID(),
			"stage", task.Stage,
		)
	}
}

// finalize переводит job в терминальный статус по статусам tasks.
func (s *Scheduler) finalize(ctx context.Context, state *JobState) {
	outcome := state.Outcome()

	var errMsg string
	if outcome == domain.JobStatusFailed {
		errMsg = fmt.Sprintf("stages failed: %v", state.FailedStages())
	}

	won, err := s.jobRepo.Finalize(ctx, state.JobID(), outcome, errMsg)
	if err != nil {
		s.logger.Error("failed to finalize job",
			"job_id", state.JobID(),
			"error", err,
		)
		return
	}

	if won {
		telemetry.JobsFinished.WithLabelValues(string(outcome)).Inc()
		if outcome == domain.JobStatusCompleted {
			s.logger.Info("job completed",
				"job_id", state.JobID(),
				"duration", state.Job.Duration(),
			)
		} else {
			s.logger.Warn("job failed",
				"job_id", state.JobID(),
				"failed_stages", state.FailedStages(),
			)
		}
	}

	s.removeActiveJob(state.JobID())
}

// restoreJobState восстанавливает JobState из БД.
// Используется, когда отчёт приходит для job, которого нет в памяти
// (после рестарта Scheduler). Для завершённых и несуществующих jobs
// возвращает nil, nil.
func (s *Scheduler) restoreJobState(ctx context.Context, jobID uuid.UUID) (*JobState, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	if job.IsFinished() {
		return nil, nil
	}

	tasks, err := s.taskRepo.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		// DAG ещё не построен — job подхватит poll.
		return nil, nil
	}

	state, err := NewJobState(job, tasks)
	if err != nil {
		return nil, fmt.Errorf("build job state: %w", err)
	}

	if err := s.addActiveJob(state); err != nil {
		if errors.Is(err, ErrJobAlreadyActive) {
			// Кто-то уже восстановил — возвращаем его
			return s.getActiveJob(jobID), nil
		}
		return nil, err
	}

	s.logger.Info("job state restored",
		"job_id", jobID,
		"stats", state.Stats(),
	)

	return state, nil
}
