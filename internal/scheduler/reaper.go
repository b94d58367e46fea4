package scheduler

import (
	"context"
	"time"

	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/telemetry"
)

// reapLoop — цикл возврата брошенных tasks.
//
// Task, захваченный engine'ом, но не отчитавшийся до истечения lease,
// считается потерянным (engine умер, отчёт не дошёл). Такие tasks
// возвращаются в очередь, исчерпавшие retry-бюджет — финализируются.
func (s *Scheduler) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap(ctx)
		}
	}
}

// reap выполняет один проход по истёкшим lease.
func (s *Scheduler) reap(ctx context.Context) {
	requeued, failed, skipped, err := s.taskRepo.ReapExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("failed to reap expired tasks", "error", err)
		return
	}

	total := len(requeued) + len(failed) + len(skipped)
	if total == 0 {
		return
	}

	telemetry.TasksReaped.Add(float64(total))
	s.logger.Warn("reaped expired tasks",
		"requeued", len(requeued),
		"failed", len(failed),
		"skipped", len(skipped),
	)

	// Возвращённые — обратно в очереди engine'ов
	for i := range requeued {
		task := &requeued[i]
		s.touchState(task, domain.TaskStatusReady)

		if err := s.enqueue(ctx, task); err != nil {
			s.logger.Warn("failed to re-enqueue reaped task",
				"task_id", task.ID,
				"error", err,
			)
			// Task READY в БД — poll fallback повторит enqueue.
		}
	}

	// Финализированные — продвигаем их jobs (skip-каскады, финал)
	for i := range failed {
		s.touchState(&failed[i], domain.TaskStatusFailed)
		s.advanceJob(ctx, &failed[i])
	}
	for i := range skipped {
		s.touchState(&skipped[i], domain.TaskStatusSkipped)
		s.advanceJob(ctx, &skipped[i])
	}
}

// touchState обновляет in-memory статус, если job активен.
func (s *Scheduler) touchState(task *domain.Task, status domain.TaskStatus) {
	if state := s.getActiveJob(task.JobID); state != nil {
		state.SetStatus(task.Stage, status)
	}
}

// advanceJob продвигает job задетого reaper'ом task'а.
func (s *Scheduler) advanceJob(ctx context.Context, task *domain.Task) {
	state := s.getActiveJob(task.JobID)
	if state == nil {
		var err error
		state, err = s.restoreJobState(ctx, task.JobID)
		if err != nil {
			s.logger.Error("failed to restore job after reap",
				"job_id", task.JobID,
				"error", err,
			)
			return
		}
		if state == nil {
			return
		}
	}

	s.advance(ctx, state)
}
