package scheduler

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/graph"
)

// JobState — состояние выполнения одного job в памяти.
//
// JobState создаётся, когда Scheduler начинает обработку job,
// и удаляется при финализации (COMPLETED/FAILED/CANCELLED).
//
// In-memory статусы — кэш поверх авторитетного хранилища: они
// обновляются только после выигранного CAS, поэтому расхождение
// с БД невозможно. После рестарта состояние полностью
// восстанавливается из tasks (рёбра DAG хранятся в них самих).
type JobState struct {
	// Job — данные job из БД.
	Job *domain.Job

	// Graph — граф зависимостей tasks.
	Graph *graph.Graph

	// statuses — текущий статус каждого stage.
	statuses map[domain.Stage]domain.TaskStatus

	// tasks — tasks job'а (stage → Task).
	tasks map[domain.Stage]*domain.Task

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// NewJobState создаёт JobState из job и его tasks.
func NewJobState(job *domain.Job, tasks []domain.Task) (*JobState, error) {
	g, err := graph.FromTasks(tasks)
	if err != nil {
		return nil, err
	}

	s := &JobState{
		Job:      job,
		Graph:    g,
		statuses: make(map[domain.Stage]domain.TaskStatus, len(tasks)),
		tasks:    make(map[domain.Stage]*domain.Task, len(tasks)),
	}

	for i := range tasks {
		task := &tasks[i]
		s.statuses[task.Stage] = task.Status
		s.tasks[task.Stage] = task
	}

	return s, nil
}

// JobID возвращает ID job.
func (s *JobState) JobID() uuid.UUID {
	return s.Job.ID
}

// Task возвращает task по stage.
func (s *JobState) Task(stage domain.Stage) *domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[stage]
}

// StatusOf возвращает текущий статус stage.
func (s *JobState) StatusOf(stage domain.Stage) domain.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[stage]
}

// SetStatus обновляет in-memory статус stage.
// Вызывается только после выигранного CAS в хранилище.
func (s *JobState) SetStatus(stage domain.Stage, status domain.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[stage] = status
}

// snapshot возвращает копию карты статусов.
func (s *JobState) snapshot() map[domain.Stage]domain.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.Stage]domain.TaskStatus, len(s.statuses))
	for stage, status := range s.statuses {
		out[stage] = status
	}
	return out
}

// Transition — решение по одному PENDING task'у при продвижении DAG.
type Transition struct {
	Task      *domain.Task
	Readiness graph.Readiness
}

// Advance оценивает PENDING tasks и возвращает переходы в порядке
// вставки (Seq). Skip-каскады разрешаются на месте: пометка SKIPPED
// видна оценке следующих stages в том же проходе.
func (s *JobState) Advance() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	var transitions []Transition

	// Каскад может открыть новые решения — повторяем до стабилизации.
	for {
		progressed := false

		for _, node := range s.Graph.Order {
			if s.statuses[node.Stage] != domain.TaskStatusPending {
				continue
			}

			readiness := s.Graph.Evaluate(node.Stage, s.statuses)
			if readiness == graph.NotReady {
				continue
			}

			switch readiness {
			case graph.Ready:
				s.statuses[node.Stage] = domain.TaskStatusReady
			case graph.Skip:
				s.statuses[node.Stage] = domain.TaskStatusSkipped
			}

			transitions = append(transitions, Transition{
				Task:      node.Task,
				Readiness: readiness,
			})
			progressed = true
		}

		if !progressed {
			return transitions
		}
	}
}

// IsComplete проверяет, все ли tasks терминальны.
func (s *JobState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Graph.IsComplete(s.statuses)
}

// Outcome возвращает терминальный статус job'а. Вызывается только
// когда IsComplete — true.
func (s *JobState) Outcome() domain.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Graph.Outcome(s.statuses)
}

// FailedStages возвращает список упавших stages.
func (s *JobState) FailedStages() []domain.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed []domain.Stage
	for _, node := range s.Graph.Order {
		if s.statuses[node.Stage] == domain.TaskStatusFailed {
			failed = append(failed, node.Stage)
		}
	}
	return failed
}

// Stats возвращает статистику выполнения.
func (s *JobState) Stats() JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := JobStats{Total: len(s.statuses)}
	for _, status := range s.statuses {
		switch status {
		case domain.TaskStatusCompleted:
			stats.Completed++
		case domain.TaskStatusRunning:
			stats.Running++
		case domain.TaskStatusFailed:
			stats.Failed++
		case domain.TaskStatusSkipped:
			stats.Skipped++
		case domain.TaskStatusReady:
			stats.Ready++
		default:
			stats.Pending++
		}
	}
	return stats
}

// JobStats — статистика выполнения job.
type JobStats struct {
	Total     int
	Pending   int
	Ready     int
	Running   int
	Completed int
	Failed    int
	Skipped   int
}
