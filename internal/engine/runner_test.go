package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeTaskStore — in-memory TaskStore с CAS-семантикой repo.TaskRepo.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newFakeTaskStore(tasks ...*domain.Task) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
	for _, t := range tasks {
		cp := *t
		s.tasks[t.ID] = &cp
	}
	return s
}

func (s *fakeTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTaskStore) ListReadyByEngine(_ context.Context, engineID string, limit int) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.EngineID == engineID && t.Status == domain.TaskStatusReady && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) Claim(_ context.Context, id uuid.UUID, leaseUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusReady {
		return false, nil
	}
	t.Status = domain.TaskStatusRunning
	t.Attempt++
	t.LeaseExpiresAt = &leaseUntil
	return true, nil
}

func (s *fakeTaskStore) Complete(_ context.Context, id uuid.UUID, output map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return false, nil
	}
	t.Status = domain.TaskStatusCompleted
	t.Output = output
	t.LeaseExpiresAt = nil
	return true, nil
}

func (s *fakeTaskStore) Requeue(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return false, nil
	}
	t.Status = domain.TaskStatusReady
	t.Error = errMsg
	t.LeaseExpiresAt = nil
	return true, nil
}

func (s *fakeTaskStore) Fail(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return false, nil
	}
	t.Status = domain.TaskStatusFailed
	t.Error = errMsg
	t.LeaseExpiresAt = nil
	return true, nil
}

func (s *fakeTaskStore) SkipFailed(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return false, nil
	}
	t.Status = domain.TaskStatusSkipped
	t.Error = reason
	t.LeaseExpiresAt = nil
	return true, nil
}

func (s *fakeTaskStore) snapshot(t *testing.T, id uuid.UUID) domain.Task {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		t.Fatalf("task %s not in store", id)
	}
	return *task
}

func readyTask(required bool, attempt, maxRetries int) *domain.Task {
	return &domain.Task{
		ID:         uuid.New(),
		JobID:      uuid.New(),
		Stage:      domain.StageTranscribe,
		EngineID:   "transcribe",
		Required:   required,
		Status:     domain.TaskStatusReady,
		Attempt:    attempt,
		MaxRetries: maxRetries,
	}
}

// pollingRunner — Runner без publisher'а: результаты пишутся в хранилище.
func pollingRunner(store TaskStore, exec Executor) *Runner {
	reg := NewRegistry()
	reg.Register(domain.StageTranscribe, exec)

	return New(Config{
		EngineID: "transcribe",
		TaskRepo: store,
		Registry: reg,
		Logger:   testLogger(),
	})
}

func TestProcessTask_PollingOnlyWritesCompletion(t *testing.T) {
	task := readyTask(true, 0, 3)
	store := newFakeTaskStore(task)
	runner := pollingRunner(store, &stubExecutor{
		result: &ExecutionResult{Output: map[string]any{"transcript_ref": "s3://bucket/out.json"}},
	})

	if err := runner.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Успех без publisher'а не теряется: переход записан в хранилище
	got := store.snapshot(t, task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.Output["transcript_ref"] != "s3://bucket/out.json" {
		t.Errorf("output not persisted: %v", got.Output)
	}
	if got.Attempt != 1 {
		t.Errorf("claim should count the attempt, got %d", got.Attempt)
	}
}

func TestProcessTask_PollingOnlyRequeuesOnFailure(t *testing.T) {
	task := readyTask(true, 0, 3)
	store := newFakeTaskStore(task)
	runner := pollingRunner(store, &stubExecutor{
		result: &ExecutionResult{Error: "inference timeout"},
	})

	if err := runner.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := store.snapshot(t, task.ID)
	if got.Status != domain.TaskStatusReady {
		t.Fatalf("expected READY for retry, got %s", got.Status)
	}
	if got.Error != "inference timeout" {
		t.Errorf("error not persisted: %q", got.Error)
	}
}

func TestProcessTask_PollingOnlyExhaustionFailsRequired(t *testing.T) {
	// Последняя попытка required task'а: claim доведёт attempt до лимита
	task := readyTask(true, 2, 3)
	store := newFakeTaskStore(task)
	runner := pollingRunner(store, &stubExecutor{
		result: &ExecutionResult{Error: "inference crashed"},
	})

	if err := runner.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := store.snapshot(t, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
}

func TestProcessTask_PollingOnlyExhaustionSkipsOptional(t *testing.T) {
	task := readyTask(false, 2, 3)
	store := newFakeTaskStore(task)
	runner := pollingRunner(store, &stubExecutor{
		result: &ExecutionResult{Error: "model unavailable"},
	})

	if err := runner.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := store.snapshot(t, task.ID)
	if got.Status != domain.TaskStatusSkipped {
		t.Fatalf("expected SKIPPED, got %s", got.Status)
	}
}

func TestProcessTask_ClaimMiss(t *testing.T) {
	task := readyTask(true, 0, 3)
	task.Status = domain.TaskStatusRunning // уже захвачен другим runner'ом
	store := newFakeTaskStore(task)
	runner := pollingRunner(store, &stubExecutor{result: &ExecutionResult{}})

	err := runner.processTask(context.Background(), task.ID)
	if !errors.Is(err, ErrTaskNotClaimable) {
		t.Fatalf("expected ErrTaskNotClaimable, got %v", err)
	}
}
