package registry

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

// fakeWorkerStore — in-memory реализация WorkerStore с CAS-семантикой,
// повторяющей repo.WorkerRepo.
type fakeWorkerStore struct {
	mu      sync.Mutex
	workers map[string]*domain.Worker
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{workers: make(map[string]*domain.Worker)}
}

func (f *fakeWorkerStore) Upsert(ctx context.Context, w *domain.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *w
	if existing, ok := f.workers[w.ID]; ok {
		// registered_at сохраняется при повторной регистрации
		clone.RegisteredAt = existing.RegisteredAt
	}
	f.workers[w.ID] = &clone
	return nil
}

func (f *fakeWorkerStore) Get(ctx context.Context, id string) (*domain.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workers[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *w
	return &clone, nil
}

func (f *fakeWorkerStore) List(ctx context.Context) ([]domain.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Worker
	for _, w := range f.workers {
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeWorkerStore) ListReady(ctx context.Context) ([]domain.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Worker
	for _, w := range f.workers {
		if w.Status == domain.WorkerStatusReady && w.ActiveSessions < w.Capacity {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWorkerStore) Heartbeat(ctx context.Context, id string, activeSessions int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workers[id]
	if !ok {
		return false, nil
	}
	w.ActiveSessions = activeSessions
	w.LastHeartbeat = at
	w.Status = domain.WorkerStatusReady
	return true, nil
}

func (f *fakeWorkerStore) MarkUnhealthy(ctx context.Context, id string, heartbeatBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workers[id]
	if !ok || w.Status != domain.WorkerStatusReady || !w.LastHeartbeat.Before(heartbeatBefore) {
		return false, nil
	}
	w.Status = domain.WorkerStatusUnhealthy
	return true, nil
}

func (f *fakeWorkerStore) ListExpired(ctx context.Context, cutoff time.Time) ([]domain.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Worker
	for _, w := range f.workers {
		if w.Status == domain.WorkerStatusReady && w.LastHeartbeat.Before(cutoff) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWorkerStore) setHeartbeat(id string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[id].LastHeartbeat = at
}

func (f *fakeWorkerStore) status(id string) domain.WorkerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workers[id].Status
}

// fakeSessionEnder — in-memory реализация SessionEnder.
type fakeSessionEnder struct {
	mu       sync.Mutex
	open     map[string][]domain.Session
	ended    map[uuid.UUID]string
	endedIDs []uuid.UUID
}

func newFakeSessionEnder() *fakeSessionEnder {
	return &fakeSessionEnder{
		open:  make(map[string][]domain.Session),
		ended: make(map[uuid.UUID]string),
	}
}

func (f *fakeSessionEnder) addOpen(workerID string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	f.open[workerID] = append(f.open[workerID], domain.Session{
		ID:       id,
		WorkerID: workerID,
		State:    domain.SessionStateActive,
	})
	return id
}

func (f *fakeSessionEnder) ListOpenByWorker(ctx context.Context, workerID string) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[workerID], nil
}

func (f *fakeSessionEnder) ForceEnd(ctx context.Context, sessionID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ended[sessionID] = reason
	f.endedIDs = append(f.endedIDs, sessionID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func validRegistration(id string) Registration {
	return Registration{
		ID:       id,
		Endpoint: "wss://" + id + ".local:9000",
		Capacity: 4,
		Models:   []string{"large-v3"},
	}
}

func TestRegister(t *testing.T) {
	store := newFakeWorkerStore()
	reg := NewRegistry(store, testLogger())

	worker, err := reg.Register(context.Background(), validRegistration("w1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if worker.Status != domain.WorkerStatusReady {
		t.Errorf("expected READY, got %s", worker.Status)
	}
	if worker.ActiveSessions != 0 {
		t.Errorf("fresh worker should have 0 sessions, got %d", worker.ActiveSessions)
	}

	// Повторная регистрация идемпотентна и перезаписывает capabilities
	update := validRegistration("w1")
	update.Capacity = 8
	worker, err = reg.Register(context.Background(), update)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker.Capacity != 8 {
		t.Errorf("expected capacity 8, got %d", worker.Capacity)
	}
}

func TestRegister_Validation(t *testing.T) {
	reg := NewRegistry(newFakeWorkerStore(), testLogger())

	tests := []struct {
		name   string
		mutate func(*Registration)
	}{
		{"missing id", func(r *Registration) { r.ID = "" }},
		{"missing endpoint", func(r *Registration) { r.Endpoint = "" }},
		{"zero capacity", func(r *Registration) { r.Capacity = 0 }},
		{"negative capacity", func(r *Registration) { r.Capacity = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRegistration("w1")
			tt.mutate(&r)

			_, err := reg.Register(context.Background(), r)
			if !errors.Is(err, ErrInvalidRegistration) {
				t.Errorf("expected ErrInvalidRegistration, got %v", err)
			}
		})
	}
}

func TestHeartbeat(t *testing.T) {
	store := newFakeWorkerStore()
	reg := NewRegistry(store, testLogger())

	if _, err := reg.Register(context.Background(), validRegistration("w1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := reg.Heartbeat(context.Background(), "w1", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	worker, err := reg.Get(context.Background(), "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker.ActiveSessions != 2 {
		t.Errorf("self-report should win, got %d", worker.ActiveSessions)
	}

	// Отрицательный self-report прижимается к нулю
	if err := reg.Heartbeat(context.Background(), "w1", -5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	worker, _ = reg.Get(context.Background(), "w1")
	if worker.ActiveSessions != 0 {
		t.Errorf("negative self-report should clamp to 0, got %d", worker.ActiveSessions)
	}

	// Heartbeat от незарегистрированного worker'а — ошибка
	if err := reg.Heartbeat(context.Background(), "ghost", 0); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestHeartbeat_ReadmitsUnhealthy(t *testing.T) {
	store := newFakeWorkerStore()
	reg := NewRegistry(store, testLogger())

	if _, err := reg.Register(context.Background(), validRegistration("w1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Эвиктим вручную
	store.setHeartbeat("w1", time.Now().Add(-time.Hour))
	if ok, _ := store.MarkUnhealthy(context.Background(), "w1", time.Now()); !ok {
		t.Fatal("expected eviction to succeed")
	}

	// Heartbeat возвращает worker'а в READY
	if err := reg.Heartbeat(context.Background(), "w1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.status("w1") != domain.WorkerStatusReady {
		t.Errorf("heartbeat should readmit worker, got %s", store.status("w1"))
	}
}

func TestMonitorSweep_EvictsExpired(t *testing.T) {
	store := newFakeWorkerStore()
	sessions := newFakeSessionEnder()
	reg := NewRegistry(store, testLogger())

	if _, err := reg.Register(context.Background(), validRegistration("w-dead")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Register(context.Background(), validRegistration("w-alive")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sessID := sessions.addOpen("w-dead")
	store.setHeartbeat("w-dead", time.Now().Add(-time.Minute))

	monitor := NewMonitor(store, sessions, testLogger(), MonitorConfig{
		HeartbeatTimeout: 30 * time.Second,
	})
	monitor.Sweep(context.Background())

	if store.status("w-dead") != domain.WorkerStatusUnhealthy {
		t.Errorf("expected w-dead UNHEALTHY, got %s", store.status("w-dead"))
	}
	if store.status("w-alive") != domain.WorkerStatusReady {
		t.Errorf("expected w-alive READY, got %s", store.status("w-alive"))
	}

	// Сессии мёртвого worker'а завершены с worker_lost
	if reason, ok := sessions.ended[sessID]; !ok || reason != domain.EndReasonWorkerLost {
		t.Errorf("expected session ended with worker_lost, got %q (ended=%v)", reason, ok)
	}

	// UNHEALTHY worker вне пула кандидатов
	ready, _ := store.ListReady(context.Background())
	for _, w := range ready {
		if w.ID == "w-dead" {
			t.Error("evicted worker must not be in ready pool")
		}
	}
}

func TestMonitorSweep_FreshHeartbeatGuard(t *testing.T) {
	store := newFakeWorkerStore()
	sessions := newFakeSessionEnder()
	reg := NewRegistry(store, testLogger())

	if _, err := reg.Register(context.Background(), validRegistration("w1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sessions.addOpen("w1")

	// Heartbeat свежий: MarkUnhealthy с guard'ом по last_heartbeat
	// не срабатывает, сессии не трогаются.
	monitor := NewMonitor(store, sessions, testLogger(), MonitorConfig{
		HeartbeatTimeout: 30 * time.Second,
	})
	monitor.Sweep(context.Background())

	if store.status("w1") != domain.WorkerStatusReady {
		t.Errorf("fresh worker must not be evicted, got %s", store.status("w1"))
	}
	if len(sessions.ended) != 0 {
		t.Errorf("no sessions should be ended, got %d", len(sessions.ended))
	}
}
