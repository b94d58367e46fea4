package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Vocata/internal/domain"
)

// WorkerRepo — репозиторий для работы с workers.
//
// Резервирование и освобождение слотов — одиночные UPDATE с guard'ом
// по active_sessions: overadmission невозможен даже при конкурентных
// аллокациях из нескольких экземпляров session router'а.
type WorkerRepo struct {
	pool *pgxpool.Pool
}

// NewWorkerRepo создаёт новый WorkerRepo.
func NewWorkerRepo(pool *pgxpool.Pool) *WorkerRepo {
	return &WorkerRepo{pool: pool}
}

const workerColumns = `
	id, endpoint, capacity, active_sessions, models, languages,
	status, last_heartbeat, registered_at
`

// Upsert регистрирует worker'а или обновляет существующую запись.
// Регистрация идемпотентна: рестарт worker'а с тем же ID перезаписывает
// endpoint и capabilities, сохраняя registered_at первой регистрации.
func (r *WorkerRepo) Upsert(ctx context.Context, w *domain.Worker) error {
	query := `
		INSERT INTO workers (id, endpoint, capacity, active_sessions, models,
		                     languages, status, last_heartbeat, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			endpoint = EXCLUDED.endpoint,
			capacity = EXCLUDED.capacity,
			active_sessions = EXCLUDED.active_sessions,
			models = EXCLUDED.models,
			languages = EXCLUDED.languages,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat
	`
	_, err := r.pool.Exec(ctx, query,
		w.ID,
		w.Endpoint,
		w.Capacity,
		w.ActiveSessions,
		w.Models,
		w.Languages,
		w.Status,
		w.LastHeartbeat,
		w.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

// Get возвращает worker'а по ID.
func (r *WorkerRepo) Get(ctx context.Context, id string) (*domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`
	return scanWorker(r.pool.QueryRow(ctx, query, id))
}

// List возвращает всех worker'ов.
func (r *WorkerRepo) List(ctx context.Context) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return collectWorkers(rows)
}

// ListReady возвращает READY worker'ов со свободными слотами,
// наиболее свободные первыми. Порядок определяет стратегию
// распределения: новые сессии идут на наименее загруженного.
func (r *WorkerRepo) ListReady(ctx context.Context) ([]domain.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers
		WHERE status = 'READY' AND active_sessions < capacity
		ORDER BY capacity - active_sessions DESC, id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list ready workers: %w", err)
	}
	return collectWorkers(rows)
}

// Reserve атомарно занимает один слот на worker'е.
// Guard по active_sessions < capacity исключает overadmission:
// на worker'е с одним свободным слотом из N конкурентных Reserve
// пройдёт ровно один.
func (r *WorkerRepo) Reserve(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE workers
		SET active_sessions = active_sessions + 1
		WHERE id = $1 AND status = 'READY' AND active_sessions < capacity
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("reserve worker slot: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Release освобождает один слот на worker'е.
// GREATEST защищает от ухода в минус, если worker уже отчитался
// нулём активных сессий через heartbeat.
func (r *WorkerRepo) Release(ctx context.Context, id string) error {
	query := `
		UPDATE workers
		SET active_sessions = GREATEST(active_sessions - 1, 0)
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("release worker slot: %w", err)
	}
	return nil
}

// Heartbeat обновляет liveness и self-reported загрузку worker'а.
// Self-report авторитетен: расхождение счётчика из-за потерянных
// release'ов сходится к реальному значению на следующем heartbeat.
// UNHEALTHY worker возвращается в READY — heartbeat и есть признак жизни.
func (r *WorkerRepo) Heartbeat(ctx context.Context, id string, activeSessions int, at time.Time) (bool, error) {
	query := `
		UPDATE workers
		SET active_sessions = $2, last_heartbeat = $3, status = 'READY'
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, activeSessions, at)
	if err != nil {
		return false, fmt.Errorf("heartbeat worker: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkUnhealthy атомарно эвиктит worker'а с просроченным heartbeat'ом.
// Guard по last_heartbeat исключает ложную эвикцию: если между ListExpired
// и этим UPDATE пришёл свежий heartbeat, CAS промахнётся (false) и
// принудительное завершение сессий не выполняется.
func (r *WorkerRepo) MarkUnhealthy(ctx context.Context, id string, heartbeatBefore time.Time) (bool, error) {
	query := `
		UPDATE workers
		SET status = 'UNHEALTHY'
		WHERE id = $1 AND status = 'READY' AND last_heartbeat < $2
	`
	result, err := r.pool.Exec(ctx, query, id, heartbeatBefore)
	if err != nil {
		return false, fmt.Errorf("mark worker unhealthy: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListExpired возвращает READY worker'ов с heartbeat старше cutoff.
func (r *WorkerRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]domain.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers
		WHERE status = 'READY' AND last_heartbeat < $1
	`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired workers: %w", err)
	}
	return collectWorkers(rows)
}

// --- Helpers ---

func collectWorkers(rows pgx.Rows) ([]domain.Worker, error) {
	defer rows.Close()

	var workers []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

func scanWorker(row pgx.Row) (*domain.Worker, error) {
	var w domain.Worker

	err := row.Scan(
		&w.ID,
		&w.Endpoint,
		&w.Capacity,
		&w.ActiveSessions,
		&w.Models,
		&w.Languages,
		&w.Status,
		&w.LastHeartbeat,
		&w.RegisteredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return &w, nil
}
