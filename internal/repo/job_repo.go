package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Vocata/internal/domain"
)

// JobRepo — репозиторий для работы с jobs.
//
// Все переходы статусов — одиночные UPDATE с guard'ом по текущему
// статусу (compare-and-set): несколько экземпляров scheduler'а могут
// безопасно обрабатывать один job одновременно.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Create создаёт новый job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	query := `
		INSERT INTO jobs (id, params, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		paramsJSON,
		job.Status,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT id, params, status, error, started_at, finished_at, created_at
		FROM jobs
		WHERE id = $1
	`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// List возвращает jobs, новые первыми.
func (r *JobRepo) List(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
		SELECT id, params, status, error, started_at, finished_at, created_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListUnfinished возвращает jobs в статусе PENDING или RUNNING,
// старые первыми. Используется polling fallback'ом scheduler'а.
func (r *JobRepo) ListUnfinished(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
		SELECT id, params, status, error, started_at, finished_at, created_at
		FROM jobs
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkRunning атомарно переводит job из PENDING в RUNNING.
// Возвращает false, если job уже не в PENDING (другой экземпляр успел).
func (r *JobRepo) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'RUNNING', started_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Finalize атомарно переводит job в терминальный статус.
// Возвращает false, если job уже терминален — повторная финализация
// (дубликат отчёта, гонка экземпляров) является no-op.
func (r *JobRepo) Finalize(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not terminal", ErrInvalidState, status)
	}

	query := `
		UPDATE jobs
		SET status = $2, error = $3, finished_at = $4
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	result, err := r.pool.Exec(ctx, query, id, status, nullString(errMsg), time.Now())
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// PurgeTerminalBefore удаляет терминальные jobs (и их tasks каскадом),
// завершённые до cutoff. Используется retention-sweep'ом.
func (r *JobRepo) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED') AND finished_at < $1
	`
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var paramsJSON []byte
	var jobError *string

	err := row.Scan(
		&job.ID,
		&paramsJSON,
		&job.Status,
		&jobError,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if jobError != nil {
		job.Error = *jobError
	}

	return &job, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
