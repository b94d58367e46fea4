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

// TaskRepo — репозиторий для работы с tasks.
//
// Переходы статусов — одиночные CAS UPDATE с guard'ом по текущему
// статусу. Никакой "read, check in memory, write" последовательности:
// проигравший гонку экземпляр получает RowsAffected = 0 и трактует
// это как no-op (идемпотентность дубликатов отчётов).
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, job_id, stage, engine_id, depends_on, required, seq, status,
	attempt, max_retries, config, input_ref, output, error,
	lease_expires_at, started_at, finished_at, created_at
`

// CreateBatch создаёт все tasks job'а одним batch'ем.
// Вызывается один раз при создании job — DAG строится пакетно.
func (r *TaskRepo) CreateBatch(ctx context.Context, tasks []domain.Task) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO tasks (id, job_id, stage, engine_id, depends_on, required,
		                   seq, status, attempt, max_retries, config, input_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for i := range tasks {
		task := &tasks[i]

		configJSON, err := json.Marshal(task.Config)
		if err != nil {
			return fmt.Errorf("marshal config for %s: %w", task.Stage, err)
		}

		batch.Queue(query,
			task.ID,
			task.JobID,
			task.Stage,
			task.EngineID,
			stagesToStrings(task.DependsOn),
			task.Required,
			task.Seq,
			task.Status,
			task.Attempt,
			task.MaxRetries,
			configJSON,
			nullString(task.InputRef),
			task.CreatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range tasks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListByJobID возвращает все tasks job'а в порядке вставки в DAG.
func (r *TaskRepo) ListByJobID(ctx context.Context, jobID uuid.UUID) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE job_id = $1 ORDER BY seq ASC`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by job_id: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListReadyByEngine возвращает READY tasks указанного engine'а,
// старые первыми. Используется polling fallback'ом engine runner'а:
// потерянная доставка из очереди не оставляет task навсегда в READY.
func (r *TaskRepo) ListReadyByEngine(ctx context.Context, engineID string, limit int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE engine_id = $1 AND status = 'READY'
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, engineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready tasks: %w", err)
	}
	return collectTasks(rows)
}

// MarkReady атомарно переводит task из PENDING в READY.
//
// Это guard против двойной постановки в очередь: из нескольких
// конкурентных экземпляров scheduler'а enqueue делает только тот,
// чей CAS прошёл (true).
func (r *TaskRepo) MarkReady(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE tasks SET status = 'READY' WHERE id = $1 AND status = 'PENDING'`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark task ready: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Claim атомарно захватывает READY task под выполнение с lease.
// Возвращает false, если task уже захвачен другим consumer'ом
// (at-least-once доставка из очереди) или больше не READY.
func (r *TaskRepo) Claim(ctx context.Context, id uuid.UUID, leaseUntil time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'RUNNING', attempt = attempt + 1,
		    started_at = $2, lease_expires_at = $3, error = NULL
		WHERE id = $1 AND status = 'READY'
	`
	result, err := r.pool.Exec(ctx, query, id, time.Now(), leaseUntil)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Complete атомарно завершает RUNNING task с результатом.
// Повторный отчёт для уже терминального task'а — no-op (false).
func (r *TaskRepo) Complete(ctx context.Context, id uuid.UUID, output map[string]any) (bool, error) {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return false, fmt.Errorf("marshal output: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = 'COMPLETED', output = $2, finished_at = $3, lease_expires_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query, id, outputJSON, time.Now())
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Requeue атомарно возвращает RUNNING task в READY для retry,
// сохраняя текст ошибки. Счётчик попыток растёт в Claim.
func (r *TaskRepo) Requeue(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'READY', error = $2, lease_expires_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query, id, nullString(errMsg))
	if err != nil {
		return false, fmt.Errorf("requeue task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Fail атомарно переводит RUNNING task в FAILED (retry исчерпаны).
func (r *TaskRepo) Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'FAILED', error = $2, finished_at = $3, lease_expires_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query, id, nullString(errMsg), time.Now())
	if err != nil {
		return false, fmt.Errorf("fail task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Skip атомарно переводит ещё не выполняющийся task в SKIPPED.
// Используется для optional-веток с пропущенным входом и для
// финализации FAILED/CANCELLED job'ов.
func (r *TaskRepo) Skip(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'SKIPPED', error = $2, finished_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'READY')
	`
	result, err := r.pool.Exec(ctx, query, id, nullString(reason), time.Now())
	if err != nil {
		return false, fmt.Errorf("skip task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SkipFailed атомарно переводит RUNNING-после-падения task в SKIPPED.
// Для optional tasks, исчерпавших retry: падение не роняет job.
func (r *TaskRepo) SkipFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'SKIPPED', error = $2, finished_at = $3, lease_expires_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query, id, nullString(reason), time.Now())
	if err != nil {
		return false, fmt.Errorf("skip failed task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SkipRemaining переводит все ещё не начатые tasks job'а в SKIPPED.
// Используется при финализации job'а (FAILED/CANCELLED): RUNNING tasks
// не трогаются — их поздние отчёты принимаются и отбрасываются.
func (r *TaskRepo) SkipRemaining(ctx context.Context, jobID uuid.UUID, reason string) (int64, error) {
	query := `
		UPDATE tasks
		SET status = 'SKIPPED', error = $2, finished_at = $3
		WHERE job_id = $1 AND status IN ('PENDING', 'READY')
	`
	result, err := r.pool.Exec(ctx, query, jobID, nullString(reason), time.Now())
	if err != nil {
		return 0, fmt.Errorf("skip remaining tasks: %w", err)
	}
	return result.RowsAffected(), nil
}

// ReapExpired обрабатывает tasks с истёкшим visibility timeout:
// захваченный, но так и не отчитавшийся task считается брошенным.
//
// Tasks с остатком retry-бюджета возвращаются в READY (для повторной
// постановки в очередь вызывающим). Исчерпавшие бюджет required tasks
// переходят в FAILED, optional — в SKIPPED: падение optional-ветки
// не роняет job. Потерянная доставка считается против того же
// retry-бюджета.
func (r *TaskRepo) ReapExpired(ctx context.Context, now time.Time) (requeued, failed, skipped []domain.Task, err error) {
	requeueQuery := `
		UPDATE tasks
		SET status = 'READY', error = 'visibility timeout expired', lease_expires_at = NULL
		WHERE status = 'RUNNING' AND lease_expires_at < $1 AND attempt < max_retries
		RETURNING ` + taskColumns
	rows, err := r.pool.Query(ctx, requeueQuery, now)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reap requeue: %w", err)
	}
	requeued, err = collectTasks(rows)
	if err != nil {
		return nil, nil, nil, err
	}

	failQuery := `
		UPDATE tasks
		SET status = 'FAILED', error = 'visibility timeout expired, retries exhausted',
		    finished_at = $1, lease_expires_at = NULL
		WHERE status = 'RUNNING' AND lease_expires_at < $1 AND attempt >= max_retries
		  AND required = true
		RETURNING ` + taskColumns
	rows, err = r.pool.Query(ctx, failQuery, now)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reap fail: %w", err)
	}
	failed, err = collectTasks(rows)
	if err != nil {
		return nil, nil, nil, err
	}

	skipQuery := `
		UPDATE tasks
		SET status = 'SKIPPED', error = 'visibility timeout expired, retries exhausted',
		    finished_at = $1, lease_expires_at = NULL
		WHERE status = 'RUNNING' AND lease_expires_at < $1 AND attempt >= max_retries
		  AND required = false
		RETURNING ` + taskColumns
	rows, err = r.pool.Query(ctx, skipQuery, now)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reap skip: %w", err)
	}
	skipped, err = collectTasks(rows)
	if err != nil {
		return nil, nil, nil, err
	}

	return requeued, failed, skipped, nil
}

// --- Helpers ---

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var dependsOn []string
	var configJSON, outputJSON []byte
	var inputRef, taskError *string

	err := row.Scan(
		&task.ID,
		&task.JobID,
		&task.Stage,
		&task.EngineID,
		&dependsOn,
		&task.Required,
		&task.Seq,
		&task.Status,
		&task.Attempt,
		&task.MaxRetries,
		&configJSON,
		&inputRef,
		&outputJSON,
		&taskError,
		&task.LeaseExpiresAt,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.DependsOn = stringsToStages(dependsOn)

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &task.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &task.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if inputRef != nil {
		task.InputRef = *inputRef
	}
	if taskError != nil {
		task.Error = *taskError
	}

	return &task, nil
}

func stagesToStrings(stages []domain.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

func stringsToStages(values []string) []domain.Stage {
	if len(values) == 0 {
		return nil
	}
	out := make([]domain.Stage, len(values))
	for i, v := range values {
		out[i] = domain.Stage(v)
	}
	return out
}
