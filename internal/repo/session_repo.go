package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Vocata/internal/domain"
)

// SessionRepo — репозиторий для работы с live-сессиями.
//
// Переход в ENDED — одиночный CAS: он же служит маркером
// "слот уже освобождён" для exactly-once release независимо от того,
// какой из путей завершения (клиент, таймаут, эвикция) пришёл первым.
type SessionRepo struct {
	pool *pgxpool.Pool
}

// NewSessionRepo создаёт новый SessionRepo.
func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `
	id, worker_id, tenant_id, language, model, state, end_reason, started_at, ended_at
`

// Create создаёт новую сессию.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (id, worker_id, tenant_id, language, model, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.WorkerID,
		nullString(s.TenantID),
		nullString(s.Language),
		nullString(s.Model),
		s.State,
		s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get возвращает сессию по ID.
func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// Activate атомарно переводит сессию из ALLOCATED в ACTIVE
// (клиент подключился к worker'у и начал стрим).
func (r *SessionRepo) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE sessions SET state = 'ACTIVE' WHERE id = $1 AND state = 'ALLOCATED'`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("activate session: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// End атомарно завершает сессию с указанием причины.
// Возвращает false, если сессия уже завершена: вызывающий в этом
// случае НЕ освобождает слот — это уже сделал победитель CAS.
func (r *SessionRepo) End(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE sessions
		SET state = 'ENDED', end_reason = $2, ended_at = $3
		WHERE id = $1 AND state <> 'ENDED'
	`
	result, err := r.pool.Exec(ctx, query, id, nullString(reason), time.Now())
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListOpenByWorker возвращает незавершённые сессии worker'а.
// Используется Health Monitor'ом при эвикции.
func (r *SessionRepo) ListOpenByWorker(ctx context.Context, workerID string) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE worker_id = $1 AND state <> 'ENDED'
		ORDER BY started_at ASC
	`
	rows, err := r.pool.Query(ctx, query, workerID)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return collectSessions(rows)
}

// PurgeEndedBefore удаляет завершённые сессии старше cutoff.
// Используется retention-sweep'ом.
func (r *SessionRepo) PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE state = 'ENDED' AND ended_at < $1`
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var tenantID, language, model, endReason *string

	err := row.Scan(
		&s.ID,
		&s.WorkerID,
		&tenantID,
		&language,
		&model,
		&s.State,
		&endReason,
		&s.StartedAt,
		&s.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if tenantID != nil {
		s.TenantID = *tenantID
	}
	if language != nil {
		s.Language = *language
	}
	if model != nil {
		s.Model = *model
	}
	if endReason != nil {
		s.EndReason = *endReason
	}

	return &s, nil
}
