package domain

import (
	"time"

	"github.com/google/uuid"
)

// Причины завершения сессии.
const (
	// EndReasonClientClose — клиент закрыл соединение штатно.
	EndReasonClientClose = "client_close"

	// EndReasonTimeout — сессия завершена по таймауту.
	EndReasonTimeout = "timeout"

	// EndReasonWorkerLost — worker признан мёртвым, сессия принудительно завершена.
	EndReasonWorkerLost = "worker_lost"
)

// Session — live real-time транскрипция, привязанная ровно к одному worker'у.
//
// Создаётся Session Allocator'ом. Завершается либо disconnect'ом клиента,
// либо протокольным session-end сообщением, либо эвикцией worker'а.
// Ёмкостный слот освобождается ровно один раз независимо от пути завершения:
// CAS-переход в ENDED служит маркером "already released".
type Session struct {
	// ID — уникальный идентификатор сессии.
	ID uuid.UUID `json:"id"`

	// WorkerID — worker, на который выдана привязка.
	WorkerID string `json:"worker_id"`

	// TenantID — владелец сессии.
	TenantID string `json:"tenant_id,omitempty"`

	// Language и Model — запрошенные capabilities.
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`

	// State — ALLOCATED → ACTIVE → ENDED.
	State SessionState `json:"state"`

	// EndReason — причина завершения (client_close, timeout, worker_lost).
	EndReason string `json:"end_reason,omitempty"`

	// StartedAt — время аллокации.
	StartedAt time.Time `json:"started_at"`

	// EndedAt — время завершения.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// IsEnded возвращает true, если сессия завершена.
func (s *Session) IsEnded() bool {
	return s.State == SessionStateEnded
}
