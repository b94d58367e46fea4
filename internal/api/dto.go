package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
)

// Job DTOs

// CreateJobRequest — запрос на создание job.
type CreateJobRequest struct {
	Params domain.JobParams `json:"params"`
}

// JobResponse — ответ с job.
type JobResponse struct {
	ID         uuid.UUID        `json:"id"`
	Params     domain.JobParams `json:"params"`
	Status     domain.JobStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Params:     j.Params,
		Status:     j.Status,
		Error:      j.Error,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		CreatedAt:  j.CreatedAt,
	}
}

// Task DTOs

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID         uuid.UUID         `json:"id"`
	JobID      uuid.UUID         `json:"job_id"`
	Stage      domain.Stage      `json:"stage"`
	EngineID   string            `json:"engine_id"`
	DependsOn  []domain.Stage    `json:"depends_on,omitempty"`
	Required   bool              `json:"required"`
	Status     domain.TaskStatus `json:"status"`
	Attempt    int               `json:"attempt"`
	MaxRetries int               `json:"max_retries"`
	Output     map[string]any    `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		JobID:      t.JobID,
		Stage:      t.Stage,
		EngineID:   t.EngineID,
		DependsOn:  t.DependsOn,
		Required:   t.Required,
		Status:     t.Status,
		Attempt:    t.Attempt,
		MaxRetries: t.MaxRetries,
		Output:     t.Output,
		Error:      t.Error,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		CreatedAt:  t.CreatedAt,
	}
}

// Session DTOs

// EndSessionRequest — запрос на завершение сессии.
type EndSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SessionResponse — ответ с сессией.
type SessionResponse struct {
	ID        uuid.UUID           `json:"id"`
	WorkerID  string              `json:"worker_id"`
	TenantID  string              `json:"tenant_id,omitempty"`
	Language  string              `json:"language,omitempty"`
	Model     string              `json:"model,omitempty"`
	State     domain.SessionState `json:"state"`
	EndReason string              `json:"end_reason,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	EndedAt   *time.Time          `json:"ended_at,omitempty"`
}

// SessionFromDomain конвертирует domain.Session в SessionResponse.
func SessionFromDomain(s domain.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		WorkerID:  s.WorkerID,
		TenantID:  s.TenantID,
		Language:  s.Language,
		Model:     s.Model,
		State:     s.State,
		EndReason: s.EndReason,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}

// Worker DTOs

// HeartbeatRequest — heartbeat worker'а.
type HeartbeatRequest struct {
	ActiveSessions int `json:"active_sessions"`
}

// WorkerResponse — ответ с worker'ом.
type WorkerResponse struct {
	ID             string              `json:"id"`
	Endpoint       string              `json:"endpoint"`
	Capacity       int                 `json:"capacity"`
	ActiveSessions int                 `json:"active_sessions"`
	FreeCapacity   int                 `json:"free_capacity"`
	Models         []string            `json:"models,omitempty"`
	Languages      []string            `json:"languages,omitempty"`
	Status         domain.WorkerStatus `json:"status"`
	LastHeartbeat  time.Time           `json:"last_heartbeat"`
	RegisteredAt   time.Time           `json:"registered_at"`
}

// WorkerFromDomain конвертирует domain.Worker в WorkerResponse.
func WorkerFromDomain(w domain.Worker) WorkerResponse {
	return WorkerResponse{
		ID:             w.ID,
		Endpoint:       w.Endpoint,
		Capacity:       w.Capacity,
		ActiveSessions: w.ActiveSessions,
		FreeCapacity:   w.FreeCapacity(),
		Models:         w.Models,
		Languages:      w.Languages,
		Status:         w.Status,
		LastHeartbeat:  w.LastHeartbeat,
		RegisteredAt:   w.RegisteredAt,
	}
}
