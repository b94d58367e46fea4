package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage — имя фазы pipeline. Каждый stage выполняется одним типом engine.
type Stage string

// Stages pipeline в порядке вставки в DAG.
const (
	StagePrepare       Stage = "prepare"
	StageTranscribe    Stage = "transcribe"
	StageAlign         Stage = "align"
	StageDiarize       Stage = "diarize"
	StagePIIDetect     Stage = "pii_detect"
	StageEmotionDetect Stage = "emotion_detect"
	StageLLMCleanup    Stage = "llm_cleanup"
	StageAudioRedact   Stage = "audio_redact"
	StageMerge         Stage = "merge"
)

// Task — узел DAG'а job'а, единица работы одного engine.
//
// Tasks создаются пакетно при создании job (graph.Build).
// Статус мутируется только Scheduler'ом (CAS-переходы в хранилище)
// и engine'ом, который захватил task (результат/ошибка).
// Tasks никогда не удаляются — только помечаются терминально.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// JobID — ссылка на родительский job.
	JobID uuid.UUID `json:"job_id"`

	// Stage — фаза pipeline.
	Stage Stage `json:"stage"`

	// EngineID — идентификатор engine-пула, который выполняет этот task.
	// Определяет имя очереди: "engine.<engine_id>".
	EngineID string `json:"engine_id"`

	// DependsOn — stages этого же job, от которых зависит task.
	DependsOn []Stage `json:"depends_on,omitempty"`

	// Required — если false, падение task не роняет job (task станет SKIPPED).
	Required bool `json:"required"`

	// Seq — порядковый номер вставки в DAG. Определяет порядок dispatch
	// внутри готового набора.
	Seq int `json:"seq"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// Attempt — номер попытки (начиная с 1 после первого захвата).
	Attempt int `json:"attempt"`

	// MaxRetries — лимит retry для этого task.
	MaxRetries int `json:"max_retries"`

	// Config — stage-специфичная конфигурация (tagged union по Stage).
	Config StageConfig `json:"config"`

	// InputRef — ссылка на входные данные.
	InputRef string `json:"input_ref,omitempty"`

	// Output — результат выполнения, записывается engine'ом.
	Output map[string]any `json:"output,omitempty"`

	// Error — текст последней ошибки.
	Error string `json:"error,omitempty"`

	// LeaseExpiresAt — visibility timeout: RUNNING task без отчёта
	// после этого момента считается брошенным и возвращается в очередь.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// StartedAt — время последнего захвата engine'ом.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время терминального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task терминален.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// CanRetry проверяет, остался ли retry-бюджет.
func (t *Task) CanRetry() bool {
	return t.Attempt < t.MaxRetries
}

// QueueName возвращает имя очереди engine для этого task.
func (t *Task) QueueName() string {
	return "engine." + t.EngineID
}
