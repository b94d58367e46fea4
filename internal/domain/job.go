package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job — единица batch-работы: одна запись аудио, прогоняемая через pipeline.
//
// Job создаётся gateway'ем через API, выполняется Scheduler'ом.
// Статус job выводится из статусов его tasks и финализируется
// Scheduler'ом, когда все tasks терминальны.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// Params — параметры обработки, заданные при создании.
	Params JobParams `json:"params"`

	// Status — текущий статус выполнения.
	Status JobStatus `json:"status"`

	// Error — текст ошибки, если job завершился с FAILED.
	Error string `json:"error,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (в любом терминальном статусе).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания job.
	CreatedAt time.Time `json:"created_at"`
}

// JobParams — параметры обработки job.
//
// Комбинация параметров определяет форму DAG:
// какие stages создаются и с какими зависимостями.
type JobParams struct {
	// AudioRef — ссылка на исходное аудио (например, "s3://bucket/rec.wav").
	AudioRef string `json:"audio_ref"`

	// TenantID — владелец job.
	TenantID string `json:"tenant_id,omitempty"`

	// Language — язык аудио (BCP-47, например "en", "ru").
	Language string `json:"language"`

	// Model — модель транскрипции (например "large-v3").
	Model string `json:"model,omitempty"`

	// WordTimestamps — нужны ли пословные таймстемпы (добавляет stage align).
	WordTimestamps bool `json:"word_timestamps,omitempty"`

	// SpeakerDetection — режим определения спикеров: "none" или "diarize".
	SpeakerDetection string `json:"speaker_detection,omitempty"`

	// PIIDetection — детектировать ли персональные данные (optional stage).
	PIIDetection bool `json:"pii_detection,omitempty"`

	// RedactPIIAudio — вырезать ли PII из аудио (требует PIIDetection).
	RedactPIIAudio bool `json:"redact_pii_audio,omitempty"`

	// EmotionDetection — детектировать ли эмоции/события (optional stage).
	EmotionDetection bool `json:"emotion_detection,omitempty"`

	// LLMCleanup — прогонять ли транскрипт через LLM-очистку (optional stage).
	LLMCleanup bool `json:"llm_cleanup,omitempty"`

	// MaxRetries — лимит retry на task. 0 — используется default.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если job ещё не завершён.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// IsFinished возвращает true, если job завершён (в любом статусе).
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// MarkRunning переводит job в статус RUNNING.
func (j *Job) MarkRunning() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// MarkCompleted переводит job в статус COMPLETED.
func (j *Job) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.FinishedAt = &now
}

// MarkFailed переводит job в статус FAILED с ошибкой.
func (j *Job) MarkFailed(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.FinishedAt = &now
	j.Error = err
}

// MarkCancelled переводит job в статус CANCELLED.
func (j *Job) MarkCancelled() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.FinishedAt = &now
}
