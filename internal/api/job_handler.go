package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/graph"
)

const defaultListLimit = 50

// CreateJob создаёт новый job транскрипции.
// POST /api/v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	job := &domain.Job{
		ID:        uuid.New(),
		Params:    req.Params,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now(),
	}

	// Сухая сборка DAG: невалидные параметры отклоняются сразу,
	// не доходя до scheduler'а.
	if _, err := graph.Build(job.ID, job.Params); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.jobRepo.Create(r.Context(), job); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Публикуем событие для Scheduler. publisher может быть nil
	// в polling-only режиме — job создан в БД, Scheduler подхватит.
	if h.publisher != nil {
		if err := h.publisher.PublishJobSubmitted(r.Context(), job.ID); err != nil {
			h.logger.Warn("failed to publish job.submitted",
				"job_id", job.ID,
				"error", err,
			)
		}
	}

	Created(w, JobFromDomain(*job))
}

// GetJob возвращает job по ID.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, JobFromDomain(*job))
}

// ListJobs возвращает список jobs.
// GET /api/v1/jobs?limit=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}

	jobs, err := h.jobRepo.List(r.Context(), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		result[i] = JobFromDomain(job)
	}

	List(w, result, len(result))
}

// ListJobTasks возвращает tasks job'а в порядке DAG.
// GET /api/v1/jobs/{id}/tasks
func (h *Handler) ListJobTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	// Проверяем, что job существует
	if _, err := h.jobRepo.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	tasks, err := h.taskRepo.ListByJobID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, task := range tasks {
		result[i] = TaskFromDomain(task)
	}

	List(w, result, len(result))
}

// CancelJob отменяет job.
// POST /api/v1/jobs/{id}/cancel
//
// Отмена — CAS в CANCELLED: из конкурирующих запросов выигрывает один,
// повторная отмена — 409. Не начатые tasks помечаются SKIPPED; уже
// выполняющиеся дорабатывают, их поздние отчёты отбрасываются.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	cancelled, err := h.jobRepo.Finalize(r.Context(), id, domain.JobStatusCancelled, "cancelled by user")
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	if !cancelled {
		Conflict(w, "job already finished")
		return
	}

	skipped, err := h.taskRepo.SkipRemaining(r.Context(), id, "job cancelled")
	if err != nil {
		// Job уже CANCELLED — scheduler доскипает при следующем advance.
		h.logger.Error("failed to skip remaining tasks",
			"job_id", id,
			"error", err,
		)
	}

	h.logger.Info("job cancelled",
		"job_id", id,
		"previous_status", job.Status,
		"tasks_skipped", skipped,
	)

	job, err = h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, JobFromDomain(*job))
}
