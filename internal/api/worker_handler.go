package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Vocata/internal/registry"
)

// RegisterWorker регистрирует worker'а (идемпотентно).
// POST /api/v1/workers
func (h *Handler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registry.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	worker, err := h.registry.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidRegistration) {
			BadRequest(w, err.Error())
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, WorkerFromDomain(*worker))
}

// GetWorker возвращает worker'а по ID.
// GET /api/v1/workers/{id}
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	worker, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrWorkerNotFound) {
			NotFound(w, "worker not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, WorkerFromDomain(*worker))
}

// ListWorkers возвращает всех worker'ов.
// GET /api/v1/workers
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.registry.List(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]WorkerResponse, len(workers))
	for i, worker := range workers {
		result[i] = WorkerFromDomain(worker)
	}

	List(w, result, len(result))
}

// WorkerHeartbeat принимает heartbeat worker'а.
// POST /api/v1/workers/{id}/heartbeat
//
// HTTP-дублёр очереди workers.heartbeat для worker'ов без AMQP-клиента.
func (h *Handler) WorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.registry.Heartbeat(r.Context(), id, req.ActiveSessions); err != nil {
		if errors.Is(err, registry.ErrWorkerNotFound) {
			NotFound(w, "worker not registered")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}
