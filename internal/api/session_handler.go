package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/session"
)

// CreateSession аллоцирует live-сессию на свободного worker'а.
// POST /api/v1/sessions
//
// Ответ содержит endpoint worker'а: аудио-стрим идёт к нему напрямую,
// router в передаче данных не участвует. Нет capacity — 503 сразу,
// без ожидания.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	binding, err := h.allocator.Allocate(r.Context(), req)
	if err != nil {
		if errors.Is(err, session.ErrNoCapacity) {
			NoCapacity(w, "no worker capacity available")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, binding)
}

// GetSession возвращает сессию по ID.
// GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid session id")
		return
	}

	sess, err := h.allocator.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			NotFound(w, "session not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, SessionFromDomain(*sess))
}

// ActivateSession отмечает, что клиент подключился к worker'у.
// POST /api/v1/sessions/{id}/activate
func (h *Handler) ActivateSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid session id")
		return
	}

	if err := h.allocator.Activate(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			NotFound(w, "session not found")
		case errors.Is(err, session.ErrSessionEnded):
			Conflict(w, "session already ended")
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	NoContent(w)
}

// EndSession завершает сессию.
// POST /api/v1/sessions/{id}/end
//
// Повторное завершение идемпотентно: слот освобождается ровно один раз.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid session id")
		return
	}

	var req EndSessionRequest
	if r.Body != nil {
		// Тело опционально; причина по умолчанию — client_close.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	reason := req.Reason
	if reason == "" {
		reason = domain.EndReasonClientClose
	}

	if err := h.allocator.End(r.Context(), id, reason); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			NotFound(w, "session not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}
