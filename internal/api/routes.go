package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Jobs
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.CreateJob)))
	mux.Handle("GET /api/v1/jobs/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("GET /api/v1/jobs/{id}/tasks", chain(http.HandlerFunc(h.ListJobTasks)))
	mux.Handle("POST /api/v1/jobs/{id}/cancel", chain(http.HandlerFunc(h.CancelJob)))

	// Sessions
	mux.Handle("POST /api/v1/sessions", chain(http.HandlerFunc(h.CreateSession)))
	mux.Handle("GET /api/v1/sessions/{id}", chain(http.HandlerFunc(h.GetSession)))
	mux.Handle("POST /api/v1/sessions/{id}/activate", chain(http.HandlerFunc(h.ActivateSession)))
	mux.Handle("POST /api/v1/sessions/{id}/end", chain(http.HandlerFunc(h.EndSession)))

	// Workers
	mux.Handle("GET /api/v1/workers", chain(http.HandlerFunc(h.ListWorkers)))
	mux.Handle("POST /api/v1/workers", chain(http.HandlerFunc(h.RegisterWorker)))
	mux.Handle("GET /api/v1/workers/{id}", chain(http.HandlerFunc(h.GetWorker)))
	mux.Handle("POST /api/v1/workers/{id}/heartbeat", chain(http.HandlerFunc(h.WorkerHeartbeat)))
}
