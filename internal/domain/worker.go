package domain

import "time"

// Worker — real-time processing endpoint для live-сессий.
//
// Worker создаётся регистрацией при старте процесса, обновляется каждым
// heartbeat'ом и каждой аллокацией/освобождением сессии. Health Monitor
// помечает worker'а UNHEALTHY при просроченном heartbeat.
type Worker struct {
	// ID — уникальный идентификатор worker'а (задаёт сам worker).
	ID string `json:"id"`

	// Endpoint — сетевой адрес, на который клиент подключается напрямую.
	Endpoint string `json:"endpoint"`

	// Capacity — максимум одновременных сессий, заявленный worker'ом.
	Capacity int `json:"capacity"`

	// ActiveSessions — текущее число занятых слотов.
	// Worker'ский self-report в heartbeat авторитетен над этим значением.
	ActiveSessions int `json:"active_sessions"`

	// Models — поддерживаемые модели.
	Models []string `json:"models,omitempty"`

	// Languages — поддерживаемые языки.
	Languages []string `json:"languages,omitempty"`

	// Status — READY или UNHEALTHY.
	Status WorkerStatus `json:"status"`

	// LastHeartbeat — время последнего heartbeat'а.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// RegisteredAt — время первой регистрации.
	RegisteredAt time.Time `json:"registered_at"`
}

// FreeCapacity возвращает число свободных слотов.
func (w *Worker) FreeCapacity() int {
	free := w.Capacity - w.ActiveSessions
	if free < 0 {
		return 0
	}
	return free
}

// Supports проверяет, поддерживает ли worker модель и язык.
// Пустой список means "поддерживает всё" (worker не ограничивает).
func (w *Worker) Supports(model, language string) bool {
	if model != "" && len(w.Models) > 0 && !contains(w.Models, model) {
		return false
	}
	if language != "" && len(w.Languages) > 0 && !contains(w.Languages, language) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
