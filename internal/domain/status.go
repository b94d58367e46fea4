package domain

// JobStatus — статус выполнения job.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type JobStatus string

const (
	// JobStatusPending — job создан, но scheduler ещё не начал обработку.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning — job в процессе выполнения.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted — все обязательные tasks завершились успешно.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed — обязательный task исчерпал retry и упал.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled — job отменён снаружи.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (job завершён).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → COMPLETED
//	                          ↘ FAILED (retry → обратно в READY)
//	                          ↘ SKIPPED (optional task упал, каскадный skip или отмена job)
//
// PENDING и READY — до выполнения; RUNNING — в полёте (с lease);
// COMPLETED, FAILED, SKIPPED — терминальные.
type TaskStatus string

const (
	// TaskStatusPending — task создан, зависимости ещё не удовлетворены.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusReady — зависимости удовлетворены, task поставлен в очередь engine.
	TaskStatusReady TaskStatus = "READY"

	// TaskStatusRunning — task захвачен engine'ом, lease активен.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusCompleted — task успешно завершён.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — task упал после всех retry.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped — optional task упал или пропущен каскадно/при отмене job.
	TaskStatusSkipped TaskStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// WorkerStatus — статус real-time worker'а.
type WorkerStatus string

const (
	// WorkerStatusReady — worker жив и принимает сессии.
	WorkerStatusReady WorkerStatus = "READY"

	// WorkerStatusUnhealthy — heartbeat просрочен, worker исключён из выдачи.
	WorkerStatusUnhealthy WorkerStatus = "UNHEALTHY"
)

// SessionState — состояние live-сессии.
//
// Жизненный цикл:
//
//	ALLOCATED → ACTIVE → ENDED
type SessionState string

const (
	// SessionStateAllocated — слот зарезервирован, клиент ещё не подключился.
	SessionStateAllocated SessionState = "ALLOCATED"

	// SessionStateActive — клиент подключён к worker'у, поток идёт.
	SessionStateActive SessionState = "ACTIVE"

	// SessionStateEnded — сессия завершена, ёмкость возвращена.
	SessionStateEnded SessionState = "ENDED"
)
