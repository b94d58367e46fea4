package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики планировщика и session router'а.
// Экспортируются через promhttp в main каждого сервиса.
var (
	// TasksDispatched — количество tasks, поставленных в очереди engine'ов.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocata_tasks_dispatched_total",
		Help: "Tasks enqueued to engine queues",
	}, []string{"stage"})

	// TasksRetried — количество повторных постановок после ошибки выполнения.
	TasksRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocata_tasks_retried_total",
		Help: "Tasks requeued after a failed attempt",
	}, []string{"stage"})

	// TasksReaped — количество tasks, возвращённых reaper'ом по истечению lease.
	TasksReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vocata_tasks_reaped_total",
		Help: "Tasks requeued or failed after visibility timeout expiry",
	})

	// JobsFinished — количество финализированных jobs по терминальному статусу.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocata_jobs_finished_total",
		Help: "Jobs moved to a terminal status",
	}, []string{"status"})

	// TaskDuration — длительность выполнения tasks по stage.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vocata_task_duration_seconds",
		Help:    "Task execution duration reported by engines",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	// SessionsAllocated — количество успешных аллокаций live-сессий.
	SessionsAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vocata_sessions_allocated_total",
		Help: "Live sessions successfully bound to a worker",
	})

	// AllocationFailures — отказы аллокации из-за отсутствия capacity.
	AllocationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vocata_session_allocation_failures_total",
		Help: "Session requests rejected with no capacity",
	})

	// SessionsEnded — завершённые сессии по причине.
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocata_sessions_ended_total",
		Help: "Sessions ended, by reason",
	}, []string{"reason"})

	// WorkersEvicted — worker'ы, помеченные UNHEALTHY по просроченному heartbeat.
	WorkersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vocata_workers_evicted_total",
		Help: "Workers marked unhealthy after missed heartbeats",
	})
)
