package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrJobNotFound — job не найден в БД.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyActive — job уже обрабатывается.
	ErrJobAlreadyActive = errors.New("job already being processed")

	// ErrJobNotPending — job не в статусе PENDING.
	ErrJobNotPending = errors.New("job is not in PENDING status")

	// ErrJobFinished — job уже в терминальном статусе.
	ErrJobFinished = errors.New("job already finished")

	// ErrTaskNotFound — task не найден.
	ErrTaskNotFound = errors.New("task not found")
)
