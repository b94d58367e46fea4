package registry

import "errors"

var (
	// ErrWorkerNotFound — worker с таким ID не зарегистрирован.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrInvalidRegistration — некорректные параметры регистрации.
	ErrInvalidRegistration = errors.New("invalid registration")
)
