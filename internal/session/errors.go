package session

import "errors"

var (
	// ErrNoCapacity — ни один READY worker не может принять сессию.
	// Клиент получает отказ сразу, без ожидания освобождения слота.
	ErrNoCapacity = errors.New("no worker capacity available")

	// ErrSessionNotFound — сессия с таким ID не существует.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded — сессия уже завершена.
	ErrSessionEnded = errors.New("session already ended")
)
