package engine

import "errors"

// Ошибки engine runner'а.
var (
	// ErrTaskNotFound — task не найден в БД.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotClaimable — task не удалось захватить (уже RUNNING
	// или терминален): дубликат доставки, ack без выполнения.
	ErrTaskNotClaimable = errors.New("task not claimable")

	// ErrUnknownStage — нет executor'а для данного stage.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrInferenceRequest — запрос к inference-сервису завершился ошибкой.
	ErrInferenceRequest = errors.New("inference request failed")
)
