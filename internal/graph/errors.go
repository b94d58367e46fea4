package graph

import "errors"

// Ошибки валидации параметров job.
var (
	// ErrMissingAudioRef — не указана ссылка на исходное аудио.
	ErrMissingAudioRef = errors.New("audio_ref is required")

	// ErrMissingLanguage — не указан язык.
	ErrMissingLanguage = errors.New("language is required")

	// ErrUnknownSpeakerMode — неизвестный режим speaker_detection.
	ErrUnknownSpeakerMode = errors.New("unknown speaker_detection mode")

	// ErrRedactWithoutPII — redact_pii_audio запрошен без pii_detection.
	ErrRedactWithoutPII = errors.New("redact_pii_audio requires pii_detection")

	// ErrNegativeRetries — отрицательный max_retries.
	ErrNegativeRetries = errors.New("max_retries must not be negative")
)

// Ошибки структуры графа.
var (
	// ErrEmptyGraph — job без tasks.
	ErrEmptyGraph = errors.New("graph has no tasks")

	// ErrDuplicateStage — несколько tasks с одинаковым stage в одном job.
	ErrDuplicateStage = errors.New("duplicate stage in job")

	// ErrUnknownDependency — task зависит от stage, которого нет в job.
	ErrUnknownDependency = errors.New("task depends on unknown stage")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// ValidationError — ошибка валидации параметров с контекстом.
type ValidationError struct {
	Field   string // поле параметров, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
