package engine

import (
	"context"
	"fmt"

	"github.com/shaiso/Vocata/internal/domain"
)

// Executor — интерфейс выполнения task'а одного stage.
//
// Реализация по умолчанию — HTTPExecutor, вызывающий inference-сервис.
// Выполнение обязано быть идемпотентным: после истечения lease task
// может быть выполнен повторно другим экземпляром.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения task.
type ExecutionResult struct {
	// Output — выходные данные stage'а (ссылки на артефакты, метаданные).
	Output map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string
}

// Registry — реестр executor'ов по stage.
type Registry struct {
	executors map[domain.Stage]Executor
}

// NewRegistry создаёт пустой реестр.
// Runner обычно обслуживает один stage, но реестр позволяет одному
// процессу нести несколько лёгких stages (например, merge + prepare).
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.Stage]Executor)}
}

// Register добавляет executor для stage.
func (r *Registry) Register(stage domain.Stage, executor Executor) {
	r.executors[stage] = executor
}

// Get возвращает executor для stage.
func (r *Registry) Get(stage domain.Stage) (Executor, error) {
	executor, ok := r.executors[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return executor, nil
}
