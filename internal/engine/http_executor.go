package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
)

const defaultInferenceTimeout = 10 * time.Minute

// HTTPExecutor — executor, вызывающий inference-сервис stage'а.
//
// POST на endpoint с JSON-телом inferenceRequest; успешный ответ —
// JSON с полем output. HTTP >= 400 — логическая ошибка выполнения
// (уходит в отчёт как FAILED и считается против retry-бюджета),
// сетевые ошибки — инфраструктурные.
type HTTPExecutor struct {
	// Endpoint — URL inference-сервиса.
	Endpoint string

	// Timeout — таймаут одного вызова. Ноль — defaultInferenceTimeout.
	Timeout time.Duration

	// Client — HTTP-клиент. Nil — http.DefaultClient.
	Client *http.Client
}

// NewHTTPExecutor создаёт HTTPExecutor для указанного endpoint.
func NewHTTPExecutor(endpoint string) *HTTPExecutor {
	return &HTTPExecutor{Endpoint: endpoint}
}

// inferenceRequest — тело запроса к inference-сервису.
type inferenceRequest struct {
	TaskID   uuid.UUID           `json:"task_id"`
	JobID    uuid.UUID           `json:"job_id"`
	Stage    domain.Stage        `json:"stage"`
	Attempt  int                 `json:"attempt"`
	InputRef string              `json:"input_ref,omitempty"`
	Config   *domain.StageConfig `json:"config,omitempty"`
}

// inferenceResponse — тело ответа inference-сервиса.
type inferenceResponse struct {
	Output map[string]any `json:"output"`
	Error  string         `json:"error,omitempty"`
}

// Execute вызывает inference-сервис.
func (e *HTTPExecutor) Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error) {
	if e.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is empty", ErrInferenceRequest)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(inferenceRequest{
		TaskID:   task.ID,
		JobID:    task.JobID,
		Stage:    task.Stage,
		Attempt:  task.Attempt,
		InputRef: task.InputRef,
		Config:   &task.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrInferenceRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrInferenceRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrInferenceRequest, err)
	}

	if resp.StatusCode >= 400 {
		// Логическая ошибка stage'а — в отчёт, не в инфраструктуру.
		return &ExecutionResult{
			Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}, nil
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInferenceRequest, err)
	}

	return &ExecutionResult{
		Output: parsed.Output,
		Error:  parsed.Error,
	}, nil
}

// truncate обрезает строку до max символов.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
