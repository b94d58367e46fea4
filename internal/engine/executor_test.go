package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Vocata/internal/domain"
)

type stubExecutor struct {
	result *ExecutionResult
	err    error
}

func (s *stubExecutor) Execute(ctx context.Context, task *domain.Task) (*ExecutionResult, error) {
	return s.result, s.err
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	stub := &stubExecutor{result: &ExecutionResult{}}
	reg.Register(domain.StageTranscribe, stub)

	got, err := reg.Get(domain.StageTranscribe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != stub {
		t.Error("expected registered executor")
	}

	_, err = reg.Get(domain.StageDiarize)
	if !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
}

func testTask() *domain.Task {
	return &domain.Task{
		ID:      uuid.New(),
		JobID:   uuid.New(),
		Stage:   domain.StageTranscribe,
		Attempt: 2,
		Config: domain.StageConfig{
			Stage: domain.StageTranscribe,
			Transcribe: &domain.TranscribeConfig{
				Language: "en",
				Model:    "large-v3",
			},
		},
	}
}

func TestHTTPExecutor_Success(t *testing.T) {
	task := testTask()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		var req inferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.TaskID != task.ID {
			t.Errorf("expected task_id %s, got %s", task.ID, req.TaskID)
		}
		if req.Stage != domain.StageTranscribe {
			t.Errorf("expected stage transcribe, got %s", req.Stage)
		}
		if req.Attempt != 2 {
			t.Errorf("expected attempt 2, got %d", req.Attempt)
		}

		json.NewEncoder(w).Encode(inferenceResponse{
			Output: map[string]any{"transcript_ref": "s3://bucket/out.json"},
		})
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.URL)

	result, err := executor.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Errorf("unexpected logical error: %s", result.Error)
	}
	if result.Output["transcript_ref"] != "s3://bucket/out.json" {
		t.Errorf("unexpected output: %v", result.Output)
	}
}

func TestHTTPExecutor_LogicalError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inferenceResponse{
			Error: "audio format not supported",
		})
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.URL)

	result, err := executor.Execute(context.Background(), testTask())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "audio format not supported" {
		t.Errorf("expected logical error, got %q", result.Error)
	}
}

func TestHTTPExecutor_HTTPErrorIsLogical(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.URL)

	// HTTP >= 400 — логическая ошибка, не инфраструктурная:
	// уходит в отчёт FAILED и считается против retry-бюджета.
	result, err := executor.Execute(context.Background(), testTask())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.Error, "HTTP 503") {
		t.Errorf("expected HTTP 503 error, got %q", result.Error)
	}
	if !strings.Contains(result.Error, "model overloaded") {
		t.Errorf("expected body in error, got %q", result.Error)
	}
}

func TestHTTPExecutor_NetworkErrorIsInfrastructure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // сервер уже мёртв

	executor := NewHTTPExecutor(server.URL)

	_, err := executor.Execute(context.Background(), testTask())
	if !errors.Is(err, ErrInferenceRequest) {
		t.Errorf("expected ErrInferenceRequest, got %v", err)
	}
}

func TestHTTPExecutor_EmptyEndpoint(t *testing.T) {
	executor := &HTTPExecutor{}

	_, err := executor.Execute(context.Background(), testTask())
	if !errors.Is(err, ErrInferenceRequest) {
		t.Errorf("expected ErrInferenceRequest, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 200); got != "short" {
		t.Errorf("unexpected truncation: %q", got)
	}
	long := strings.Repeat("x", 300)
	got := truncate(long, 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("expected 200 chars plus ellipsis, got %d", len(got))
	}
}
