package mq

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEngineQueue(t *testing.T) {
	if got := EngineQueue("transcribe"); got != "engine.transcribe" {
		t.Errorf("expected engine.transcribe, got %s", got)
	}
	if got := EngineQueue("pii_detect"); got != "engine.pii_detect" {
		t.Errorf("expected engine.pii_detect, got %s", got)
	}
}

func TestParsePayload(t *testing.T) {
	taskID := uuid.New()
	jobID := uuid.New()

	// Payload приходит из JSON как map[string]any
	msg := &Message{
		ID:   uuid.NewString(),
		Type: MessageTypeTaskDispatch,
		Payload: map[string]any{
			"task_id":   taskID.String(),
			"job_id":    jobID.String(),
			"stage":     "transcribe",
			"engine_id": "transcribe",
		},
		Timestamp: time.Now(),
	}

	payload, err := ParsePayload[TaskDispatchPayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if payload.TaskID != taskID {
		t.Errorf("expected task_id %s, got %s", taskID, payload.TaskID)
	}
	if payload.JobID != jobID {
		t.Errorf("expected job_id %s, got %s", jobID, payload.JobID)
	}
	if payload.Stage != "transcribe" || payload.EngineID != "transcribe" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestParsePayload_TypedPassthrough(t *testing.T) {
	// Публикация кладёт типизированный payload напрямую
	msg := &Message{
		ID:   uuid.NewString(),
		Type: MessageTypeWorkerHeartbeat,
		Payload: WorkerHeartbeatPayload{
			WorkerID:       "w1",
			Endpoint:       "wss://w1.local:9000",
			Capacity:       4,
			ActiveSessions: 2,
		},
	}

	payload, err := ParsePayload[WorkerHeartbeatPayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.WorkerID != "w1" || payload.ActiveSessions != 2 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}
