package graph

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Vocata/internal/domain"
)

func baseParams() domain.JobParams {
	return domain.JobParams{
		AudioRef: "s3://bucket/rec.wav",
		Language: "en",
	}
}

func stagesOf(tasks []domain.Task) []domain.Stage {
	stages := make([]domain.Stage, len(tasks))
	for i := range tasks {
		stages[i] = tasks[i].Stage
	}
	return stages
}

func taskByStage(t *testing.T, tasks []domain.Task, stage domain.Stage) *domain.Task {
	t.Helper()
	for i := range tasks {
		if tasks[i].Stage == stage {
			return &tasks[i]
		}
	}
	t.Fatalf("stage %s not found in %v", stage, stagesOf(tasks))
	return nil
}

func TestBuild_MinimalPipeline(t *testing.T) {
	tasks, err := Build(uuid.New(), baseParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Минимальный job: prepare → transcribe → merge
	want := []domain.Stage{domain.StagePrepare, domain.StageTranscribe, domain.StageMerge}
	if len(tasks) != len(want) {
		t.Fatalf("expected %d tasks, got %d: %v", len(want), len(tasks), stagesOf(tasks))
	}
	for i, stage := range want {
		if tasks[i].Stage != stage {
			t.Errorf("task %d: expected stage %s, got %s", i, stage, tasks[i].Stage)
		}
		if tasks[i].Seq != i {
			t.Errorf("task %d: expected seq %d, got %d", i, i, tasks[i].Seq)
		}
		if !tasks[i].Required {
			t.Errorf("stage %s should be required", stage)
		}
		if tasks[i].Status != domain.TaskStatusPending {
			t.Errorf("stage %s: expected PENDING, got %s", stage, tasks[i].Status)
		}
	}

	prepare := taskByStage(t, tasks, domain.StagePrepare)
	if len(prepare.DependsOn) != 0 {
		t.Errorf("prepare should have no dependencies, got %v", prepare.DependsOn)
	}

	transcribe := taskByStage(t, tasks, domain.StageTranscribe)
	if len(transcribe.DependsOn) != 1 || transcribe.DependsOn[0] != domain.StagePrepare {
		t.Errorf("transcribe should depend on prepare, got %v", transcribe.DependsOn)
	}

	// merge зависит от всех созданных tasks
	merge := taskByStage(t, tasks, domain.StageMerge)
	if len(merge.DependsOn) != 2 {
		t.Errorf("merge should depend on 2 tasks, got %v", merge.DependsOn)
	}
}

func TestBuild_WordTimestamps(t *testing.T) {
	params := baseParams()
	params.WordTimestamps = true

	tasks, err := Build(uuid.New(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	align := taskByStage(t, tasks, domain.StageAlign)
	if len(align.DependsOn) != 1 || align.DependsOn[0] != domain.StageTranscribe {
		t.Errorf("align should depend on transcribe, got %v", align.DependsOn)
	}
	if !align.Required {
		t.Error("align should be required")
	}
}

func TestBuild_FullPipeline(t *testing.T) {
	params := baseParams()
	params.WordTimestamps = true
	params.SpeakerDetection = SpeakerModeDiarize
	params.PIIDetection = true
	params.RedactPIIAudio = true
	params.EmotionDetection = true
	params.LLMCleanup = true

	tasks, err := Build(uuid.New(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tasks) != 9 {
		t.Fatalf("expected 9 tasks, got %d: %v", len(tasks), stagesOf(tasks))
	}

	// diarize — параллельная ветка от prepare
	diarize := taskByStage(t, tasks, domain.StageDiarize)
	if len(diarize.DependsOn) != 1 || diarize.DependsOn[0] != domain.StagePrepare {
		t.Errorf("diarize should depend on prepare, got %v", diarize.DependsOn)
	}

	// pii_detect зависит от align (textRoot при word_timestamps) и diarize
	pii := taskByStage(t, tasks, domain.StagePIIDetect)
	if len(pii.DependsOn) != 2 {
		t.Fatalf("pii_detect should have 2 dependencies, got %v", pii.DependsOn)
	}
	if pii.DependsOn[0] != domain.StageAlign || pii.DependsOn[1] != domain.StageDiarize {
		t.Errorf("pii_detect should depend on align and diarize, got %v", pii.DependsOn)
	}
	if pii.Required {
		t.Error("pii_detect should be optional")
	}

	// audio_redact зависит от завершения pii_detect
	redact := taskByStage(t, tasks, domain.StageAudioRedact)
	if len(redact.DependsOn) != 1 || redact.DependsOn[0] != domain.StagePIIDetect {
		t.Errorf("audio_redact should depend on pii_detect, got %v", redact.DependsOn)
	}
	if redact.Required {
		t.Error("audio_redact should be optional")
	}

	// enrichment tasks зависят от textRoot = align
	for _, stage := range []domain.Stage{domain.StageEmotionDetect, domain.StageLLMCleanup} {
		task := taskByStage(t, tasks, stage)
		if len(task.DependsOn) != 1 || task.DependsOn[0] != domain.StageAlign {
			t.Errorf("%s should depend on align, got %v", stage, task.DependsOn)
		}
		if task.Required {
			t.Errorf("%s should be optional", stage)
		}
	}

	// merge — последний и зависит от всех остальных
	merge := tasks[len(tasks)-1]
	if merge.Stage != domain.StageMerge {
		t.Fatalf("last task should be merge, got %s", merge.Stage)
	}
	if len(merge.DependsOn) != 8 {
		t.Errorf("merge should depend on 8 tasks, got %d", len(merge.DependsOn))
	}
}

func TestBuild_RedactRequiresPII(t *testing.T) {
	params := baseParams()
	params.RedactPIIAudio = true
	// PIIDetection выключен

	_, err := Build(uuid.New(), params)
	if err == nil {
		t.Fatal("expected error for redact without pii_detection")
	}
	if !errors.Is(err, ErrRedactWithoutPII) {
		t.Errorf("expected ErrRedactWithoutPII, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if verr.Field != "redact_pii_audio" {
		t.Errorf("expected field redact_pii_audio, got %s", verr.Field)
	}
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.JobParams)
		wantErr error
	}{
		{
			name:    "missing audio_ref",
			mutate:  func(p *domain.JobParams) { p.AudioRef = "" },
			wantErr: ErrMissingAudioRef,
		},
		{
			name:    "missing language",
			mutate:  func(p *domain.JobParams) { p.Language = "" },
			wantErr: ErrMissingLanguage,
		},
		{
			name:    "negative max_retries",
			mutate:  func(p *domain.JobParams) { p.MaxRetries = -1 },
			wantErr: ErrNegativeRetries,
		},
		{
			name:    "unknown speaker mode",
			mutate:  func(p *domain.JobParams) { p.SpeakerDetection = "chorus" },
			wantErr: ErrUnknownSpeakerMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := baseParams()
			tt.mutate(&params)

			_, err := Build(uuid.New(), params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuild_MaxRetries(t *testing.T) {
	tasks, err := Build(uuid.New(), baseParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range tasks {
		if tasks[i].MaxRetries != defaultMaxRetries {
			t.Errorf("stage %s: expected default max_retries %d, got %d",
				tasks[i].Stage, defaultMaxRetries, tasks[i].MaxRetries)
		}
	}

	params := baseParams()
	params.MaxRetries = 7
	tasks, err = Build(uuid.New(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range tasks {
		if tasks[i].MaxRetries != 7 {
			t.Errorf("stage %s: expected max_retries 7, got %d", tasks[i].Stage, tasks[i].MaxRetries)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	params := baseParams()
	params.WordTimestamps = true
	params.PIIDetection = true

	jobID := uuid.New()
	first, err := Build(jobID, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Build(jobID, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("builds differ in size: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Stage != second[i].Stage {
			t.Errorf("task %d: stage %s vs %s", i, first[i].Stage, second[i].Stage)
		}
		if first[i].EngineID != second[i].EngineID {
			t.Errorf("task %d: engine %s vs %s", i, first[i].EngineID, second[i].EngineID)
		}
	}
}

func TestEngineIDFor(t *testing.T) {
	if EngineIDFor(domain.StageTranscribe) != "transcribe" {
		t.Errorf("expected engine id transcribe, got %s", EngineIDFor(domain.StageTranscribe))
	}
}
