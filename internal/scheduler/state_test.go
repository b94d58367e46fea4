package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/graph"
)

func newTestState(t *testing.T, params domain.JobParams) *JobState {
	t.Helper()

	job := &domain.Job{
		ID:        uuid.New(),
		Params:    params,
		Status:    domain.JobStatusRunning,
		CreatedAt: time.Now(),
	}

	tasks, err := graph.Build(job.ID, params)
	if err != nil {
		t.Fatalf("build tasks: %v", err)
	}

	state, err := NewJobState(job, tasks)
	if err != nil {
		t.Fatalf("new job state: %v", err)
	}
	return state
}

func fullParams() domain.JobParams {
	return domain.JobParams{
		AudioRef:         "s3://bucket/rec.wav",
		Language:         "en",
		WordTimestamps:   true,
		SpeakerDetection: graph.SpeakerModeDiarize,
		PIIDetection:     true,
		RedactPIIAudio:   true,
	}
}

func transitionsByReadiness(transitions []Transition, r graph.Readiness) []domain.Stage {
	var stages []domain.Stage
	for _, tr := range transitions {
		if tr.Readiness == r {
			stages = append(stages, tr.Task.Stage)
		}
	}
	return stages
}

func TestAdvance_RootFirst(t *testing.T) {
	state := newTestState(t, fullParams())

	transitions := state.Advance()

	// Стартует только prepare: всё остальное зависит от него
	ready := transitionsByReadiness(transitions, graph.Ready)
	if len(ready) != 1 || ready[0] != domain.StagePrepare {
		t.Fatalf("expected only prepare ready, got %v", ready)
	}
	if skipped := transitionsByReadiness(transitions, graph.Skip); len(skipped) != 0 {
		t.Errorf("nothing should be skipped at start, got %v", skipped)
	}

	if state.StatusOf(domain.StagePrepare) != domain.TaskStatusReady {
		t.Error("prepare should be READY in memory")
	}

	// Повторный Advance без изменений — пустой
	if again := state.Advance(); len(again) != 0 {
		t.Errorf("second advance should be empty, got %d transitions", len(again))
	}
}

func TestAdvance_ParallelBranches(t *testing.T) {
	state := newTestState(t, fullParams())

	state.Advance()
	state.SetStatus(domain.StagePrepare, domain.TaskStatusCompleted)

	transitions := state.Advance()
	ready := transitionsByReadiness(transitions, graph.Ready)

	// transcribe и diarize открываются параллельно
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready stages, got %v", ready)
	}
	if ready[0] != domain.StageTranscribe || ready[1] != domain.StageDiarize {
		t.Errorf("expected transcribe and diarize, got %v", ready)
	}
}

func TestAdvance_SkipCascade(t *testing.T) {
	state := newTestState(t, fullParams())

	// Доводим обязательную ветку до конца, diarize завершаем,
	// pii_detect исчерпывает retries и помечается SKIPPED.
	state.SetStatus(domain.StagePrepare, domain.TaskStatusCompleted)
	state.SetStatus(domain.StageTranscribe, domain.TaskStatusCompleted)
	state.SetStatus(domain.StageAlign, domain.TaskStatusCompleted)
	state.SetStatus(domain.StageDiarize, domain.TaskStatusCompleted)
	state.SetStatus(domain.StagePIIDetect, domain.TaskStatusSkipped)

	transitions := state.Advance()

	// audio_redact пропускается каскадно, merge открывается в том же
	// проходе: SKIPPED-зависимости удовлетворяют merge.
	skipped := transitionsByReadiness(transitions, graph.Skip)
	if len(skipped) != 1 || skipped[0] != domain.StageAudioRedact {
		t.Fatalf("expected audio_redact skipped, got %v", skipped)
	}

	ready := transitionsByReadiness(transitions, graph.Ready)
	if len(ready) != 1 || ready[0] != domain.StageMerge {
		t.Fatalf("expected merge ready after cascade, got %v", ready)
	}
}

func TestAdvance_RequiredFailureDoomsJob(t *testing.T) {
	state := newTestState(t, domain.JobParams{
		AudioRef: "s3://bucket/rec.wav",
		Language: "en",
	})

	state.SetStatus(domain.StagePrepare, domain.TaskStatusCompleted)
	state.SetStatus(domain.StageTranscribe, domain.TaskStatusFailed)

	transitions := state.Advance()

	// merge пропускается: required-зависимость упала
	skipped := transitionsByReadiness(transitions, graph.Skip)
	if len(skipped) != 1 || skipped[0] != domain.StageMerge {
		t.Fatalf("expected merge skipped, got %v", skipped)
	}

	if !state.IsComplete() {
		t.Fatal("job should be complete")
	}
	if got := state.Outcome(); got != domain.JobStatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}

	failed := state.FailedStages()
	if len(failed) != 1 || failed[0] != domain.StageTranscribe {
		t.Errorf("expected transcribe in failed stages, got %v", failed)
	}
}

func TestAdvance_DuplicateReportIsNoOp(t *testing.T) {
	state := newTestState(t, domain.JobParams{
		AudioRef: "s3://bucket/rec.wav",
		Language: "en",
	})

	state.Advance()
	state.SetStatus(domain.StagePrepare, domain.TaskStatusCompleted)

	first := state.Advance()
	if len(first) != 1 || first[0].Task.Stage != domain.StageTranscribe {
		t.Fatalf("expected transcribe transition, got %v", first)
	}

	// Повторный отчёт о том же завершении не двигает DAG второй раз
	state.SetStatus(domain.StagePrepare, domain.TaskStatusCompleted)
	if again := state.Advance(); len(again) != 0 {
		t.Errorf("duplicate report should produce no transitions, got %d", len(again))
	}
}

func TestOutcome_OptionalSkippedStillCompleted(t *testing.T) {
	params := domain.JobParams{
		AudioRef:     "s3://bucket/rec.wav",
		Language:     "en",
		PIIDetection: true,
	}
	state := newTestState(t, params)

	state.SetStatus(domain.StagePrepare, domain.TaskStatusCompleted)
	state.SetStatus(domain.StageTranscribe, domain.TaskStatusCompleted)
	state.SetStatus(domain.StagePIIDetect, domain.TaskStatusSkipped)
	state.SetStatus(domain.StageMerge, domain.TaskStatusCompleted)

	if !state.IsComplete() {
		t.Fatal("job should be complete")
	}
	if got := state.Outcome(); got != domain.JobStatusCompleted {
		t.Errorf("optional skip should not fail job, got %s", got)
	}
}

func TestNewJobState_RestoreFromStoredTasks(t *testing.T) {
	job := &domain.Job{
		ID:        uuid.New(),
		Status:    domain.JobStatusRunning,
		CreatedAt: time.Now(),
	}

	params := domain.JobParams{AudioRef: "s3://bucket/rec.wav", Language: "en"}
	tasks, err := graph.Build(job.ID, params)
	if err != nil {
		t.Fatalf("build tasks: %v", err)
	}

	// Имитируем частично выполненный job, прочитанный из БД
	tasks[0].Status = domain.TaskStatusCompleted
	tasks[1].Status = domain.TaskStatusRunning

	state, err := NewJobState(job, tasks)
	if err != nil {
		t.Fatalf("new job state: %v", err)
	}

	if state.StatusOf(domain.StagePrepare) != domain.TaskStatusCompleted {
		t.Error("prepare status should be restored as COMPLETED")
	}
	if state.StatusOf(domain.StageTranscribe) != domain.TaskStatusRunning {
		t.Error("transcribe status should be restored as RUNNING")
	}

	// RUNNING task не трогаем, merge ждёт
	if transitions := state.Advance(); len(transitions) != 0 {
		t.Errorf("no transitions expected, got %d", len(transitions))
	}

	stats := state.Stats()
	if stats.Total != 3 || stats.Completed != 1 || stats.Running != 1 || stats.Pending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
