package graph

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Vocata/internal/domain"
)

// makeTask создаёт task для сборки графа вручную.
func makeTask(seq int, stage domain.Stage, required bool, deps ...domain.Stage) domain.Task {
	return domain.Task{
		ID:        uuid.New(),
		Stage:     stage,
		DependsOn: deps,
		Required:  required,
		Seq:       seq,
		Status:    domain.TaskStatusPending,
	}
}

func TestFromTasks_Diamond(t *testing.T) {
	// prepare → transcribe → merge
	// prepare → diarize    → merge
	tasks := []domain.Task{
		makeTask(0, domain.StagePrepare, true),
		makeTask(1, domain.StageTranscribe, true, domain.StagePrepare),
		makeTask(2, domain.StageDiarize, true, domain.StagePrepare),
		makeTask(3, domain.StageMerge, true, domain.StageTranscribe, domain.StageDiarize),
	}

	g, err := FromTasks(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 4 {
		t.Errorf("expected 4 nodes, got %d", g.Size())
	}

	if g.Node(domain.StagePrepare).InDegree != 0 {
		t.Error("prepare should have inDegree 0")
	}
	if g.Node(domain.StageMerge).InDegree != 2 {
		t.Errorf("merge should have inDegree 2, got %d", g.Node(domain.StageMerge).InDegree)
	}
	if len(g.Node(domain.StagePrepare).Dependents) != 2 {
		t.Errorf("prepare should have 2 dependents, got %d", len(g.Node(domain.StagePrepare).Dependents))
	}

	// Order следует Seq
	if g.Order[0].Stage != domain.StagePrepare || g.Order[3].Stage != domain.StageMerge {
		t.Error("order should follow task seq")
	}
}

func TestFromTasks_Empty(t *testing.T) {
	_, err := FromTasks(nil)
	if !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("expected ErrEmptyGraph, got %v", err)
	}
}

func TestFromTasks_DuplicateStage(t *testing.T) {
	tasks := []domain.Task{
		makeTask(0, domain.StagePrepare, true),
		makeTask(1, domain.StagePrepare, true),
	}

	_, err := FromTasks(tasks)
	if !errors.Is(err, ErrDuplicateStage) {
		t.Errorf("expected ErrDuplicateStage, got %v", err)
	}
}

func TestFromTasks_UnknownDependency(t *testing.T) {
	tasks := []domain.Task{
		makeTask(0, domain.StageTranscribe, true, domain.StagePrepare),
	}

	_, err := FromTasks(tasks)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestFromTasks_CycleRejected(t *testing.T) {
	tasks := []domain.Task{
		makeTask(0, domain.StageTranscribe, true, domain.StageAlign),
		makeTask(1, domain.StageAlign, true, domain.StageTranscribe),
	}

	_, err := FromTasks(tasks)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestEvaluate_Readiness(t *testing.T) {
	tasks := []domain.Task{
		makeTask(0, domain.StagePrepare, true),
		makeTask(1, domain.StageTranscribe, true, domain.StagePrepare),
		makeTask(2, domain.StagePIIDetect, false, domain.StageTranscribe),
		makeTask(3, domain.StageAudioRedact, false, domain.StagePIIDetect),
		makeTask(4, domain.StageMerge, true,
			domain.StagePrepare, domain.StageTranscribe, domain.StagePIIDetect, domain.StageAudioRedact),
	}

	g, err := FromTasks(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statuses := map[domain.Stage]domain.TaskStatus{
		domain.StagePrepare:     domain.TaskStatusPending,
		domain.StageTranscribe:  domain.TaskStatusPending,
		domain.StagePIIDetect:   domain.TaskStatusPending,
		domain.StageAudioRedact: domain.TaskStatusPending,
		domain.StageMerge:       domain.TaskStatusPending,
	}

	// Корень без зависимостей готов сразу
	if got := g.Evaluate(domain.StagePrepare, statuses); got != Ready {
		t.Errorf("prepare: expected Ready, got %v", got)
	}
	// Потребитель ждёт незавершённую зависимость
	if got := g.Evaluate(domain.StageTranscribe, statuses); got != NotReady {
		t.Errorf("transcribe: expected NotReady, got %v", got)
	}

	// RUNNING — всё ещё не готов
	statuses[domain.StagePrepare] = domain.TaskStatusRunning
	if got := g.Evaluate(domain.StageTranscribe, statuses); got != NotReady {
		t.Errorf("transcribe after running dep: expected NotReady, got %v", got)
	}

	// COMPLETED — готов
	statuses[domain.StagePrepare] = domain.TaskStatusCompleted
	if got := g.Evaluate(domain.StageTranscribe, statuses); got != Ready {
		t.Errorf("transcribe after completed dep: expected Ready, got %v", got)
	}
}

func TestEvaluate_SkipCascade(t *testing.T) {
	tasks := []domain.Task{
		makeTask(0, domain.StagePrepare, true),
		makeTask(1, domain.StageTranscribe, true, domain.StagePrepare),
		makeTask(2, domain.StagePIIDetect, false, domain.StageTranscribe),
		makeTask(3, domain.StageAudioRedact, false, domain.StagePIIDetect),
		makeTask(4, domain.StageMerge, true,
			domain.StagePrepare, domain.StageTranscribe, domain.StagePIIDetect, domain.StageAudioRedact),
	}

	g, err := FromTasks(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// pii_detect исчерпал retries и пропущен: его потребитель
	// пропускается каскадно, merge — нет.
	statuses := map[domain.Stage]domain.TaskStatus{
		domain.StagePrepare:     domain.TaskStatusCompleted,
		domain.StageTranscribe:  domain.TaskStatusCompleted,
		domain.StagePIIDetect:   domain.TaskStatusSkipped,
		domain.StageAudioRedact: domain.TaskStatusPending,
		domain.StageMerge:       domain.TaskStatusPending,
	}

	if got := g.Evaluate(domain.StageAudioRedact, statuses); got != Skip {
		t.Errorf("audio_redact: expected Skip, got %v", got)
	}

	// merge ждёт, пока audio_redact не станет терминальным
	if got := g.Evaluate(domain.StageMerge, statuses); got != NotReady {
		t.Errorf("merge: expected NotReady, got %v", got)
	}

	// После каскадного skip merge готов: SKIPPED-зависимости
	// удовлетворяют только merge.
	statuses[domain.StageAudioRedact] = domain.TaskStatusSkipped
	if got := g.Evaluate(domain.StageMerge, statuses); got != Ready {
		t.Errorf("merge after cascade: expected Ready, got %v", got)
	}
}

func TestEvaluate_FailedDependency(t *testing.T) {
	tasks := []domain.Task{
		makeTask(0, domain.StagePrepare, true),
		makeTask(1, domain.StageTranscribe, true, domain.StagePrepare),
		makeTask(2, domain.StageMerge, true, domain.StagePrepare, domain.StageTranscribe),
	}

	g, err := FromTasks(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statuses := map[domain.Stage]domain.TaskStatus{
		domain.StagePrepare:    domain.TaskStatusCompleted,
		domain.StageTranscribe: domain.TaskStatusFailed,
		domain.StageMerge:      domain.TaskStatusPending,
	}

	// FAILED-зависимость пропускает потребителя, включая merge:
	// упасть мог только required task, job уже обречён.
	if got := g.Evaluate(domain.StageMerge, statuses); got != Skip {
		t.Errorf("merge: expected Skip, got %v", got)
	}
}

func TestIsCompleteAndOutcome(t *testing.T) {
	tasks := []domain.Task{
		makeTask(0, domain.StagePrepare, true),
		makeTask(1, domain.StageTranscribe, true, domain.StagePrepare),
		makeTask(2, domain.StagePIIDetect, false, domain.StageTranscribe),
		makeTask(3, domain.StageMerge, true,
			domain.StagePrepare, domain.StageTranscribe, domain.StagePIIDetect),
	}

	g, err := FromTasks(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statuses := map[domain.Stage]domain.TaskStatus{
		domain.StagePrepare:    domain.TaskStatusCompleted,
		domain.StageTranscribe: domain.TaskStatusCompleted,
		domain.StagePIIDetect:  domain.TaskStatusRunning,
		domain.StageMerge:      domain.TaskStatusPending,
	}

	if g.IsComplete(statuses) {
		t.Error("job with running task should not be complete")
	}

	// Optional task пропущен — job всё равно COMPLETED
	statuses[domain.StagePIIDetect] = domain.TaskStatusSkipped
	statuses[domain.StageMerge] = domain.TaskStatusCompleted

	if !g.IsComplete(statuses) {
		t.Error("job with all terminal tasks should be complete")
	}
	if got := g.Outcome(statuses); got != domain.JobStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got)
	}

	// Required task не COMPLETED — job FAILED
	statuses[domain.StageMerge] = domain.TaskStatusSkipped
	if got := g.Outcome(statuses); got != domain.JobStatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
}
