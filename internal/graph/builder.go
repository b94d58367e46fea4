package graph

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Vocata/internal/domain"
)

// defaultMaxRetries — лимит retry на task, если не задан в параметрах.
const defaultMaxRetries = 3

// SpeakerDetection режимы.
const (
	SpeakerModeNone    = "none"
	SpeakerModeDiarize = "diarize"
)

// Build строит упорядоченный набор tasks для job из его параметров.
//
// Структурные правила:
//   - prepare создаётся всегда, без зависимостей;
//   - transcribe зависит только от prepare;
//   - align (если word_timestamps) зависит от transcribe;
//   - diarize (если speaker_detection=diarize) зависит от prepare,
//     выполняется параллельно align;
//   - enrichment tasks (pii_detect, emotion_detect, llm_cleanup)
//     зависят от нужных им веток, required=false, параллельны друг другу;
//   - audio_redact зависит от завершения pii_detect;
//   - merge создаётся всегда последним и зависит от каждого созданного
//     task'а — он всегда наблюдает финальное состояние каждой ветки.
//
// Порядок в результате — порядок вставки (Seq), он же порядок dispatch
// внутри готового набора.
//
// Форма результата (stages, зависимости, порядок, required-флаги)
// детерминирована параметрами; ID tasks и метки времени назначаются
// заново при каждом вызове.
func Build(jobID uuid.UUID, params domain.JobParams) ([]domain.Task, error) {
	if err := validate(params); err != nil {
		return nil, err
	}

	maxRetries := params.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	b := &builder{
		jobID:      jobID,
		maxRetries: maxRetries,
		now:        time.Now(),
	}

	// prepare — корень DAG
	b.add(domain.StagePrepare, true, domain.StageConfig{
		Stage: domain.StagePrepare,
		Prepare: &domain.PrepareConfig{
			AudioRef: params.AudioRef,
		},
	})

	b.add(domain.StageTranscribe, true, domain.StageConfig{
		Stage: domain.StageTranscribe,
		Transcribe: &domain.TranscribeConfig{
			Language: params.Language,
			Model:    params.Model,
		},
	}, domain.StagePrepare)

	// textRoot — ветка, на которой стоит самый точный текст
	textRoot := domain.StageTranscribe
	if params.WordTimestamps {
		b.add(domain.StageAlign, true, domain.StageConfig{
			Stage: domain.StageAlign,
			Align: &domain.AlignConfig{Language: params.Language},
		}, domain.StageTranscribe)
		textRoot = domain.StageAlign
	}

	if params.SpeakerDetection == SpeakerModeDiarize {
		b.add(domain.StageDiarize, true, domain.StageConfig{
			Stage:   domain.StageDiarize,
			Diarize: &domain.DiarizeConfig{},
		}, domain.StagePrepare)
	}

	if params.PIIDetection {
		deps := []domain.Stage{textRoot}
		if params.SpeakerDetection == SpeakerModeDiarize {
			deps = append(deps, domain.StageDiarize)
		}
		b.add(domain.StagePIIDetect, false, domain.StageConfig{
			Stage:     domain.StagePIIDetect,
			PIIDetect: &domain.PIIDetectConfig{},
		}, deps...)
	}

	if params.EmotionDetection {
		b.add(domain.StageEmotionDetect, false, domain.StageConfig{
			Stage:         domain.StageEmotionDetect,
			EmotionDetect: &domain.EmotionDetectConfig{},
		}, textRoot)
	}

	if params.LLMCleanup {
		b.add(domain.StageLLMCleanup, false, domain.StageConfig{
			Stage:      domain.StageLLMCleanup,
			LLMCleanup: &domain.LLMCleanupConfig{},
		}, textRoot)
	}

	if params.RedactPIIAudio {
		// Зависит от завершения pii_detect, не просто от его планирования
		b.add(domain.StageAudioRedact, false, domain.StageConfig{
			Stage:       domain.StageAudioRedact,
			AudioRedact: &domain.AudioRedactConfig{},
		}, domain.StagePIIDetect)
	}

	// merge зависит от каждого созданного task'а
	allStages := make([]domain.Stage, 0, len(b.tasks))
	for i := range b.tasks {
		allStages = append(allStages, b.tasks[i].Stage)
	}
	b.add(domain.StageMerge, true, domain.StageConfig{
		Stage: domain.StageMerge,
		Merge: &domain.MergeConfig{},
	}, allStages...)

	// Построенный набор обязан быть ацикличным — проверяем так же,
	// как при восстановлении из хранилища
	if _, err := FromTasks(b.tasks); err != nil {
		return nil, err
	}

	return b.tasks, nil
}

// validate проверяет комбинацию параметров job.
func validate(params domain.JobParams) error {
	if params.AudioRef == "" {
		return NewValidationError("audio_ref", "audio reference is required", ErrMissingAudioRef)
	}
	if params.Language == "" {
		return NewValidationError("language", "language is required", ErrMissingLanguage)
	}
	if params.MaxRetries < 0 {
		return NewValidationError("max_retries", "must not be negative", ErrNegativeRetries)
	}

	switch params.SpeakerDetection {
	case "", SpeakerModeNone, SpeakerModeDiarize:
	default:
		return NewValidationError("speaker_detection",
			"must be \"none\" or \"diarize\"", ErrUnknownSpeakerMode)
	}

	if params.RedactPIIAudio && !params.PIIDetection {
		return NewValidationError("redact_pii_audio",
			"requires pii_detection to be enabled", ErrRedactWithoutPII)
	}

	return nil
}

// builder накапливает tasks в порядке вставки.
type builder struct {
	jobID      uuid.UUID
	maxRetries int
	now        time.Time
	tasks      []domain.Task
}

// add добавляет task со следующим Seq.
func (b *builder) add(stage domain.Stage, required bool, config domain.StageConfig, deps ...domain.Stage) {
	b.tasks = append(b.tasks, domain.Task{
		ID:         uuid.New(),
		JobID:      b.jobID,
		Stage:      stage,
		EngineID:   EngineIDFor(stage),
		DependsOn:  deps,
		Required:   required,
		Seq:        len(b.tasks),
		Status:     domain.TaskStatusPending,
		MaxRetries: b.maxRetries,
		Config:     config,
		CreatedAt:  b.now,
	})
}

// EngineIDFor возвращает идентификатор engine-пула для stage.
// Один логический engine на stage; очередь — "engine.<engine_id>".
func EngineIDFor(stage domain.Stage) string {
	return string(stage)
}
