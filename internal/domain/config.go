package domain

import "fmt"

// StageConfig — tagged union конфигураций stage'ей.
//
// Ровно одно из полей-вариантов должно быть заполнено, и оно должно
// соответствовать Stage. Валидируется при построении DAG, а не в engine —
// некорректная комбинация параметров отклоняется до создания tasks.
type StageConfig struct {
	// Stage — дискриминатор union.
	Stage Stage `json:"stage"`

	Prepare       *PrepareConfig       `json:"prepare,omitempty"`
	Transcribe    *TranscribeConfig    `json:"transcribe,omitempty"`
	Align         *AlignConfig         `json:"align,omitempty"`
	Diarize       *DiarizeConfig       `json:"diarize,omitempty"`
	PIIDetect     *PIIDetectConfig     `json:"pii_detect,omitempty"`
	EmotionDetect *EmotionDetectConfig `json:"emotion_detect,omitempty"`
	LLMCleanup    *LLMCleanupConfig    `json:"llm_cleanup,omitempty"`
	AudioRedact   *AudioRedactConfig   `json:"audio_redact,omitempty"`
	Merge         *MergeConfig         `json:"merge,omitempty"`
}

// PrepareConfig — нормализация и нарезка исходного аудио.
type PrepareConfig struct {
	// AudioRef — ссылка на исходную запись.
	AudioRef string `json:"audio_ref"`

	// SampleRate — целевая частота дискретизации (Hz). 0 — default engine'а.
	SampleRate int `json:"sample_rate,omitempty"`
}

// TranscribeConfig — распознавание речи.
type TranscribeConfig struct {
	Language string `json:"language"`
	Model    string `json:"model,omitempty"`
}

// AlignConfig — пословное выравнивание таймстемпов.
type AlignConfig struct {
	Language string `json:"language"`
}

// DiarizeConfig — определение спикеров.
type DiarizeConfig struct {
	// MinSpeakers/MaxSpeakers — подсказки модели. 0 — без ограничения.
	MinSpeakers int `json:"min_speakers,omitempty"`
	MaxSpeakers int `json:"max_speakers,omitempty"`
}

// PIIDetectConfig — детекция персональных данных в транскрипте.
type PIIDetectConfig struct {
	// Entities — типы сущностей для поиска. Пусто — все поддерживаемые.
	Entities []string `json:"entities,omitempty"`
}

// EmotionDetectConfig — детекция эмоций и аудио-событий.
type EmotionDetectConfig struct {
	// Events — типы событий (laughter, applause...). Пусто — все.
	Events []string `json:"events,omitempty"`
}

// LLMCleanupConfig — LLM-очистка транскрипта.
type LLMCleanupConfig struct {
	// Style — стиль очистки: "readability" (default) или "verbatim".
	Style string `json:"style,omitempty"`
}

// AudioRedactConfig — вырезание PII из аудио-дорожки.
type AudioRedactConfig struct {
	// Mode — способ замещения: "silence" (default) или "beep".
	Mode string `json:"mode,omitempty"`
}

// MergeConfig — сборка финального результата из всех веток.
type MergeConfig struct {
	// Format — формат итогового артефакта. Default: "json".
	Format string `json:"format,omitempty"`
}

// Validate проверяет, что заполнен ровно тот вариант, который задан Stage.
func (c *StageConfig) Validate() error {
	variants := map[Stage]bool{
		StagePrepare:       c.Prepare != nil,
		StageTranscribe:    c.Transcribe != nil,
		StageAlign:         c.Align != nil,
		StageDiarize:       c.Diarize != nil,
		StagePIIDetect:     c.PIIDetect != nil,
		StageEmotionDetect: c.EmotionDetect != nil,
		StageLLMCleanup:    c.LLMCleanup != nil,
		StageAudioRedact:   c.AudioRedact != nil,
		StageMerge:         c.Merge != nil,
	}

	set, known := variants[c.Stage]
	if !known {
		return fmt.Errorf("unknown stage %q", c.Stage)
	}
	if !set {
		return fmt.Errorf("stage %q: config variant not set", c.Stage)
	}

	// Остальные варианты должны быть пустыми
	for stage, present := range variants {
		if stage != c.Stage && present {
			return fmt.Errorf("stage %q: extra config variant %q", c.Stage, stage)
		}
	}

	return nil
}
