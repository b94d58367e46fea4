package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage transcription jobs",
	}

	cmd.AddCommand(
		newJobListCmd(clientFn, outputFn),
		newJobSubmitCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobTasksCmd(clientFn, outputFn),
		newJobCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListJobs(limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "ERROR", "CREATED"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{j.ID, j.Status, j.Error, j.CreatedAt}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		tenantID       string
		language       string
		model          string
		wordTimestamps bool
		diarize        bool
		pii            bool
		redact         bool
		emotions       bool
		llmCleanup     bool
		maxRetries     int
	)

	cmd := &cobra.Command{
		Use:   "submit AUDIO_REF",
		Short: "Submit a transcription job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			params := map[string]any{
				"audio_ref": args[0],
				"language":  language,
			}
			if tenantID != "" {
				params["tenant_id"] = tenantID
			}
			if model != "" {
				params["model"] = model
			}
			if wordTimestamps {
				params["word_timestamps"] = true
			}
			if diarize {
				params["speaker_detection"] = "diarize"
			}
			if pii {
				params["pii_detection"] = true
			}
			if redact {
				params["redact_pii_audio"] = true
			}
			if emotions {
				params["emotion_detection"] = true
			}
			if llmCleanup {
				params["llm_cleanup"] = true
			}
			if maxRetries > 0 {
				params["max_retries"] = maxRetries
			}

			job, err := client.CreateJob(params)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job submitted: %s", job.ID))
			out.Print(
				[]string{"ID", "STATUS", "CREATED"},
				[][]string{{job.ID, job.Status, job.CreatedAt}},
				job,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&language, "language", "en", "Audio language (BCP-47)")
	cmd.Flags().StringVar(&model, "model", "", "Transcription model")
	cmd.Flags().BoolVar(&wordTimestamps, "word-timestamps", false, "Produce word-level timestamps")
	cmd.Flags().BoolVar(&diarize, "diarize", false, "Enable speaker diarization")
	cmd.Flags().BoolVar(&pii, "pii", false, "Detect personally identifiable information")
	cmd.Flags().BoolVar(&redact, "redact", false, "Redact PII from audio (requires --pii)")
	cmd.Flags().BoolVar(&emotions, "emotions", false, "Detect emotions and audio events")
	cmd.Flags().BoolVar(&llmCleanup, "llm-cleanup", false, "Clean up transcript with LLM")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Per-task retry limit (0 = server default)")

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "STATUS", "ERROR", "STARTED", "FINISHED", "CREATED"},
				[][]string{{job.ID, job.Status, job.Error, job.StartedAt, job.FinishedAt, job.CreatedAt}},
				job,
			)
			return nil
		},
	}
}

func newJobTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks JOB_ID",
		Short: "List tasks in a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "STAGE", "ENGINE", "STATUS", "ATTEMPT", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{t.ID, t.Stage, t.EngineID, t.Status, strconv.Itoa(t.Attempt), t.Error}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

func newJobCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.CancelJob(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job cancelled: %s", job.ID))
			return nil
		},
	}
}
