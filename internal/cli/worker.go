package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewWorkerCmd создаёт группу команд для просмотра worker'ов.
func NewWorkerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Inspect transcription workers",
	}

	cmd.AddCommand(
		newWorkerListCmd(clientFn, outputFn),
		newWorkerShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workers, err := client.ListWorkers()
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "SESSIONS", "CAPACITY", "MODELS", "LAST_HEARTBEAT"}
			rows := make([][]string, len(workers))
			for i, w := range workers {
				rows[i] = []string{
					w.ID,
					w.Status,
					strconv.Itoa(w.ActiveSessions),
					strconv.Itoa(w.Capacity),
					strings.Join(w.Models, ","),
					w.LastHeartbeat,
				}
			}

			out.Print(headers, rows, workers)
			return nil
		},
	}
}

func newWorkerShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show worker details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			worker, err := client.GetWorker(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "ENDPOINT", "STATUS", "SESSIONS", "CAPACITY", "FREE", "LANGUAGES"},
				[][]string{{
					worker.ID,
					worker.Endpoint,
					worker.Status,
					strconv.Itoa(worker.ActiveSessions),
					strconv.Itoa(worker.Capacity),
					strconv.Itoa(worker.FreeCapacity),
					strings.Join(worker.Languages, ","),
				}},
				worker,
			)
			return nil
		},
	}
}
