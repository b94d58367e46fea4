package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSessionCmd создаёт группу команд для управления live-сессиями.
func NewSessionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage live transcription sessions",
	}

	cmd.AddCommand(
		newSessionOpenCmd(clientFn, outputFn),
		newSessionShowCmd(clientFn, outputFn),
		newSessionActivateCmd(clientFn, outputFn),
		newSessionEndCmd(clientFn, outputFn),
	)

	return cmd
}

func newSessionOpenCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tenantID string
	var language string
	var model string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Allocate a live session on a free worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			binding, err := client.CreateSession(CreateSessionRequest{
				TenantID: tenantID,
				Language: language,
				Model:    model,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Session allocated: %s", binding.SessionID))
			out.Print(
				[]string{"SESSION_ID", "WORKER_ID", "ENDPOINT"},
				[][]string{{binding.SessionID, binding.WorkerID, binding.Endpoint}},
				binding,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&language, "language", "", "Required language")
	cmd.Flags().StringVar(&model, "model", "", "Required model")

	return cmd
}

func newSessionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show session details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sess, err := client.GetSession(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "WORKER_ID", "STATE", "END_REASON", "STARTED", "ENDED"},
				[][]string{{sess.ID, sess.WorkerID, sess.State, sess.EndReason, sess.StartedAt, sess.EndedAt}},
				sess,
			)
			return nil
		},
	}
}

func newSessionActivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "activate ID",
		Short: "Mark a session as active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.ActivateSession(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Session activated: %s", args[0]))
			return nil
		},
	}
}

func newSessionEndCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "end ID",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.EndSession(args[0], reason); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Session ended: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "End reason (default client_close)")

	return cmd
}
