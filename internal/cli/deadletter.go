package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDeadLetterCmd создаёт группу команд для работы с dead letters.
func NewDeadLetterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect and requeue dead letters",
	}

	cmd.AddCommand(
		newDeadLetterListCmd(clientFn, outputFn),
		newDeadLetterRequeueCmd(clientFn, outputFn),
	)

	return cmd
}

func newDeadLetterListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			letters, err := client.ListDeadLetters(limit)
			if err != nil {
				return err
			}

			headers := []string{"TASK_ID", "REQUEST_ID", "KEY", "ROLE", "ATTEMPTS", "REASON", "CREATED"}
			rows := make([][]string, len(letters))
			for i, dl := range letters {
				rows[i] = []string{dl.TaskID, dl.RequestID, dl.Key, dl.Role, strconv.Itoa(dl.Attempts), dl.Reason, dl.CreatedAt}
			}

			out.Print(headers, rows, letters)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newDeadLetterRequeueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue TASK_ID",
		Short: "Requeue a dead-lettered task with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.RequeueDeadLetter(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task %s requeued, status: %s", task.ID, task.Status))
			return nil
		},
	}
}
