package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskShowCmd(clientFn, outputFn),
		newTaskRetryCmd(clientFn, outputFn),
		newTaskDispatchesCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			retries := fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries)
			out.Print(
				[]string{"ID", "REQUEST_ID", "KEY", "ROLE", "STATUS", "RETRIES", "OUTPUT_URL", "ERROR"},
				[][]string{{task.ID, task.RequestID, task.Key, task.Role, task.Status, retries, task.OutputURL, task.Error}},
				task,
			)
			return nil
		},
	}
}

func newTaskRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Retry a failed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.RetryTask(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task %s retried, status: %s", task.ID, task.Status))
			return nil
		},
	}
}

func newTaskDispatchesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatches TASK_ID",
		Short: "List provider dispatch records of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			records, err := client.ListDispatches(args[0])
			if err != nil {
				return err
			}

			headers := []string{"JOB_ID", "PROVIDER", "STATUS", "COST_CENTS", "CREATED"}
			rows := make([][]string, len(records))
			for i, rec := range records {
				rows[i] = []string{rec.ExternalJobID, rec.Provider, rec.Status, strconv.FormatInt(rec.CostCents, 10), rec.CreatedAt}
			}

			out.Print(headers, rows, records)
			return nil
		},
	}
}
