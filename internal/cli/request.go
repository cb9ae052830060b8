package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRequestCmd создаёт группу команд для управления заявками.
func NewRequestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Manage content requests",
	}

	cmd.AddCommand(
		newRequestListCmd(clientFn, outputFn),
		newRequestCreateCmd(clientFn, outputFn),
		newRequestShowCmd(clientFn, outputFn),
		newRequestProcessCmd(clientFn, outputFn),
		newRequestCancelCmd(clientFn, outputFn),
		newRequestTasksCmd(clientFn, outputFn),
		newRequestEventsCmd(clientFn, outputFn),
		newRequestCostCmd(clientFn, outputFn),
	)

	return cmd
}

func newRequestListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var orgID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			requests, err := client.ListRequests(ListRequestsOpts{
				OrgID:  orgID,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "STATUS", "ORG", "CREATED"}
			rows := make([][]string, len(requests))
			for i, r := range requests {
				rows[i] = []string{r.ID, r.Type, r.Status, r.OrgID, r.CreatedAt}
			}

			out.Print(headers, rows, requests)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org-id", "", "Filter by organization")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (INTAKE, DRAFT, PRODUCTION, QA, PUBLISHED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRequestCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reqType string
	var orgID string
	var brief []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new request",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateRequestRequest{
				Type:      reqType,
				OrgID:     orgID,
				CreatedBy: "cli",
			}

			if len(brief) > 0 {
				req.Brief = make(map[string]any)
				for _, kv := range brief {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid brief format %q, expected KEY=VALUE", kv)
					}
					req.Brief[parts[0]] = parts[1]
				}
			}

			created, err := client.CreateRequest(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Request created: %s", created.ID))
			out.Print(
				[]string{"ID", "TYPE", "STATUS", "ORG", "CREATED"},
				[][]string{{created.ID, created.Type, created.Status, created.OrgID, created.CreatedAt}},
				created,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&reqType, "type", "", "Content type (image, video, video_voice)")
	cmd.Flags().StringVar(&orgID, "org-id", "", "Organization ID")
	cmd.Flags().StringSliceVar(&brief, "brief", nil, "Brief values as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("org-id")

	return cmd
}

func newRequestShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show request details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := client.GetRequest(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "TYPE", "STATUS", "ORG", "CREATED_BY", "CREATED", "UPDATED"},
				[][]string{{req.ID, req.Type, req.Status, req.OrgID, req.CreatedBy, req.CreatedAt, req.UpdatedAt}},
				req,
			)
			return nil
		},
	}
}

func newRequestProcessCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "process ID",
		Short: "Run one orchestration step for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.ProcessRequest(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Request %s is now %s", result.ID, result.Status))
			return nil
		},
	}
}

func newRequestCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := client.CancelRequest(args[0], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Request cancelled: %s", req.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

func newRequestTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks REQUEST_ID",
		Short: "List tasks of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "KEY", "ROLE", "STATUS", "RETRIES", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				retries := fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries)
				rows[i] = []string{t.ID, t.Key, t.Role, t.Status, retries, t.Error}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

func newRequestEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "events REQUEST_ID",
		Short: "Show the audit trail of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListEvents(args[0])
			if err != nil {
				return err
			}

			headers := []string{"TIME", "TYPE", "ACTOR", "DESCRIPTION"}
			rows := make([][]string, len(events))
			for i, e := range events {
				rows[i] = []string{e.CreatedAt, e.Type, e.Actor, e.Description}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}
}

func newRequestCostCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cost REQUEST_ID",
		Short: "Show the total provider cost of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			cost, err := client.GetCost(args[0])
			if err != nil {
				return err
			}

			dollars := float64(cost.TotalCostCents) / 100
			out.Print(
				[]string{"REQUEST_ID", "TOTAL_COST"},
				[][]string{{cost.RequestID, strconv.FormatFloat(dollars, 'f', 2, 64) + " USD"}},
				cost,
			)
			return nil
		},
	}
}
