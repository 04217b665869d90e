package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewClusterCmd создаёт группу команд для состояния кластера.
func NewClusterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Inspect the cluster",
	}

	cmd.AddCommand(newClusterStatusCmd(clientFn, outputFn))
	return cmd
}

func newClusterStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show leader and jobs held by the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := clientFn().ClusterStatus()
			if err != nil {
				return err
			}

			out := outputFn()
			if out.JSONMode() {
				out.JSON(status)
				return nil
			}

			leader := status.Leader
			if leader == "" {
				leader = "(none)"
			}

			waiting := make([]string, len(status.WaitingJobs))
			for i, id := range status.WaitingJobs {
				waiting[i] = strconv.FormatInt(id, 10)
			}

			out.Table(
				[]string{"NODE", "LEADER", "IS_LEADER", "QUEUES", "WAITING"},
				[][]string{{
					status.NodeID,
					leader,
					strconv.FormatBool(status.IsLeader),
					strings.Join(status.Queues, ","),
					fmt.Sprintf("%d", len(status.WaitingJobs)),
				}},
			)

			if len(waiting) > 0 {
				out.Section("Waiting jobs: " + strings.Join(waiting, ", "))
			}

			if len(status.Recurring) > 0 {
				out.Section("Recurring jobs:")
				rows := make([][]string, len(status.Recurring))
				for i, r := range status.Recurring {
					sched := r.CronExpr
					if sched == "" {
						sched = fmt.Sprintf("every %ds", r.IntervalSec)
					}
					next := r.NextDueAt
					if next == "" {
						next = "-"
					}
					rows[i] = []string{r.Name, sched, r.Kind, r.Queue, next}
				}
				out.Table([]string{"RECURRING", "SCHEDULE", "KIND", "QUEUE", "NEXT_DUE"}, rows)
			}
			return nil
		},
	}
}
