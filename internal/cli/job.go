package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления задачами.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scheduled jobs",
	}

	cmd.AddCommand(
		newJobScheduleCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobCancelCmd(clientFn, outputFn),
		newJobRescheduleCmd(clientFn, outputFn),
	)

	return cmd
}

var jobHeaders = []string{"ID", "KIND", "QUEUE", "RUN_AT", "STATE"}

func jobRow(j *JobResponse) []string {
	state := j.LocalState
	if state == "" {
		state = "-"
	}
	return []string{strconv.FormatInt(j.ID, 10), j.Kind, j.Queue, j.RunAt, state}
}

// timeFlags — общие флаги --at и --in.
type timeFlags struct {
	at string
	in time.Duration
}

func (f *timeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.at, "at", "", "Run time in RFC3339 (e.g. 2026-01-02T15:04:05Z)")
	cmd.Flags().DurationVar(&f.in, "in", 0, "Run after this delay (e.g. 90s, 5m)")
}

// resolve возвращает run_at или delay_sec для запроса.
func (f *timeFlags) resolve(cmd *cobra.Command) (*time.Time, *float64, error) {
	atSet := f.at != ""
	inSet := cmd.Flags().Changed("in")

	switch {
	case atSet && inSet:
		return nil, nil, fmt.Errorf("--at and --in are mutually exclusive")
	case atSet:
		t, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --at: %w", err)
		}
		return &t, nil, nil
	case inSet:
		sec := f.in.Seconds()
		return nil, &sec, nil
	}
	return nil, nil, nil
}

func newJobScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var payload string
	var payloadFile string
	var queue string
	var when timeFlags

	cmd := &cobra.Command{
		Use:   "schedule KIND",
		Short: "Schedule a job",
		Long: `Schedule a job of the given kind.

Without --at or --in the job runs as soon as a node claims it.

Examples:
  quorum job schedule log --payload '{"message":"hello"}' --in 5m
  quorum job schedule webhook --payload-file hook.json --at 2026-01-02T09:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ScheduleJobRequest{Kind: args[0], Queue: queue}

			raw, err := readPayload(payload, payloadFile)
			if err != nil {
				return err
			}
			req.Payload = raw

			req.RunAt, req.DelaySec, err = when.resolve(cmd)
			if err != nil {
				return err
			}

			job, err := client.ScheduleJob(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job scheduled: %d", job.ID))
			out.Print(jobHeaders, [][]string{jobRow(job)}, job)
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Job payload as JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Path to JSON file with job payload")
	cmd.Flags().StringVar(&queue, "queue", "", "Queue (default queue if not specified)")
	when.register(cmd)

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			job, err := clientFn().GetJob(id)
			if err != nil {
				return err
			}

			out := outputFn()
			if out.JSONMode() {
				out.JSON(job)
				return nil
			}

			out.Table(jobHeaders, [][]string{jobRow(job)})
			if len(job.Payload) > 0 {
				data, _ := json.MarshalIndent(job.Payload, "", "  ")
				out.Section("Payload:")
				out.Linef("%s", data)
			}
			return nil
		},
	}
}

func newJobCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a job on every node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			resp, err := clientFn().CancelJob(id)
			if err != nil {
				return err
			}

			out := outputFn()
			if out.JSONMode() {
				out.JSON(resp)
				return nil
			}
			out.Success(fmt.Sprintf("Job %d canceled", resp.ID))
			return nil
		},
	}
}

func newJobRescheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var when timeFlags

	cmd := &cobra.Command{
		Use:   "reschedule ID",
		Short: "Move a job to a new run time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var req RescheduleJobRequest
			req.RunAt, req.DelaySec, err = when.resolve(cmd)
			if err != nil {
				return err
			}
			if req.RunAt == nil && req.DelaySec == nil {
				return fmt.Errorf("--at or --in is required")
			}

			resp, err := clientFn().RescheduleJob(id, req)
			if err != nil {
				return err
			}

			out := outputFn()
			if out.JSONMode() {
				out.JSON(resp)
				return nil
			}
			out.Success(fmt.Sprintf("Job %d rescheduled to %s", resp.ID, resp.RunAt))
			return nil
		},
	}

	when.register(cmd)
	return cmd
}

// readPayload читает JSON из флага или файла.
func readPayload(inline, file string) (json.RawMessage, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	}

	data := []byte(inline)
	if file != "" {
		var err error
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}
