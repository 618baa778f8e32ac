package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"queuectl/jobqueue"
)

type jobSpec struct {
	// ID is only a display label; the queue assigns its own id.
	ID      string
	Command string
}

// parseJobSpec accepts JSON, or a YAML flow mapping for shells that strip quotes.
func parseJobSpec(raw string) (jobSpec, error) {
	raw = strings.TrimSpace(raw)
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		if yerr := yaml.Unmarshal([]byte(raw), &m); yerr != nil || m == nil {
			return jobSpec{}, fmt.Errorf(`invalid job JSON, expected '{"id":"job1","command":"sleep 2"}'`)
		}
	}

	spec := jobSpec{}
	if v, ok := m["id"]; ok && v != nil {
		spec.ID = fmt.Sprint(v)
	}
	if v, ok := m["command"]; ok && v != nil {
		spec.Command = fmt.Sprint(v)
	}
	if strings.TrimSpace(spec.Command) == "" {
		return jobSpec{}, fmt.Errorf(`job JSON must contain a "command" field`)
	}
	return spec, nil
}

func enqueueCmd(a *app) *cobra.Command {
	var (
		priority   string
		maxRetries int
	)
	cmd := &cobra.Command{
		Use:   "enqueue <jobJson>",
		Short: "Add a job to the queue",
		Example: `  queuectl enqueue '{"id":"job1","command":"sleep 2"}'
  queuectl enqueue '{"command":"make test"}' -p high -r 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := parseJobSpec(args[0])
			if err != nil {
				return err
			}

			var override *int
			if cmd.Flags().Changed("max-retries") {
				override = &maxRetries
			}
			job, err := a.q.Enqueue(cmd.Context(), spec.Command, jobqueue.Priority(priority), override)
			if err != nil {
				return err
			}

			label := spec.ID
			if label == "" {
				label = shortID(job.ID)
			}
			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "Job enqueued with ID: %s\n", label)
			fmt.Fprintf(out, "   Full ID: %s\n", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&priority, "priority", "p", string(jobqueue.PriorityMedium), "job priority: low, medium or high")
	cmd.Flags().IntVarP(&maxRetries, "max-retries", "r", 0, "override the configured max retries")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	var (
		state  string
		asJSON bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.q.GetByState(cmd.Context(), jobqueue.State(state))
			if err != nil {
				return err
			}
			if asJSON {
				output = outputJSON
			}
			out := cmd.OutOrStdout()
			return printAs(out, output, jobs, func() {
				if len(jobs) == 0 {
					color.New(color.FgYellow).Fprintln(out, "No jobs found.")
					return
				}
				printJobs(out, jobs)
			})
		},
	}
	cmd.Flags().StringVarP(&state, "state", "s", string(jobqueue.StateAll), "pending, processing, completed, failed, dead or all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "table, json or yaml")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and the live workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			summary, err := a.q.StatusSummary(ctx)
			if err != nil {
				return err
			}
			workers, err := a.reg.List(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.FgBlue, color.Bold)

			bold.Fprintln(out, "Queue Status Summary")
			rows := make([][]string, 0, len(jobqueue.States))
			for _, s := range jobqueue.States {
				rows = append(rows, []string{coloredState(s), fmt.Sprint(summary[s])})
			}
			printTable(out, []string{"State", "Count"}, rows)

			bold.Fprintln(out, "\nWorker Status")
			if len(workers) == 0 {
				color.New(color.FgYellow).Fprintln(out, "No workers are running.")
				return nil
			}
			color.New(color.FgGreen).Fprintf(out, "%d worker(s) running.\n", len(workers))
			printWorkers(out, workers)
			return nil
		},
	}
}

func logsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id>",
		Short: "Print the log of a job (id or id prefix)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.q.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job with ID matching %q not found", args[0])
			}

			out := cmd.OutOrStdout()
			gray := color.New(color.FgHiBlack)
			color.New(color.FgBlue, color.Bold).Fprintf(out, "Logs for Job %s\n", job.ID)
			gray.Fprintf(out, "   Command: %s\n", job.Command)
			gray.Fprintf(out, "   State: %s\n", job.State)
			fmt.Fprintln(out, strings.Repeat("-", 40))
			if len(job.Log) == 0 {
				color.New(color.FgYellow).Fprintln(out, "No logs found for this job.")
			}
			for _, line := range job.Log {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, strings.Repeat("-", 40))
			return nil
		},
	}
}

func dlqCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry dead jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.q.GetByState(cmd.Context(), jobqueue.StateDead)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				color.New(color.FgGreen).Fprintln(out, "The dead letter queue is empty.")
				return nil
			}
			printJobs(out, jobs)
			return nil
		},
	}

	retry := &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a dead job back to pending with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.q.RetryDeadJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("no dead job matching %q", args[0])
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Job %s moved back to pending.\n", job.ID)
			return nil
		},
	}

	cmd.AddCommand(list, retry)
	return cmd
}
