package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"queuectl/jobqueue"
	"queuectl/shell"
)

func workerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage worker processes",
	}

	var count int
	start := &cobra.Command{
		Use:   "start",
		Short: "Start detached worker processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sup, err := a.supervisor()
			if err != nil {
				return err
			}
			pids, err := sup.Start(cmd.Context(), count)
			if err != nil {
				return err
			}
			strs := make([]string, len(pids))
			for i, p := range pids {
				strs[i] = itoa(p)
			}
			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "Started %s. PIDs: %s\n", fmtCount(len(pids), "worker"), strings.Join(strs, ", "))
			color.New(color.FgHiBlack).Fprintf(out, "   Output: %s\n", a.cfg.LogFile())
			return nil
		},
	}
	start.Flags().IntVarP(&count, "count", "c", 1, "number of workers")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop every running worker after its current job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sup, err := a.supervisor()
			if err != nil {
				return err
			}
			n, err := sup.Stop(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if n == 0 {
				color.New(color.FgYellow).Fprintln(out, "No workers are running.")
				return nil
			}
			color.New(color.FgGreen).Fprintf(out, "Signalled %s to stop.\n", fmtCount(n, "worker"))
			return nil
		},
	}

	run := &cobra.Command{
		Use:    "run",
		Short:  "Run a worker in the foreground until SIGINT or SIGTERM",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			w := jobqueue.NewWorker(a.q, a.reg, shell.New(), jobqueue.WorkerConfig{
				PollInterval:   a.cfg.PollInterval,
				CommandTimeout: a.cfg.CommandTimeout,
				OrphanAfter:    a.cfg.OrphanAfter,
				Logger:         a.logger(),
			})
			return w.Run(ctx)
		},
	}

	cmd.AddCommand(start, stop, run)
	return cmd
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
