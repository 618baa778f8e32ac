package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"queuectl/jobqueue"
	"queuectl/server"
)

func reapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Requeue processing jobs whose worker is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reaped, err := jobqueue.ReapOnce(cmd.Context(), a.q, a.reg, a.cfg.OrphanAfter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reaped) == 0 {
				color.New(color.FgGreen).Fprintln(out, "No orphaned jobs.")
				return nil
			}
			for _, j := range reaped {
				a.log.Info().Str("job", j.ID).Int("attempts", j.Attempts).Msg("requeued orphaned job")
			}
			color.New(color.FgYellow).Fprintf(out, "Requeued %s.\n", fmtCount(len(reaped), "job"))
			return nil
		},
	}
}

func serveCmd(a *app) *cobra.Command {
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sup, err := a.supervisor()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			srv := server.New(a.q, sup, server.Options{
				AllowedOrigins: origins,
				Logger:         a.logger(),
			})
			return srv.Serve(ctx, a.cfg.HTTPAddr)
		},
	}
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origins (default any)")
	return cmd
}
