package cli

import (
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change the shared queue configuration",
	}

	var output string
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.q.Config(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return printAs(out, output, cfg, func() {
				printKeyValueTable(out, [][]string{
					{"maxRetries", strconv.Itoa(cfg.MaxRetries)},
					{"backoffBase", strconv.FormatFloat(cfg.BackoffBase, 'f', -1, 64)},
				})
			})
		},
	}
	get.Flags().StringVarP(&output, "output", "o", outputTable, "table, json or yaml")

	set := &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set maxRetries (max-retries) or backoffBase (backoff-base)",
		Example: "  queuectl config set max-retries 5\n  queuectl config set backoff-base 3",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.q.SetConfig(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}
