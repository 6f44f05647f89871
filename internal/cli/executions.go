package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newExecutionsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List recorded job executions",
		Long: `List recorded job executions, newest first. Without a database the
history only covers the current process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.teardown()
			executions, err := a.repo.List(cmd.Context(), limit, 0)
			if err != nil {
				return fmt.Errorf("list executions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(executions) == 0 {
				fmt.Fprintln(out, "No executions found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tREAD\tWRITTEN\tSKIPPED\tOFFSET\tSTARTED\tFAILURE")
			for _, execution := range executions {
				failure := ""
				if execution.FailureKind != nil {
					failure = *execution.FailureKind
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					execution.ID,
					execution.Status,
					execution.Progress.ReadCount,
					execution.Progress.WriteCount,
					execution.Progress.SkipCount,
					execution.StartOffset,
					execution.StartedAt.Format(time.RFC3339),
					failure,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of executions to show")
	return cmd
}
