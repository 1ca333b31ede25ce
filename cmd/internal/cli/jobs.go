package cli

import (
	"context"

	"teaminvite/cmd/internal/app"
	"teaminvite/cmd/internal/jobs"

	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run a background job once",
	}
	for name, run := range map[string]func(*jobs.Scheduler, context.Context) jobs.Report{
		"sync":    (*jobs.Scheduler).RunSync,
		"refresh": (*jobs.Scheduler).RunRefresh,
		"repair":  (*jobs.Scheduler).RunRepair,
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: "Run the " + name + " job once and print its report",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					return printJSON(cmd.OutOrStdout(), run(a.Jobs(), ctx))
				})
			},
		})
	}
	return cmd
}
