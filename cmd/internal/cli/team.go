package cli

import (
	"context"
	"errors"

	"teaminvite/cmd/internal/admin"
	"teaminvite/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Inspect and correct team seat counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List teams with seat usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				teams, err := a.Admin().ListTeams(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), teams)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sync <team-id>",
		Short: "Read seat usage from the external account and raise the counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Admin().SyncSeats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	})

	cmd.AddCommand(newRecalcCmd())
	cmd.AddCommand(newReleaseCmd())
	cmd.AddCommand(newCancelInvitesCmd())
	return cmd
}

func newCancelInvitesCmd() *cobra.Command {
	var emails []string

	cmd := &cobra.Command{
		Use:   "cancel-invites <team-id>",
		Short: "Withdraw pending external invitations (all of them without --email)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Admin().CancelPendingInvites(ctx, args[0], emails)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&emails, "email", nil, "invitation emails to withdraw")
	return cmd
}

func newRecalcCmd() *cobra.Command {
	count := -1

	cmd := &cobra.Command{
		Use:   "recalc <team-id>",
		Short: "Overwrite the seat counter (with --count, or from a fresh external reading)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n *int
			if cmd.Flags().Changed("count") {
				if count < 0 {
					return errors.New("--count must be >= 0")
				}
				n = &count
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Admin().Recalculate(ctx, args[0], n)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", -1, "authoritative seat count")
	return cmd
}

func newReleaseCmd() *cobra.Command {
	var (
		bookingIDs []string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "release <team-id>",
		Short: "Release bookings held by a team (all live bookings without --booking)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Admin().ReleaseBookings(ctx, args[0], admin.ReleaseInput{
					BookingIDs: bookingIDs,
					Reason:     reason,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&bookingIDs, "booking", nil, "booking ids to release")
	cmd.Flags().StringVar(&reason, "reason", "released by operator", "reason recorded on the bookings")
	return cmd
}
