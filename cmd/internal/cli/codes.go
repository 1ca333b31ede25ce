package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"teaminvite/cmd/internal/app"
	"teaminvite/cmd/internal/invite"

	"github.com/spf13/cobra"
)

func newCodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Issue and revoke redemption codes",
	}
	cmd.AddCommand(newCodesCreateCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <code-id>",
		Short: "Revoke an unconsumed code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				c, err := a.Admin().RevokeCode(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	})
	return cmd
}

func newCodesCreateCmd() *cobra.Command {
	var (
		count int
		ttl   time.Duration
		note  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create codes and print them once, one per line as <id> <code>",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := invite.CreateInput{Count: count, TTL: ttl}
			if n := strings.TrimSpace(note); n != "" {
				in.Note = &n
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				issued, err := a.Admin().CreateCodes(ctx, in)
				if err != nil {
					return err
				}
				for _, is := range issued {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", is.Code.ID, is.Plain)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of codes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "code lifetime (default 720h)")
	cmd.Flags().StringVar(&note, "note", "", "note stored with every code")
	return cmd
}
