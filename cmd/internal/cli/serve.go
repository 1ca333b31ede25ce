package cli

import (
	"errors"

	"teaminvite/cmd/internal/app"
	"teaminvite/cmd/internal/migrate"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Serve(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			if printOnly {
				ddl, err := migrate.SQL(cfg.DBSchema)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write([]byte(ddl))
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("TEAMINVITE_DATABASE_URL is not set")
			}

			cfg.AutoMigrate = false
			pool, err := app.NewDBPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := migrate.Apply(cmd.Context(), pool, cfg.DBSchema); err != nil {
				return err
			}
			cmd.Printf("schema %q is up to date\n", cfg.DBSchema)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}
