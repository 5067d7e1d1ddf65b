package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aquabill/internal/repository/postgres"
)

func migrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the billing schema to PostgreSQL",
		Long: `Apply the billing schema to PostgreSQL.

Statements are idempotent, so migrate can be run on every deploy.
The schema includes the trigger that rejects changes to paid invoices.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				for _, stmt := range postgres.Migrations() {
					fmt.Fprintln(cmd.OutOrStdout(), stmt+";")
				}
				return nil
			}

			e, err := newEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := postgres.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "applied %d statements to %s\n", len(postgres.Migrations()), e.cfg.Database.DBName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the statements without executing them")

	return cmd
}
