package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"aquabill/internal/audit"
	"aquabill/internal/repository"
	"aquabill/internal/repository/postgres"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the payment ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [external-reference]",
		Short: "Print the ledger entry of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.Close()

			entry, err := postgres.NewLedgerRepository(e.db).GetByExternalReference(cmd.Context(), args[0])
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("no ledger entry for %s", args[0])
			}
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), entry)
		},
	})

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the payment audit trail",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [external-reference]",
		Short: "Print the audit records of a payment, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()

			store, err := audit.Open(cmd.Context(), e.cfg.Audit.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListByReference(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "no audit records for %s\n", args[0])
				return nil
			}

			return printJSON(cmd.OutOrStdout(), records)
		},
	})

	return cmd
}
