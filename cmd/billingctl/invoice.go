package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"aquabill/internal/domain"
	"aquabill/internal/repository/postgres"
	"aquabill/internal/service"
)

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Guarded invoice operations",
	}

	cmd.AddCommand(invoiceActionCmd("show [invoice-id]", "Print an invoice", (*service.InvoiceService).GetInvoice))
	cmd.AddCommand(invoiceActionCmd("archive [invoice-id]", "Archive a paid invoice", (*service.InvoiceService).ArchiveInvoice))
	cmd.AddCommand(invoiceActionCmd("void [invoice-id]", "Void an unpaid invoice", (*service.InvoiceService).VoidInvoice))

	return cmd
}

type invoiceAction func(s *service.InvoiceService, ctx context.Context, id string) (*domain.Invoice, error)

func invoiceActionCmd(use, short string, action invoiceAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.Close()

			invoices := service.NewInvoiceService(postgres.NewInvoiceRepository(e.db), e.logger)

			invoice, err := action(invoices, cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("invoice %s: %w", args[0], err)
			}

			return printJSON(cmd.OutOrStdout(), invoice)
		},
	}
}
