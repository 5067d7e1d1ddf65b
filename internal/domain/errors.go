package domain

import "errors"

// Domain errors are pure; no infrastructure dependency.
var (
	// ErrInvoiceAlreadyPaid is returned by MarkPaid on an invoice that is
	// already paid. Reconciliation treats it as a skip, not a failure.
	ErrInvoiceAlreadyPaid = errors.New("invoice already paid")

	// ErrInvoiceNotPayable is returned when an invoice is neither pending nor overdue.
	ErrInvoiceNotPayable = errors.New("invoice not payable in current state")

	// ErrInvoiceNotPaid is returned when archiving an invoice that is not paid.
	ErrInvoiceNotPaid = errors.New("only paid invoices can be archived")

	// ErrInvoiceImmutable is returned on any attempt to change or delete a paid invoice.
	ErrInvoiceImmutable = errors.New("paid invoice is immutable")
)
