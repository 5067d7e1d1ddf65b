package repository

import (
	"context"
	"time"

	"aquabill/internal/domain"
)

// InvoiceRepository defines the persistence operations for invoices.
//
// There is no generic Update: every mutation is a guarded, single-record
// operation that rejects changes to paid invoices.
type InvoiceRepository interface {
	// Create persists a newly issued invoice.
	Create(ctx context.Context, invoice *domain.Invoice) error

	// GetByID retrieves an invoice by ID.
	GetByID(ctx context.Context, id string) (*domain.Invoice, error)

	// GetByIDs retrieves the given invoices keyed by ID. Missing ids are
	// absent from the map.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Invoice, error)

	// MarkPaid transitions a pending/overdue invoice to PAID and decrements
	// the owning customer's outstanding balance by the invoice total, as one
	// atomic step. Already paid invoices are reported, not changed.
	MarkPaid(ctx context.Context, id, paymentRef string, at time.Time) (*domain.MarkPaidResult, error)

	// Archive transitions a PAID invoice to ARCHIVED.
	Archive(ctx context.Context, id string, at time.Time) (*domain.Invoice, error)

	// Void cancels an unpaid invoice.
	Void(ctx context.Context, id string) (*domain.Invoice, error)

	// Delete removes an unpaid invoice.
	Delete(ctx context.Context, id string) error

	// MarkOverdue flags pending invoices due before now and returns how many changed.
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
}
