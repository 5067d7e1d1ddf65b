package repository

import (
	"context"

	"aquabill/internal/domain"
)

// CustomerRepository reads customer accounts. Balances are only changed as
// part of InvoiceRepository.MarkPaid.
type CustomerRepository interface {
	// GetByID retrieves a customer by ID.
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
}
