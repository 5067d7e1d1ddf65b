package repository

import (
	"context"

	"aquabill/internal/domain"
)

// LedgerRepository is the append-only store of ledger entries.
type LedgerRepository interface {
	// Insert appends an entry unless one exists for the same external
	// reference. It returns false when the entry already existed.
	Insert(ctx context.Context, entry *domain.LedgerEntry) (bool, error)

	// GetByExternalReference retrieves the entry for a payment.
	GetByExternalReference(ctx context.Context, ref string) (*domain.LedgerEntry, error)
}
