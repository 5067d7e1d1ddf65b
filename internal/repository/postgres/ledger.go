package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"aquabill/internal/domain"
	"aquabill/internal/repository"
)

// LedgerRepository is a PostgreSQL implementation of repository.LedgerRepository.
// The table only ever sees INSERT and SELECT.
type LedgerRepository struct {
	q Querier
}

// NewLedgerRepository creates a new PostgreSQL ledger repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{q: db}
}

// Insert appends an entry. The unique index on external_reference turns a
// racing second insert into a no-op instead of a duplicate row.
func (r *LedgerRepository) Insert(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	query := `
		INSERT INTO ledger_entries (id, external_reference, amount, currency, provider, invoice_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_reference) DO NOTHING
	`

	result, err := r.q.ExecContext(ctx, query,
		entry.ID,
		entry.ExternalReference,
		entry.Amount,
		entry.Currency,
		entry.Provider,
		pq.Array(entry.InvoiceIDs),
		entry.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// GetByExternalReference retrieves the entry for a payment.
func (r *LedgerRepository) GetByExternalReference(ctx context.Context, ref string) (*domain.LedgerEntry, error) {
	query := `
		SELECT id, external_reference, amount, currency, provider, invoice_ids, created_at
		FROM ledger_entries WHERE external_reference = $1
	`

	var entry domain.LedgerEntry
	err := r.q.QueryRowContext(ctx, query, ref).Scan(
		&entry.ID,
		&entry.ExternalReference,
		&entry.Amount,
		&entry.Currency,
		&entry.Provider,
		pq.Array(&entry.InvoiceIDs),
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &entry, nil
}

// Ensure LedgerRepository implements repository.LedgerRepository.
var _ repository.LedgerRepository = (*LedgerRepository)(nil)
