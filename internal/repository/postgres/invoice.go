package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"aquabill/internal/domain"
	"aquabill/internal/repository"
)

// InvoiceRepository is a PostgreSQL implementation of repository.InvoiceRepository.
// It keeps the *sql.DB because MarkPaid spans the invoice and customer rows.
type InvoiceRepository struct {
	db *sql.DB
}

// NewInvoiceRepository creates a new PostgreSQL invoice repository.
func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	id, number, customer_id, period_start, period_end, previous_reading, current_reading,
	total, currency, status, issued_at, due_at, paid_at, payment_ref, archived_at`

// Create persists a newly issued invoice.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query,
		invoice.ID,
		invoice.Number,
		invoice.CustomerID,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.PreviousReading,
		invoice.CurrentReading,
		invoice.Total,
		invoice.Currency,
		invoice.Status,
		invoice.IssuedAt,
		invoice.DueAt,
		nullTime(invoice.PaidAt),
		invoice.PaymentRef,
		nullTime(invoice.ArchivedAt),
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}

	return err
}

// GetByID retrieves an invoice by ID.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	return getInvoice(ctx, r.db, id, false)
}

// GetByIDs retrieves the given invoices keyed by ID.
func (r *InvoiceRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make(map[string]*domain.Invoice, len(ids))
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices[invoice.ID] = invoice
	}

	return invoices, rows.Err()
}

// MarkPaid transitions the invoice to PAID and decrements the customer's
// outstanding balance in the same transaction.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id, paymentRef string, at time.Time) (result *domain.MarkPaidResult, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	invoice, err := getInvoice(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	if err = invoice.MarkPaid(paymentRef, at); err != nil {
		if errors.Is(err, domain.ErrInvoiceAlreadyPaid) {
			err = tx.Commit()
			return &domain.MarkPaidResult{Invoice: invoice, AlreadyPaid: true}, err
		}
		return nil, err
	}

	query := `UPDATE invoices SET status = $1, paid_at = $2, payment_ref = $3 WHERE id = $4`
	if _, err = tx.ExecContext(ctx, query, invoice.Status, invoice.PaidAt, invoice.PaymentRef, invoice.ID); err != nil {
		return nil, err
	}

	balanceQuery := `
		UPDATE customers
		SET outstanding_balance = outstanding_balance - $1, updated_at = $2
		WHERE id = $3
	`
	res, err := tx.ExecContext(ctx, balanceQuery, invoice.Total, at, invoice.CustomerID)
	if err != nil {
		return nil, err
	}
	if err = expectRow(res); err != nil {
		err = errors.Wrapf(err, "customer %s of invoice %s", invoice.CustomerID, invoice.ID)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.MarkPaidResult{Invoice: invoice}, nil
}

// Archive transitions a PAID invoice to ARCHIVED.
func (r *InvoiceRepository) Archive(ctx context.Context, id string, at time.Time) (*domain.Invoice, error) {
	return r.guardedUpdate(ctx, id, func(invoice *domain.Invoice) error {
		return invoice.Archive(at)
	})
}

// Void cancels an unpaid invoice.
func (r *InvoiceRepository) Void(ctx context.Context, id string) (*domain.Invoice, error) {
	return r.guardedUpdate(ctx, id, func(invoice *domain.Invoice) error {
		return invoice.Void()
	})
}

// Delete removes an unpaid invoice.
func (r *InvoiceRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	invoice, err := getInvoice(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if err = invoice.CheckDeletable(); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id); err != nil {
		if isGuardViolation(err) {
			err = domain.ErrInvoiceImmutable
		}
		return err
	}

	return tx.Commit()
}

// MarkOverdue flags pending invoices due before now.
func (r *InvoiceRepository) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	query := `UPDATE invoices SET status = $1 WHERE status = $2 AND due_at < $3`

	result, err := r.db.ExecContext(ctx, query, domain.InvoiceStatusOverdue, domain.InvoiceStatusPending, now)
	if err != nil {
		return 0, err
	}

	n, err := result.RowsAffected()
	return int(n), err
}

// guardedUpdate loads the invoice under a row lock, applies a domain
// mutation and persists the status fields it may have changed.
func (r *InvoiceRepository) guardedUpdate(ctx context.Context, id string, mutate func(*domain.Invoice) error) (invoice *domain.Invoice, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	invoice, err = getInvoice(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	if err = mutate(invoice); err != nil {
		return nil, err
	}

	query := `UPDATE invoices SET status = $1, archived_at = $2 WHERE id = $3`
	if _, err = tx.ExecContext(ctx, query, invoice.Status, nullTime(invoice.ArchivedAt), invoice.ID); err != nil {
		if isGuardViolation(err) {
			err = domain.ErrInvoiceImmutable
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return invoice, nil
}

func getInvoice(ctx context.Context, q Querier, id string, forUpdate bool) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	return scanInvoice(q.QueryRowContext(ctx, query, id))
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var (
		invoice    domain.Invoice
		paidAt     sql.NullTime
		archivedAt sql.NullTime
	)

	err := row.Scan(
		&invoice.ID,
		&invoice.Number,
		&invoice.CustomerID,
		&invoice.PeriodStart,
		&invoice.PeriodEnd,
		&invoice.PreviousReading,
		&invoice.CurrentReading,
		&invoice.Total,
		&invoice.Currency,
		&invoice.Status,
		&invoice.IssuedAt,
		&invoice.DueAt,
		&paidAt,
		&invoice.PaymentRef,
		&archivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if paidAt.Valid {
		invoice.PaidAt = paidAt.Time
	}
	if archivedAt.Valid {
		invoice.ArchivedAt = archivedAt.Time
	}

	return &invoice, nil
}

// Ensure InvoiceRepository implements repository.InvoiceRepository.
var _ repository.InvoiceRepository = (*InvoiceRepository)(nil)
