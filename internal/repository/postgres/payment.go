package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"aquabill/internal/domain"
	"aquabill/internal/repository"
)

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

// NewPaymentRepositoryWithTx creates a payment repository using a transaction.
func NewPaymentRepositoryWithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{q: tx}
}

const paymentColumns = `
	id, external_reference, customer_id, invoice_ids, amount, currency, provider,
	provider_payment_id, charged_amount, charged_currency, status, metadata,
	settled_at, created_at, updated_at`

// Create persists a new payment attempt.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	meta, err := json.Marshal(payment.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal payment metadata")
	}

	_, err = r.q.ExecContext(ctx, query,
		payment.ID,
		payment.ExternalReference,
		payment.CustomerID,
		pq.Array(payment.InvoiceIDs),
		payment.Amount,
		payment.Currency,
		payment.Provider,
		payment.ProviderPaymentID,
		payment.Charged.Amount,
		payment.Charged.Currency,
		payment.Status,
		meta,
		nullTime(payment.SettledAt),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}

	return err
}

// GetByExternalReference retrieves a payment by its correlation key.
func (r *PaymentRepository) GetByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_reference = $1`

	return scanPayment(r.q.QueryRowContext(ctx, query, ref))
}

// GetByProviderPaymentID retrieves a payment by the provider's own id.
func (r *PaymentRepository) GetByProviderPaymentID(ctx context.Context, provider domain.ProviderID, providerPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_payment_id = $2`

	return scanPayment(r.q.QueryRowContext(ctx, query, provider, providerPaymentID))
}

// AttachProviderPayment records the provider acknowledgement of a charge.
func (r *PaymentRepository) AttachProviderPayment(ctx context.Context, ref string, ack repository.ProviderAck) error {
	query := `
		UPDATE payments
		SET provider_payment_id = $1, charged_amount = $2, charged_currency = $3, metadata = $4, updated_at = $5
		WHERE external_reference = $6
	`

	meta, err := json.Marshal(ack.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal payment metadata")
	}

	result, err := r.q.ExecContext(ctx, query,
		ack.ProviderPaymentID,
		ack.Charged.Amount,
		ack.Charged.Currency,
		meta,
		time.Now(),
		ref,
	)
	if err != nil {
		return err
	}

	return expectRow(result)
}

// DeleteUnacknowledged removes a CREATED payment that has no provider id.
func (r *PaymentRepository) DeleteUnacknowledged(ctx context.Context, ref string) error {
	query := `
		DELETE FROM payments
		WHERE external_reference = $1 AND status = $2 AND provider_payment_id = ''
	`

	result, err := r.q.ExecContext(ctx, query, ref, domain.PaymentStatusCreated)
	if err != nil {
		return err
	}

	return expectRow(result)
}

// applyTransitionQuery moves a payment to $2 only if its locked current
// status is one of $6. Postgres re-evaluates the subquery row after a
// competing update commits, so only one caller sees a row come back.
var applyTransitionQuery = `
	UPDATE payments p
	SET status = $2,
		provider_payment_id = COALESCE(NULLIF($3, ''), p.provider_payment_id),
		metadata = $4,
		updated_at = $5,
		settlement_claimed_at = CASE WHEN $2 = '` + string(domain.PaymentStatusCompleted) + `' THEN $5 ELSE p.settlement_claimed_at END
	FROM (
		SELECT id, status AS previous_status FROM payments WHERE external_reference = $1 FOR UPDATE
	) old
	WHERE p.id = old.id AND old.previous_status = ANY($6)
	RETURNING old.previous_status, ` + prefixed("p", paymentColumns)

// claimSettlementQuery takes the lease on an unsettled payment in one of $3
// whose previous lease, if any, was taken before $4.
const claimSettlementQuery = `
	UPDATE payments
	SET settlement_claimed_at = $2
	WHERE external_reference = $1
		AND status = ANY($3)
		AND settled_at IS NULL
		AND (settlement_claimed_at IS NULL OR settlement_claimed_at < $4)
`

// transitionSources returns the statuses a payment may leave for target,
// as bound to the ANY($6) guard of applyTransitionQuery.
func transitionSources(target domain.PaymentStatus) ([]string, error) {
	sources := domain.TransitionSources(target)
	if len(sources) == 0 {
		return nil, errors.Errorf("no transition leads to %s", target)
	}
	return statusStrings(sources), nil
}

func statusStrings(statuses []domain.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// ApplyTransition performs a conditional status update. See
// applyTransitionQuery for the concurrency guarantee.
func (r *PaymentRepository) ApplyTransition(ctx context.Context, ref string, t domain.Transition) (*domain.TransitionResult, error) {
	from, err := transitionSources(t.To)
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payment metadata")
	}

	row := r.q.QueryRowContext(ctx, applyTransitionQuery, ref, t.To, t.ProviderPaymentID, meta, t.At, pq.Array(from))

	var previous domain.PaymentStatus
	payment, err := scanPaymentWith(row, &previous)
	if err == nil {
		return &domain.TransitionResult{Payment: payment, Applied: true, Previous: previous}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	// Nothing moved: either the payment does not exist or the transition is
	// stale. Report the current state.
	current, err := r.GetByExternalReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	return &domain.TransitionResult{Payment: current, Applied: false, Previous: current.Status}, nil
}

// ClaimSettlement takes the settlement lease on a completed or refunded
// payment that is still unsettled.
func (r *PaymentRepository) ClaimSettlement(ctx context.Context, ref string, now time.Time, lease time.Duration) (bool, error) {
	settling := pq.Array(statusStrings(domain.SettlingStatuses()))

	result, err := r.q.ExecContext(ctx, claimSettlementQuery, ref, now, settling, now.Add(-lease))
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// MarkSettled records that settlement finished.
func (r *PaymentRepository) MarkSettled(ctx context.Context, ref string, at time.Time) error {
	query := `UPDATE payments SET settled_at = $2 WHERE external_reference = $1 AND settled_at IS NULL`

	_, err := r.q.ExecContext(ctx, query, ref, at)
	return err
}

// listOpenQuery rotates through open payments: never polled first, then
// the one polled longest ago.
const listOpenQuery = `
	SELECT ` + paymentColumns + `
	FROM payments
	WHERE status IN ($1, $2) AND provider_payment_id <> '' AND created_at < $3
	ORDER BY last_polled_at NULLS FIRST, created_at
	LIMIT $4
`

// ListOpen returns acknowledged payments still awaiting an outcome.
func (r *PaymentRepository) ListOpen(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, listOpenQuery,
		domain.PaymentStatusCreated,
		domain.PaymentStatusPending,
		createdBefore,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return scanPayments(rows)
}

// MarkPolled stamps last_polled_at so the next ListOpen rotates past it.
func (r *PaymentRepository) MarkPolled(ctx context.Context, ref string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE payments SET last_polled_at = $2 WHERE external_reference = $1`, ref, at)
	return err
}

// ListUnsettled returns completed or refunded payments whose settlement
// lease expired.
func (r *PaymentRepository) ListUnsettled(ctx context.Context, claimedBefore time.Time, limit int) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ANY($1)
			AND settled_at IS NULL
			AND (settlement_claimed_at IS NULL OR settlement_claimed_at < $2)
		ORDER BY updated_at
		LIMIT $3
	`

	settling := pq.Array(statusStrings(domain.SettlingStatuses()))
	rows, err := r.q.QueryContext(ctx, query, settling, claimedBefore, limit)
	if err != nil {
		return nil, err
	}

	return scanPayments(rows)
}

func scanPayments(rows *sql.Rows) ([]*domain.Payment, error) {
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	return scanPaymentWith(row)
}

func scanPaymentWith(row rowScanner, leading ...any) (*domain.Payment, error) {
	var (
		payment   domain.Payment
		meta      []byte
		settledAt sql.NullTime
	)

	dest := append(leading,
		&payment.ID,
		&payment.ExternalReference,
		&payment.CustomerID,
		pq.Array(&payment.InvoiceIDs),
		&payment.Amount,
		&payment.Currency,
		&payment.Provider,
		&payment.ProviderPaymentID,
		&payment.Charged.Amount,
		&payment.Charged.Currency,
		&payment.Status,
		&meta,
		&settledAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &payment.Metadata); err != nil {
			return nil, errors.Wrap(err, "unmarshal payment metadata")
		}
	}
	if settledAt.Valid {
		payment.SettledAt = settledAt.Time
	}

	return &payment, nil
}

// Ensure PaymentRepository implements repository.PaymentRepository.
var _ repository.PaymentRepository = (*PaymentRepository)(nil)
