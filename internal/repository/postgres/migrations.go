package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Migrations returns the schema statements in execution order. Every
// statement is idempotent so Migrate can run on each deploy.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			email               TEXT NOT NULL DEFAULT '',
			phone               TEXT NOT NULL DEFAULT '',
			outstanding_balance NUMERIC(18, 2) NOT NULL DEFAULT 0,
			currency            TEXT NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS invoices (
			id               TEXT PRIMARY KEY,
			number           TEXT NOT NULL UNIQUE,
			customer_id      TEXT NOT NULL REFERENCES customers(id),
			period_start     TIMESTAMPTZ NOT NULL,
			period_end       TIMESTAMPTZ NOT NULL,
			previous_reading NUMERIC(12, 3) NOT NULL,
			current_reading  NUMERIC(12, 3) NOT NULL,
			total            NUMERIC(18, 2) NOT NULL,
			currency         TEXT NOT NULL,
			status           TEXT NOT NULL,
			issued_at        TIMESTAMPTZ NOT NULL,
			due_at           TIMESTAMPTZ NOT NULL,
			paid_at          TIMESTAMPTZ,
			payment_ref      TEXT NOT NULL DEFAULT '',
			archived_at      TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_status_due ON invoices(status, due_at)`,

		// Paid invoices are frozen. The only change allowed is PAID -> ARCHIVED
		// with every other column untouched.
		`CREATE OR REPLACE FUNCTION guard_paid_invoice() RETURNS trigger AS $$
		BEGIN
			IF OLD.status NOT IN ('PAID', 'ARCHIVED') THEN
				IF TG_OP = 'DELETE' THEN
					RETURN OLD;
				END IF;
				RETURN NEW;
			END IF;
			IF TG_OP = 'UPDATE'
				AND OLD.status = 'PAID' AND NEW.status = 'ARCHIVED'
				AND NEW.total = OLD.total
				AND NEW.customer_id = OLD.customer_id
				AND NEW.paid_at IS NOT DISTINCT FROM OLD.paid_at
				AND NEW.payment_ref = OLD.payment_ref THEN
				RETURN NEW;
			END IF;
			RAISE EXCEPTION 'invoice % is paid and immutable', OLD.id USING ERRCODE = 'P0001';
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS invoices_guard_paid ON invoices`,
		`CREATE TRIGGER invoices_guard_paid
			BEFORE UPDATE OR DELETE ON invoices
			FOR EACH ROW EXECUTE FUNCTION guard_paid_invoice()`,

		`CREATE TABLE IF NOT EXISTS payments (
			id                    TEXT PRIMARY KEY,
			external_reference    TEXT NOT NULL UNIQUE,
			customer_id           TEXT NOT NULL REFERENCES customers(id),
			invoice_ids           TEXT[] NOT NULL,
			amount                NUMERIC(18, 2) NOT NULL,
			currency              TEXT NOT NULL,
			provider              TEXT NOT NULL,
			provider_payment_id   TEXT NOT NULL DEFAULT '',
			charged_amount        NUMERIC(18, 2) NOT NULL DEFAULT 0,
			charged_currency      TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL,
			metadata              JSONB NOT NULL DEFAULT '{}',
			settlement_claimed_at TIMESTAMPTZ,
			settled_at            TIMESTAMPTZ,
			last_polled_at        TIMESTAMPTZ,
			created_at            TIMESTAMPTZ NOT NULL,
			updated_at            TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_provider_id
			ON payments(provider, provider_payment_id) WHERE provider_payment_id <> ''`,
		`ALTER TABLE payments ADD COLUMN IF NOT EXISTS last_polled_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_payments_open ON payments(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_poll ON payments(status, last_polled_at NULLS FIRST, created_at)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id                 TEXT PRIMARY KEY,
			external_reference TEXT NOT NULL UNIQUE,
			amount             NUMERIC(18, 2) NOT NULL,
			currency           TEXT NOT NULL,
			provider           TEXT NOT NULL,
			invoice_ids        TEXT[] NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL
		)`,
	}
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Migrations() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration %d", i)
		}
	}
	return nil
}
