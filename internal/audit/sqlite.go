// Package audit stores the append-only audit trail of payment events in a
// local SQLite database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Registers "sqlite" driver
)

// Record is one audit trail line.
type Record struct {
	ID                int64
	ExternalReference string
	Provider          string
	Action            string
	Status            string
	InvoiceIDs        []string
	Detail            json.RawMessage
	CreatedAt         time.Time
}

// Store writes and reads audit records.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	external_reference TEXT NOT NULL,
	provider           TEXT NOT NULL,
	action             TEXT NOT NULL,
	status             TEXT NOT NULL,
	invoice_ids        TEXT NOT NULL DEFAULT '',
	detail             TEXT,
	created_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_records_ref ON audit_records (external_reference);
`

// Open opens (and creates if needed) the audit database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open audit database")
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "apply %q", p)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create audit schema")
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes a record.
func (s *Store) Append(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	var detail any
	if len(r.Detail) > 0 {
		detail = string(r.Detail)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (external_reference, provider, action, status, invoice_ids, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ExternalReference,
		r.Provider,
		r.Action,
		r.Status,
		strings.Join(r.InvoiceIDs, ","),
		detail,
		r.CreatedAt.UTC(),
	)
	return errors.Wrap(err, "insert audit record")
}

// ListByReference returns the records of one payment, oldest first.
func (s *Store) ListByReference(ctx context.Context, ref string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_reference, provider, action, status, invoice_ids, detail, created_at
		 FROM audit_records
		 WHERE external_reference = ?
		 ORDER BY id`,
		ref,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query audit records")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r        Record
			invoices string
			detail   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ExternalReference, &r.Provider, &r.Action, &r.Status, &invoices, &detail, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit record")
		}
		if invoices != "" {
			r.InvoiceIDs = strings.Split(invoices, ",")
		}
		if detail.Valid {
			r.Detail = json.RawMessage(detail.String)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
