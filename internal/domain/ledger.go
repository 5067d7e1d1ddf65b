package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is the append-only financial record of a completed payment.
// There is at most one entry per external reference.
type LedgerEntry struct {
	ID                string
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
	Provider          ProviderID
	InvoiceIDs        []string
	CreatedAt         time.Time
}

// Customer holds the derived outstanding debt of an account holder.
type Customer struct {
	ID                 string
	Name               string
	Email              string
	Phone              string
	OutstandingBalance decimal.Decimal
	Currency           string
}
