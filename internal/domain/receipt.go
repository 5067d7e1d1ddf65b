package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptLine is one invoice settled by a payment.
type ReceiptLine struct {
	InvoiceID     string
	InvoiceNumber string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Consumption   decimal.Decimal // m3
	Amount        decimal.Decimal
}

// Receipt is the proof of payment sent to the customer.
type Receipt struct {
	ID                string
	ExternalReference string
	CustomerID        string
	CustomerName      string
	CustomerEmail     string
	Provider          ProviderID
	ProviderPaymentID string
	Lines             []ReceiptLine
	Total             decimal.Decimal
	Currency          string
	PaidAt            time.Time
	CreatedAt         time.Time
}
