package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the current status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "PENDING"
	InvoiceStatusOverdue  InvoiceStatus = "OVERDUE"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusVoided   InvoiceStatus = "VOIDED"
	InvoiceStatusArchived InvoiceStatus = "ARCHIVED"
)

// Invoice is a billable document for one billing period of one customer.
//
// Status fields are only changed through MarkPaid, Archive, Void and
// MarkOverdue. Once paid the invoice is frozen: archival is the only
// transition left and it does not touch amounts.
type Invoice struct {
	ID              string
	Number          string
	CustomerID      string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	PreviousReading decimal.Decimal // m3
	CurrentReading  decimal.Decimal // m3
	Total           decimal.Decimal
	Currency        string
	Status          InvoiceStatus
	IssuedAt        time.Time
	DueAt           time.Time
	PaidAt          time.Time
	PaymentRef      string
	ArchivedAt      time.Time
}

// IsPayable reports whether the invoice can be covered by a payment attempt.
func (i *Invoice) IsPayable() bool {
	return i.Status == InvoiceStatusPending || i.Status == InvoiceStatusOverdue
}

// IsFrozen reports whether the invoice was paid and is therefore immutable.
func (i *Invoice) IsFrozen() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusArchived
}

// Consumption returns the metered volume for the period.
func (i *Invoice) Consumption() decimal.Decimal {
	return i.CurrentReading.Sub(i.PreviousReading)
}

// MarkPaid stamps the invoice as paid by the payment with the given external
// reference. An invoice that is already paid is left untouched and
// ErrInvoiceAlreadyPaid is returned so callers can skip it.
func (i *Invoice) MarkPaid(paymentRef string, at time.Time) error {
	if i.IsFrozen() {
		return ErrInvoiceAlreadyPaid
	}
	if !i.IsPayable() {
		return ErrInvoiceNotPayable
	}
	i.Status = InvoiceStatusPaid
	i.PaidAt = at
	i.PaymentRef = paymentRef
	return nil
}

// Archive moves a paid invoice out of the active set.
func (i *Invoice) Archive(at time.Time) error {
	if i.Status != InvoiceStatusPaid {
		return ErrInvoiceNotPaid
	}
	i.Status = InvoiceStatusArchived
	i.ArchivedAt = at
	return nil
}

// Void cancels an unpaid invoice.
func (i *Invoice) Void() error {
	if i.IsFrozen() {
		return ErrInvoiceImmutable
	}
	i.Status = InvoiceStatusVoided
	return nil
}

// MarkOverdue flags a pending invoice whose due date has passed.
// It returns true when the status changed.
func (i *Invoice) MarkOverdue(now time.Time) bool {
	if i.Status != InvoiceStatusPending || !now.After(i.DueAt) {
		return false
	}
	i.Status = InvoiceStatusOverdue
	return true
}

// CheckDeletable returns ErrInvoiceImmutable for paid invoices.
func (i *Invoice) CheckDeletable() error {
	if i.IsFrozen() {
		return ErrInvoiceImmutable
	}
	return nil
}

// MarkPaidResult is returned by the repository-level paid transition.
type MarkPaidResult struct {
	Invoice *Invoice
	// AlreadyPaid is true when the invoice was paid before this call.
	AlreadyPaid bool
}
