package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current status of a payment attempt.
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "CREATED"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// legalTransitions lists, for every target status, the statuses it may be
// reached from. Anything not listed is stale or out of order.
var legalTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCreated},
	PaymentStatusCompleted: {PaymentStatusCreated, PaymentStatusPending},
	PaymentStatusFailed:    {PaymentStatusCreated, PaymentStatusPending},
	PaymentStatusCancelled: {PaymentStatusCreated, PaymentStatusPending},
	PaymentStatusRefunded:  {PaymentStatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range legalTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// TransitionSources returns the statuses from which target is reachable.
func TransitionSources(target PaymentStatus) []PaymentStatus {
	src := legalTransitions[target]
	out := make([]PaymentStatus, len(src))
	copy(out, src)
	return out
}

// settlingStatuses are the statuses of payments whose funds were received.
// A refund does not undo settlement, so a refunded payment still settles.
var settlingStatuses = []PaymentStatus{PaymentStatusCompleted, PaymentStatusRefunded}

// SettlingStatuses returns the statuses in which invoice and ledger
// settlement must have run.
func SettlingStatuses() []PaymentStatus {
	out := make([]PaymentStatus, len(settlingStatuses))
	copy(out, settlingStatuses)
	return out
}

// ReceivedFunds reports whether s is one of SettlingStatuses.
func (s PaymentStatus) ReceivedFunds() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusRefunded
}

// IsOpen reports whether the payment is still awaiting a provider outcome.
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentStatusCreated || s == PaymentStatusPending
}

// ProviderID identifies an external payment processor.
type ProviderID string

const (
	ProviderFlow        ProviderID = "flow"
	ProviderMercadoPago ProviderID = "mercadopago"
	ProviderPayU        ProviderID = "payu"
)

// Metadata is the provider-tagged opaque payload attached to a payment.
// Canonical code carries it around but never looks inside Payload.
type Metadata struct {
	Provider ProviderID      `json:"provider"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Payment represents one checkout attempt, possibly covering several invoices.
type Payment struct {
	ID                string
	ExternalReference string
	CustomerID        string
	InvoiceIDs        []string
	Amount            decimal.Decimal
	Currency          string
	Provider          ProviderID
	ProviderPaymentID string
	// Charged is what was actually sent to the provider after its currency
	// and rounding rules were applied.
	Charged   Money
	Status    PaymentStatus
	Metadata  Metadata
	SettledAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settled reports whether invoice and ledger settlement finished for a
// completed payment.
func (p *Payment) Settled() bool {
	return !p.SettledAt.IsZero()
}

// Transition describes a status change requested by a canonical event.
type Transition struct {
	To                PaymentStatus
	ProviderPaymentID string
	Metadata          Metadata
	At                time.Time
}

// TransitionResult is returned by the single status mutator.
type TransitionResult struct {
	Payment *Payment
	// Applied is true only when this call moved the status.
	Applied bool
	// Previous is the status observed before the call.
	Previous PaymentStatus
}
