package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CanonicalStatus is the normalized vocabulary every gateway adapter maps into.
type CanonicalStatus string

const (
	CanonicalApproved  CanonicalStatus = "APPROVED"
	CanonicalPending   CanonicalStatus = "PENDING"
	CanonicalRejected  CanonicalStatus = "REJECTED"
	CanonicalCancelled CanonicalStatus = "CANCELLED"
	CanonicalRefunded  CanonicalStatus = "REFUNDED"
)

// PaymentStatus returns the payment status a canonical status resolves to.
func (s CanonicalStatus) PaymentStatus() (PaymentStatus, bool) {
	switch s {
	case CanonicalApproved:
		return PaymentStatusCompleted, true
	case CanonicalPending:
		return PaymentStatusPending, true
	case CanonicalRejected:
		return PaymentStatusFailed, true
	case CanonicalCancelled:
		return PaymentStatusCancelled, true
	case CanonicalRefunded:
		return PaymentStatusRefunded, true
	default:
		return "", false
	}
}

// CanonicalEvent is a provider-independent "payment happened" signal.
type CanonicalEvent struct {
	ExternalReference string
	Provider          ProviderID
	ProviderPaymentID string
	Status            CanonicalStatus
	Amount            decimal.Decimal
	Currency          string
	RawPayload        json.RawMessage
	ReceivedAt        time.Time
}

// Metadata wraps the raw payload in the provider-tagged envelope stored on
// the payment.
func (e CanonicalEvent) Metadata() Metadata {
	return Metadata{Provider: e.Provider, Payload: e.RawPayload}
}
