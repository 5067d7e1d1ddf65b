package repository

import (
	"context"
	"time"

	"aquabill/internal/domain"
)

// PaymentRepository defines the persistence operations for payment attempts.
//
// Status is only written through ApplyTransition. There is no bulk or
// direct status update.
type PaymentRepository interface {
	// Create persists a new payment attempt in CREATED state.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByExternalReference retrieves a payment by its correlation key.
	GetByExternalReference(ctx context.Context, ref string) (*domain.Payment, error)

	// GetByProviderPaymentID retrieves a payment by the provider's own id.
	GetByProviderPaymentID(ctx context.Context, provider domain.ProviderID, providerPaymentID string) (*domain.Payment, error)

	// AttachProviderPayment records the provider id and charge details once
	// the provider acknowledged the charge. Status is not changed.
	AttachProviderPayment(ctx context.Context, ref string, ack ProviderAck) error

	// DeleteUnacknowledged removes a CREATED payment that never reached the
	// provider. Acknowledged payments are never deleted.
	DeleteUnacknowledged(ctx context.Context, ref string) error

	// ApplyTransition loads the payment, checks the legality table, writes
	// the new status and metadata, and reports whether a real transition
	// happened. A completed transition also takes the settlement lease.
	ApplyTransition(ctx context.Context, ref string, t domain.Transition) (*domain.TransitionResult, error)

	// ClaimSettlement takes the settlement lease on a completed or refunded
	// payment that is still unsettled, if no live lease exists.
	ClaimSettlement(ctx context.Context, ref string, now time.Time, lease time.Duration) (bool, error)

	// MarkSettled records that invoice and ledger settlement finished.
	MarkSettled(ctx context.Context, ref string, at time.Time) error

	// ListOpen returns CREATED/PENDING payments with a provider id that were
	// created before the given time, least recently polled first.
	ListOpen(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error)

	// MarkPolled records that the provider was asked for the payment's status.
	MarkPolled(ctx context.Context, ref string, at time.Time) error

	// ListUnsettled returns COMPLETED or REFUNDED payments whose settlement
	// never finished and whose lease was taken before the given time.
	ListUnsettled(ctx context.Context, claimedBefore time.Time, limit int) ([]*domain.Payment, error)
}

// ProviderAck carries what a provider returned when a charge was created.
type ProviderAck struct {
	ProviderPaymentID string
	Charged           domain.Money
	Metadata          domain.Metadata
}
