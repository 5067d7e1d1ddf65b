// Package gateway holds the contract shared by the payment processor
// integrations. Each provider package splits into a pure Adapter (payload
// translation, charge normalization) and a Client that performs the I/O.
package gateway

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"aquabill/internal/domain"
)

// Payer is the contact information forwarded to a provider.
type Payer struct {
	Name  string
	Email string
	Phone string
}

// ChargeRequest asks a provider to open a hosted checkout.
type ChargeRequest struct {
	ExternalReference string
	Amount            domain.Money
	Description       string
	Payer             Payer
	ReturnURL         string
	NotifyURL         string
	// Options carries provider-specific checkout choices such as the PSE
	// bank code.
	Options map[string]string
}

// Charge is the provider acknowledgement of a ChargeRequest.
type Charge struct {
	ProviderPaymentID string
	RedirectURL       string
	Charged           domain.Money
	Metadata          domain.Metadata
}

// Gateway is one external payment processor.
type Gateway interface {
	// Provider identifies the processor.
	Provider() domain.ProviderID

	// CreateCharge opens a checkout and returns where to send the payer.
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)

	// FetchEvent resolves the key carried by an inbound notification
	// (token, payment id) into a canonical event via a status lookup.
	FetchEvent(ctx context.Context, key string) (*domain.CanonicalEvent, error)

	// PollEvent looks up the current status of a payment attempt.
	// It returns ErrNoStatus when the provider has nothing yet.
	PollEvent(ctx context.Context, ref, providerPaymentID string) (*domain.CanonicalEvent, error)
}

// ErrNoStatus is returned by PollEvent when the payer has not acted yet.
var ErrNoStatus = errors.New("provider has no status for payment yet")

// ErrIgnoredNotification is returned for well-formed notifications that do
// not concern a payment (merchant orders, test pings).
var ErrIgnoredNotification = errors.New("notification does not concern a payment")

// ErrUnknownProvider is returned when no gateway is registered for an id.
var ErrUnknownProvider = errors.New("unknown payment provider")

// Registry resolves gateways by provider id.
type Registry struct {
	gateways map[domain.ProviderID]Gateway
}

// NewRegistry creates a registry from the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.ProviderID]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

// Get returns the gateway for a provider.
func (r *Registry) Get(provider domain.ProviderID) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "%q", provider)
	}
	return g, nil
}

// Providers lists the registered provider ids in stable order.
func (r *Registry) Providers() []domain.ProviderID {
	ids := make([]domain.ProviderID, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParseError is returned when a provider payload cannot be translated.
// Transports must still acknowledge the delivery.
type ParseError struct {
	Provider domain.ProviderID
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: parse payload: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: parse payload: %s", e.Provider, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError builds a ParseError.
func NewParseError(provider domain.ProviderID, reason string, err error) error {
	return &ParseError{Provider: provider, Reason: reason, Err: err}
}

// IsParseError reports whether err is, or wraps, a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// TransientError marks a failure worth retrying: timeouts, network errors,
// provider 5xx and throttling. It never means the payment failed.
type TransientError struct {
	Provider domain.ProviderID
	Op       string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: transient: %v", e.Provider, e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError is a non-retryable provider response such as a 4xx.
type StatusError struct {
	Provider   domain.ProviderID
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
}
