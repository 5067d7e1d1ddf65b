// Package mercadopago integrates Mercado Pago Checkout Pro. Notifications
// carry {action, type, data:{id}}; the payment document is fetched by id.
package mercadopago

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

// Payment status strings.
//
//	approved                          -> Approved
//	pending, in_process, authorized   -> Pending
//	rejected, cancelled               -> Rejected
//	refunded, charged_back            -> Refunded
var statusTable = map[string]domain.CanonicalStatus{
	"approved":     domain.CanonicalApproved,
	"pending":      domain.CanonicalPending,
	"in_process":   domain.CanonicalPending,
	"authorized":   domain.CanonicalPending,
	"rejected":     domain.CanonicalRejected,
	"cancelled":    domain.CanonicalRejected,
	"refunded":     domain.CanonicalRefunded,
	"charged_back": domain.CanonicalRefunded,
}

// Notification is the webhook envelope.
type Notification struct {
	Action string `json:"action"`
	Type   string `json:"type"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// PaymentDocument is the subset of /v1/payments/{id} the adapter reads.
type PaymentDocument struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
}

// Adapter translates Mercado Pago payloads. It performs no I/O.
type Adapter struct {
	rates    *gateway.RateTable
	currency string
}

// NewAdapter creates an adapter charging in the given currency.
func NewAdapter(rates *gateway.RateTable, currency string) *Adapter {
	if currency == "" {
		currency = "COP"
	}
	return &Adapter{rates: rates, currency: strings.ToUpper(currency)}
}

// ChargeAmount converts the total into the account currency.
func (a *Adapter) ChargeAmount(total domain.Money) (domain.Money, error) {
	return a.rates.Convert(total, a.currency)
}

// ParseNotification extracts the payment id from a webhook delivery. Legacy
// IPN deliveries put topic and id in the query string instead of the body.
// Notifications about anything but payments return ErrIgnoredNotification.
func (a *Adapter) ParseNotification(query url.Values, body []byte) (string, error) {
	var n Notification
	if len(body) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			return "", gateway.NewParseError(domain.ProviderMercadoPago, "decode envelope", err)
		}
	}

	kind := n.Type
	if kind == "" {
		kind = firstNonEmpty(query.Get("type"), query.Get("topic"))
	}
	if kind == "" && strings.HasPrefix(n.Action, "payment.") {
		kind = "payment"
	}
	if kind != "payment" {
		return "", gateway.ErrIgnoredNotification
	}

	id := strings.Trim(string(n.Data.ID), `"`)
	if id == "" {
		id = firstNonEmpty(query.Get("data.id"), query.Get("id"))
	}
	if id == "" {
		return "", gateway.NewParseError(domain.ProviderMercadoPago, "missing data.id", nil)
	}

	return id, nil
}

// Translate converts a payment document into a canonical event.
func (a *Adapter) Translate(payload []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	var doc PaymentDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, gateway.NewParseError(domain.ProviderMercadoPago, "decode payment document", err)
	}

	return a.translate(doc, payload, receivedAt)
}

func (a *Adapter) translate(doc PaymentDocument, raw []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	// Payments made outside the preference may lack external_reference;
	// they are matched by payment id downstream.
	if doc.ExternalReference == "" && doc.ID.String() == "" {
		return nil, gateway.NewParseError(domain.ProviderMercadoPago, "missing external_reference and id", nil)
	}

	status, ok := statusTable[strings.ToLower(doc.Status)]
	if !ok {
		return nil, gateway.NewParseError(domain.ProviderMercadoPago, "unknown status "+doc.Status, nil)
	}

	return &domain.CanonicalEvent{
		ExternalReference: doc.ExternalReference,
		Provider:          domain.ProviderMercadoPago,
		ProviderPaymentID: doc.ID.String(),
		Status:            status,
		Amount:            doc.TransactionAmount,
		Currency:          strings.ToUpper(doc.CurrencyID),
		RawPayload:        json.RawMessage(raw),
		ReceivedAt:        receivedAt,
	}, nil
}

// SearchResult is the body of /v1/payments/search.
type SearchResult struct {
	Results []json.RawMessage `json:"results"`
}

// TranslateSearch picks the most recent payment of a search result. It
// returns ErrNoStatus when the payer has not paid yet.
func (a *Adapter) TranslateSearch(payload []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	var res SearchResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, gateway.NewParseError(domain.ProviderMercadoPago, "decode search result", err)
	}
	if len(res.Results) == 0 {
		return nil, gateway.ErrNoStatus
	}

	return a.Translate(res.Results[0], receivedAt)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
