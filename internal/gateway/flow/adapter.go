// Package flow integrates the Flow checkout (Chile). Notifications carry only
// a token; the payment status is fetched with a follow-up call. Flow charges
// in whole Chilean pesos.
package flow

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

// ChargeCurrency is the only currency Flow accepts.
const ChargeCurrency = "CLP"

// Flow payment status codes.
//
//	1 pending payment
//	2 paid
//	3 rejected
//	4 cancelled
var statusTable = map[int]domain.CanonicalStatus{
	1: domain.CanonicalPending,
	2: domain.CanonicalApproved,
	3: domain.CanonicalRejected,
	4: domain.CanonicalCancelled,
}

// StatusDocument is the body returned by payment/getStatus.
type StatusDocument struct {
	FlowOrder     int64           `json:"flowOrder"`
	CommerceOrder string          `json:"commerceOrder"`
	RequestDate   string          `json:"requestDate"`
	Status        int             `json:"status"`
	Subject       string          `json:"subject"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Payer         string          `json:"payer"`
}

// Adapter translates Flow payloads. It performs no I/O.
type Adapter struct {
	rates         *gateway.RateTable
	sandbox       bool
	sandboxAmount decimal.Decimal
}

// NewAdapter creates an adapter. sandboxAmount is only honored when sandbox
// is true.
func NewAdapter(rates *gateway.RateTable, sandbox bool, sandboxAmount decimal.Decimal) *Adapter {
	return &Adapter{rates: rates, sandbox: sandbox, sandboxAmount: sandboxAmount}
}

// ChargeAmount converts the invoice total into whole pesos. The second return
// value is true when the sandbox fixed amount replaced the real total.
func (a *Adapter) ChargeAmount(total domain.Money) (domain.Money, bool, error) {
	if a.sandbox && a.sandboxAmount.IsPositive() {
		return domain.NewMoney(a.sandboxAmount.Round(0), ChargeCurrency), true, nil
	}

	charged, err := a.rates.Convert(total, ChargeCurrency)
	if err != nil {
		return domain.Money{}, false, err
	}
	if !charged.Amount.IsPositive() {
		return domain.Money{}, false, errors.Errorf("amount %s rounds to zero %s", total, ChargeCurrency)
	}

	return charged, false, nil
}

// ParseNotification extracts the token from a confirmation delivery. Flow
// posts form data; JSON bodies are accepted as well.
func (a *Adapter) ParseNotification(contentType string, body []byte) (string, error) {
	var token string

	if strings.HasPrefix(contentType, "application/json") {
		var envelope struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", gateway.NewParseError(domain.ProviderFlow, "decode json envelope", err)
		}
		token = envelope.Token
	} else {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return "", gateway.NewParseError(domain.ProviderFlow, "decode form envelope", err)
		}
		token = form.Get("token")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", gateway.NewParseError(domain.ProviderFlow, "missing token", nil)
	}

	return token, nil
}

// Translate converts a getStatus document into a canonical event.
func (a *Adapter) Translate(payload []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	var doc StatusDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, gateway.NewParseError(domain.ProviderFlow, "decode status document", err)
	}

	if doc.CommerceOrder == "" {
		return nil, gateway.NewParseError(domain.ProviderFlow, "missing commerceOrder", nil)
	}

	status, ok := statusTable[doc.Status]
	if !ok {
		return nil, gateway.NewParseError(domain.ProviderFlow, "unknown status "+strconv.Itoa(doc.Status), nil)
	}

	currency := strings.ToUpper(doc.Currency)
	if currency == "" {
		currency = ChargeCurrency
	}

	event := &domain.CanonicalEvent{
		ExternalReference: doc.CommerceOrder,
		Provider:          domain.ProviderFlow,
		Status:            status,
		Amount:            doc.Amount,
		Currency:          currency,
		RawPayload:        json.RawMessage(payload),
		ReceivedAt:        receivedAt,
	}
	if doc.FlowOrder > 0 {
		event.ProviderPaymentID = strconv.FormatInt(doc.FlowOrder, 10)
	}

	return event, nil
}
