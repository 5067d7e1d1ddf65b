// Package payu integrates PayU Latam (PSE bank transfers). The confirmation
// page receives a server-to-server form POST with the status embedded.
package payu

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

// state_pol values posted to the confirmation URL.
//
//	4 approved
//	5 expired
//	6 declined
//	7 pending
var confirmationTable = map[string]domain.CanonicalStatus{
	"4": domain.CanonicalApproved,
	"5": domain.CanonicalCancelled,
	"6": domain.CanonicalRejected,
	"7": domain.CanonicalPending,
}

// Transaction states returned by the queries API.
var queryTable = map[string]domain.CanonicalStatus{
	"APPROVED":    domain.CanonicalApproved,
	"DECLINED":    domain.CanonicalRejected,
	"ERROR":       domain.CanonicalRejected,
	"EXPIRED":     domain.CanonicalCancelled,
	"PENDING":     domain.CanonicalPending,
	"IN_PROGRESS": domain.CanonicalPending,
	"REFUNDED":    domain.CanonicalRefunded,
}

// Adapter translates PayU payloads. It performs no I/O.
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

// TranslateConfirmation converts a confirmation form POST.
func (a *Adapter) TranslateConfirmation(form url.Values, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	ref := form.Get("reference_sale")
	if ref == "" {
		return nil, gateway.NewParseError(domain.ProviderPayU, "missing reference_sale", nil)
	}

	state := form.Get("state_pol")
	status, ok := confirmationTable[state]
	if !ok {
		return nil, gateway.NewParseError(domain.ProviderPayU, "unknown state_pol "+state, nil)
	}

	amount, err := decimal.NewFromString(form.Get("value"))
	if err != nil {
		return nil, gateway.NewParseError(domain.ProviderPayU, "invalid value", err)
	}

	raw, err := json.Marshal(flatten(form))
	if err != nil {
		return nil, gateway.NewParseError(domain.ProviderPayU, "encode payload", err)
	}

	return &domain.CanonicalEvent{
		ExternalReference: ref,
		Provider:          domain.ProviderPayU,
		ProviderPaymentID: form.Get("transaction_id"),
		Status:            status,
		Amount:            amount,
		Currency:          strings.ToUpper(form.Get("currency")),
		RawPayload:        raw,
		ReceivedAt:        receivedAt,
	}, nil
}

type txValue struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type queryTransaction struct {
	ID                  string `json:"id"`
	TransactionResponse struct {
		State string `json:"state"`
	} `json:"transactionResponse"`
	AdditionalValues map[string]txValue `json:"additionalValues"`
}

type queryOrder struct {
	ID            int64              `json:"id"`
	ReferenceCode string             `json:"referenceCode"`
	Transactions  []queryTransaction `json:"transactions"`
}

type queryResponse struct {
	Code   string `json:"code"`
	Error  string `json:"error"`
	Result *struct {
		Payload []queryOrder `json:"payload"`
	} `json:"result"`
}

// TranslateOrderDetail converts an ORDER_DETAIL_BY_REFERENCE_CODE response.
// The last transaction of the last order is authoritative. It returns
// ErrNoStatus when PayU has no order for the reference yet.
func (a *Adapter) TranslateOrderDetail(payload []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	var res queryResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, gateway.NewParseError(domain.ProviderPayU, "decode order detail", err)
	}
	if res.Code != "SUCCESS" {
		return nil, gateway.NewParseError(domain.ProviderPayU, "query failed: "+res.Error, nil)
	}
	if res.Result == nil || len(res.Result.Payload) == 0 {
		return nil, gateway.ErrNoStatus
	}

	order := res.Result.Payload[len(res.Result.Payload)-1]
	if len(order.Transactions) == 0 {
		return nil, gateway.ErrNoStatus
	}
	tx := order.Transactions[len(order.Transactions)-1]

	state := strings.ToUpper(tx.TransactionResponse.State)
	status, ok := queryTable[state]
	if !ok {
		return nil, gateway.NewParseError(domain.ProviderPayU, "unknown state "+state, nil)
	}

	value := tx.AdditionalValues["TX_VALUE"]

	return &domain.CanonicalEvent{
		ExternalReference: order.ReferenceCode,
		Provider:          domain.ProviderPayU,
		ProviderPaymentID: tx.ID,
		Status:            status,
		Amount:            value.Value,
		Currency:          strings.ToUpper(value.Currency),
		RawPayload:        json.RawMessage(payload),
		ReceivedAt:        receivedAt,
	}, nil
}

func flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = form.Get(k)
	}
	return out
}
