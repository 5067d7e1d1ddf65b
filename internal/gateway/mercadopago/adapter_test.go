package mercadopago

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

func newTestAdapter() *Adapter {
	return NewAdapter(gateway.NewRateTable(nil), "COP")
}

func TestTranslate_StatusTable(t *testing.T) {
	t.Parallel()

	a := newTestAdapter()

	tests := []struct {
		status string
		want   domain.CanonicalStatus
	}{
		{"approved", domain.CanonicalApproved},
		{"pending", domain.CanonicalPending},
		{"in_process", domain.CanonicalPending},
		{"authorized", domain.CanonicalPending},
		{"rejected", domain.CanonicalRejected},
		{"cancelled", domain.CanonicalRejected},
		{"refunded", domain.CanonicalRefunded},
		{"charged_back", domain.CanonicalRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			payload := `{"id":1234567,"status":"` + tt.status + `","external_reference":"ref-1","transaction_amount":120000,"currency_id":"COP"}`

			event, err := a.Translate([]byte(payload), time.Now())
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if event.Status != tt.want {
				t.Errorf("Status = %s, want %s", event.Status, tt.want)
			}
			if event.ProviderPaymentID != "1234567" {
				t.Errorf("ProviderPaymentID = %q", event.ProviderPaymentID)
			}
			if !event.Amount.Equal(decimal.NewFromInt(120000)) || event.Currency != "COP" {
				t.Errorf("amount = %s %s", event.Amount, event.Currency)
			}
		})
	}
}

func TestTranslate_UnknownStatus(t *testing.T) {
	t.Parallel()

	payload := `{"id":1,"status":"in_mediation","external_reference":"ref-1"}`
	if _, err := newTestAdapter().Translate([]byte(payload), time.Now()); !gateway.IsParseError(err) {
		t.Errorf("expected ParseError, got %v", err)
	}
}

func TestTranslate_MissingExternalReference(t *testing.T) {
	t.Parallel()

	a := newTestAdapter()

	event, err := a.Translate([]byte(`{"id":987,"status":"approved","transaction_amount":5000,"currency_id":"COP"}`), time.Now())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if event.ExternalReference != "" || event.ProviderPaymentID != "987" {
		t.Errorf("expected payment id only, got ref %q id %q", event.ExternalReference, event.ProviderPaymentID)
	}

	if _, err := a.Translate([]byte(`{"status":"approved"}`), time.Now()); !gateway.IsParseError(err) {
		t.Errorf("expected ParseError without any identifier, got %v", err)
	}
}

func TestParseNotification(t *testing.T) {
	t.Parallel()

	a := newTestAdapter()

	tests := []struct {
		name    string
		query   url.Values
		body    string
		wantID  string
		wantErr func(error) bool
	}{
		{
			name:   "webhook body",
			body:   `{"action":"payment.updated","type":"payment","data":{"id":"998877"}}`,
			wantID: "998877",
		},
		{
			name:   "numeric id",
			body:   `{"action":"payment.created","data":{"id":998877}}`,
			wantID: "998877",
		},
		{
			name:   "legacy ipn query",
			query:  url.Values{"topic": {"payment"}, "id": {"42"}},
			wantID: "42",
		},
		{
			name:    "merchant order ignored",
			body:    `{"action":"merchant_order","type":"merchant_order","data":{"id":"1"}}`,
			wantErr: func(err error) bool { return errors.Is(err, gateway.ErrIgnoredNotification) },
		},
		{
			name:    "missing id",
			body:    `{"type":"payment","data":{}}`,
			wantErr: gateway.IsParseError,
		},
		{
			name:    "garbage",
			body:    `{{`,
			wantErr: gateway.IsParseError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := tt.query
			if query == nil {
				query = url.Values{}
			}

			id, err := a.ParseNotification(query, []byte(tt.body))
			if tt.wantErr != nil {
				if !tt.wantErr(err) {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNotification() error = %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestTranslateSearch(t *testing.T) {
	t.Parallel()

	a := newTestAdapter()

	if _, err := a.TranslateSearch([]byte(`{"results":[]}`), time.Now()); !errors.Is(err, gateway.ErrNoStatus) {
		t.Errorf("empty search: got %v, want ErrNoStatus", err)
	}

	payload := `{"results":[{"id":2,"status":"approved","external_reference":"ref-1","transaction_amount":10,"currency_id":"COP"},{"id":1,"status":"rejected","external_reference":"ref-1"}]}`
	event, err := a.TranslateSearch([]byte(payload), time.Now())
	if err != nil {
		t.Fatalf("TranslateSearch() error = %v", err)
	}
	if event.ProviderPaymentID != "2" || event.Status != domain.CanonicalApproved {
		t.Errorf("picked %s/%s, want most recent approved payment", event.ProviderPaymentID, event.Status)
	}
}
