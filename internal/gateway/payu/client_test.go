package payu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

func TestClient_CreateCharge(t *testing.T) {
	t.Parallel()

	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"code":"SUCCESS","transactionResponse":{"orderId":1,"transactionId":"tx-9","state":"PENDING","extraParameters":{"BANK_URL":"https://bank.test/pse"}}}`))
	}))
	defer srv.Close()

	cfg := Config{PaymentsURL: srv.URL, ReportsURL: srv.URL, MerchantID: "508029", APIKey: "key", APILogin: "login", AccountID: "512321"}
	c := NewClient(cfg, gateway.NewRateTable(nil), zap.NewNop())

	charge, err := c.CreateCharge(context.Background(), gateway.ChargeRequest{
		ExternalReference: "ref-1",
		Amount:            domain.NewMoney(decimal.NewFromInt(120000), "COP"),
		Description:       "Water bill",
		Payer:             gateway.Payer{Name: "Ana", Email: "ana@example.com", Phone: "(601) 555-1234"},
		Options:           map[string]string{OptionBankCode: "1022", OptionUserType: "N"},
	})
	if err != nil {
		t.Fatalf("CreateCharge() error = %v", err)
	}

	if charge.ProviderPaymentID != "tx-9" || charge.RedirectURL != "https://bank.test/pse" {
		t.Errorf("charge = %+v", charge)
	}
	if got.Command != "SUBMIT_TRANSACTION" || got.Transaction.PaymentMethod != "PSE" {
		t.Errorf("request = %+v", got)
	}
	if got.Transaction.Payer.ContactPhone != "6015551234" {
		t.Errorf("phone = %q", got.Transaction.Payer.ContactPhone)
	}
	if got.Transaction.Order.Signature != c.signature("ref-1", "120000.00", "COP") {
		t.Errorf("signature = %q", got.Transaction.Order.Signature)
	}
	if got.Transaction.ExtraParameters["FINANCIAL_INSTITUTION_CODE"] != "1022" {
		t.Errorf("bank code = %q", got.Transaction.ExtraParameters["FINANCIAL_INSTITUTION_CODE"])
	}
}

func TestClient_CreateCharge_Rejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"ERROR","error":"Invalid signature"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{PaymentsURL: srv.URL, ReportsURL: srv.URL}, gateway.NewRateTable(nil), zap.NewNop())

	_, err := c.CreateCharge(context.Background(), gateway.ChargeRequest{
		ExternalReference: "ref-1",
		Amount:            domain.NewMoney(decimal.NewFromInt(1000), "COP"),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if gateway.IsTransient(err) {
		t.Error("rejection must not be transient")
	}
}
