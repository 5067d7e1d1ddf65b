package payu

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

// Options recognised in gateway.ChargeRequest.Options.
const (
	OptionBankCode = "pse_bank_code"
	OptionUserType = "pse_user_type" // N natural person, J company
	OptionDocType  = "pse_document_type"
	OptionDocument = "pse_document"
)

// Config holds the PayU merchant settings.
type Config struct {
	PaymentsURL string
	ReportsURL  string
	MerchantID  string
	AccountID   string
	APILogin    string
	APIKey      string
	Currency    string
	Country     string
	Test        bool
	Timeout     time.Duration
}

// Client is the PayU gateway.
type Client struct {
	cfg      Config
	payments *gateway.HTTPClient
	reports  *gateway.HTTPClient
	adapter  *Adapter
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient creates a PayU gateway.
func NewClient(cfg Config, rates *gateway.RateTable, logger *zap.Logger) *Client {
	if cfg.Country == "" {
		cfg.Country = "CO"
	}

	return &Client{
		cfg:      cfg,
		payments: gateway.NewHTTPClient(domain.ProviderPayU, cfg.PaymentsURL, cfg.Timeout, nil),
		reports:  gateway.NewHTTPClient(domain.ProviderPayU, cfg.ReportsURL, cfg.Timeout, nil),
		adapter:  NewAdapter(rates, cfg.Currency),
		logger:   logger.Named("gateway.payu"),
		now:      time.Now,
	}
}

// Adapter exposes the payload translator used by the webhook handler.
func (c *Client) Adapter() *Adapter {
	return c.adapter
}

// Provider implements gateway.Gateway.
func (c *Client) Provider() domain.ProviderID {
	return domain.ProviderPayU
}

type merchant struct {
	APILogin string `json:"apiLogin"`
	APIKey   string `json:"apiKey"`
}

type buyer struct {
	FullName     string `json:"fullName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`
	DNINumber    string `json:"dniNumber,omitempty"`
}

type order struct {
	AccountID        string             `json:"accountId"`
	ReferenceCode    string             `json:"referenceCode"`
	Description      string             `json:"description"`
	Language         string             `json:"language"`
	Signature        string             `json:"signature"`
	NotifyURL        string             `json:"notifyUrl,omitempty"`
	AdditionalValues map[string]txValue `json:"additionalValues"`
	Buyer            buyer              `json:"buyer"`
}

type transaction struct {
	Order           order             `json:"order"`
	Payer           buyer             `json:"payer"`
	ExtraParameters map[string]string `json:"extraParameters"`
	Type            string            `json:"type"`
	PaymentMethod   string            `json:"paymentMethod"`
	PaymentCountry  string            `json:"paymentCountry"`
}

type submitRequest struct {
	Language    string      `json:"language"`
	Command     string      `json:"command"`
	Merchant    merchant    `json:"merchant"`
	Transaction transaction `json:"transaction"`
	Test        bool        `json:"test"`
}

type submitResponse struct {
	Code                string `json:"code"`
	Error               string `json:"error"`
	TransactionResponse *struct {
		OrderID         int64          `json:"orderId"`
		TransactionID   string         `json:"transactionId"`
		State           string         `json:"state"`
		ResponseCode    string         `json:"responseCode"`
		ExtraParameters map[string]any `json:"extraParameters"`
	} `json:"transactionResponse"`
}

// CreateCharge submits a PSE transaction and returns the bank URL.
func (c *Client) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	amount, err := c.adapter.ChargeAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	value := amount.Amount.StringFixed(2)
	payer := buyer{
		FullName:     req.Payer.Name,
		EmailAddress: gateway.NormalizeEmail(req.Payer.Email),
		ContactPhone: gateway.DigitsOnly(req.Payer.Phone),
		DNINumber:    req.Options[OptionDocument],
	}

	body, err := c.payments.PostJSON(ctx, "create", "", submitRequest{
		Language: "es",
		Command:  "SUBMIT_TRANSACTION",
		Merchant: merchant{APILogin: c.cfg.APILogin, APIKey: c.cfg.APIKey},
		Transaction: transaction{
			Order: order{
				AccountID:     c.cfg.AccountID,
				ReferenceCode: req.ExternalReference,
				Description:   req.Description,
				Language:      "es",
				Signature:     c.signature(req.ExternalReference, value, amount.Currency),
				NotifyURL:     req.NotifyURL,
				AdditionalValues: map[string]txValue{
					"TX_VALUE": {Value: amount.Amount, Currency: amount.Currency},
				},
				Buyer: payer,
			},
			Payer: payer,
			ExtraParameters: map[string]string{
				"RESPONSE_URL":               req.ReturnURL,
				"FINANCIAL_INSTITUTION_CODE": req.Options[OptionBankCode],
				"USER_TYPE":                  req.Options[OptionUserType],
				"PSE_REFERENCE2":             req.Options[OptionDocType],
				"PSE_REFERENCE3":             req.Options[OptionDocument],
			},
			Type:           "AUTHORIZATION_AND_CAPTURE",
			PaymentMethod:  "PSE",
			PaymentCountry: c.cfg.Country,
		},
		Test: c.cfg.Test,
	})
	if err != nil {
		return nil, err
	}

	var res submitResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "decode payu submit response")
	}
	if res.Code != "SUCCESS" || res.TransactionResponse == nil {
		return nil, errors.Errorf("payu submit rejected: %s", res.Error)
	}

	tr := res.TransactionResponse
	if strings.EqualFold(tr.State, "DECLINED") || strings.EqualFold(tr.State, "ERROR") {
		return nil, errors.Errorf("payu declined transaction: %s", tr.ResponseCode)
	}

	bankURL, _ := tr.ExtraParameters["BANK_URL"].(string)
	if bankURL == "" {
		return nil, errors.New("payu response without BANK_URL")
	}

	return &gateway.Charge{
		ProviderPaymentID: tr.TransactionID,
		RedirectURL:       bankURL,
		Charged:           amount,
		Metadata:          domain.Metadata{Provider: domain.ProviderPayU, Payload: json.RawMessage(body)},
	}, nil
}

// FetchEvent is not used by PayU confirmations, which embed the status.
// It looks the reference up like PollEvent.
func (c *Client) FetchEvent(ctx context.Context, ref string) (*domain.CanonicalEvent, error) {
	return c.PollEvent(ctx, ref, "")
}

type queryRequest struct {
	Test     bool              `json:"test"`
	Language string            `json:"language"`
	Command  string            `json:"command"`
	Merchant merchant          `json:"merchant"`
	Details  map[string]string `json:"details"`
}

// PollEvent queries the order by reference code.
func (c *Client) PollEvent(ctx context.Context, ref, _ string) (*domain.CanonicalEvent, error) {
	body, err := c.reports.PostJSON(ctx, "poll", "", queryRequest{
		Test:     c.cfg.Test,
		Language: "es",
		Command:  "ORDER_DETAIL_BY_REFERENCE_CODE",
		Merchant: merchant{APILogin: c.cfg.APILogin, APIKey: c.cfg.APIKey},
		Details:  map[string]string{"referenceCode": ref},
	})
	if err != nil {
		return nil, err
	}

	return c.adapter.TranslateOrderDetail(body, c.now())
}

// signature is md5(apiKey~merchantId~referenceCode~value~currency).
func (c *Client) signature(ref, value, currency string) string {
	sum := md5.Sum([]byte(strings.Join([]string{c.cfg.APIKey, c.cfg.MerchantID, ref, value, currency}, "~")))
	return hex.EncodeToString(sum[:])
}

// Ensure Client implements gateway.Gateway.
var _ gateway.Gateway = (*Client)(nil)
