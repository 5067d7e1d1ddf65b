package flow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

// Config holds the Flow merchant credentials.
type Config struct {
	BaseURL       string
	APIKey        string
	SecretKey     string
	Timeout       time.Duration
	Sandbox       bool
	SandboxAmount decimal.Decimal
	// PaymentMethod 9 lets the payer choose among every enabled method.
	PaymentMethod int
}

// Client is the Flow gateway.
type Client struct {
	cfg     Config
	http    *gateway.HTTPClient
	adapter *Adapter
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a Flow gateway.
func NewClient(cfg Config, rates *gateway.RateTable, logger *zap.Logger) *Client {
	if cfg.PaymentMethod == 0 {
		cfg.PaymentMethod = 9
	}

	return &Client{
		cfg:     cfg,
		http:    gateway.NewHTTPClient(domain.ProviderFlow, cfg.BaseURL, cfg.Timeout, nil),
		adapter: NewAdapter(rates, cfg.Sandbox, cfg.SandboxAmount),
		logger:  logger.Named("gateway.flow"),
		now:     time.Now,
	}
}

// Adapter exposes the payload translator used by the webhook handlers.
func (c *Client) Adapter() *Adapter {
	return c.adapter
}

// Provider implements gateway.Gateway.
func (c *Client) Provider() domain.ProviderID {
	return domain.ProviderFlow
}

type createResponse struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	FlowOrder int64  `json:"flowOrder"`
}

// CreateCharge opens a Flow payment and returns the hosted checkout URL.
func (c *Client) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	amount, fixed, err := c.adapter.ChargeAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if fixed {
		c.logger.Warn("sandbox fixed amount replaces invoice total",
			zap.String("external_reference", req.ExternalReference),
			zap.String("invoice_total", req.Amount.String()),
			zap.String("charged", amount.String()),
		)
	}

	params := url.Values{}
	params.Set("apiKey", c.cfg.APIKey)
	params.Set("commerceOrder", req.ExternalReference)
	params.Set("subject", req.Description)
	params.Set("currency", amount.Currency)
	params.Set("amount", amount.Amount.StringFixed(0))
	params.Set("email", gateway.NormalizeEmail(req.Payer.Email))
	params.Set("paymentMethod", strconv.Itoa(c.cfg.PaymentMethod))
	params.Set("urlConfirmation", req.NotifyURL)
	params.Set("urlReturn", req.ReturnURL)
	params.Set("s", sign(params, c.cfg.SecretKey))

	body, err := c.http.PostForm(ctx, "create", "/payment/create", params)
	if err != nil {
		return nil, err
	}

	var res createResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "decode flow create response")
	}
	if res.URL == "" || res.Token == "" {
		return nil, errors.New("flow create response without url or token")
	}

	return &gateway.Charge{
		ProviderPaymentID: strconv.FormatInt(res.FlowOrder, 10),
		RedirectURL:       res.URL + "?token=" + url.QueryEscape(res.Token),
		Charged:           amount,
		Metadata:          domain.Metadata{Provider: domain.ProviderFlow, Payload: json.RawMessage(body)},
	}, nil
}

// FetchEvent resolves a notification token into a canonical event.
func (c *Client) FetchEvent(ctx context.Context, token string) (*domain.CanonicalEvent, error) {
	params := url.Values{}
	params.Set("apiKey", c.cfg.APIKey)
	params.Set("token", token)
	params.Set("s", sign(params, c.cfg.SecretKey))

	body, err := c.http.GetJSON(ctx, "status", "/payment/getStatus", params)
	if err != nil {
		return nil, err
	}

	return c.adapter.Translate(body, c.now())
}

// PollEvent looks up a payment by flow order, or by commerce order when the
// flow order is unknown.
func (c *Client) PollEvent(ctx context.Context, ref, providerPaymentID string) (*domain.CanonicalEvent, error) {
	params := url.Values{}
	params.Set("apiKey", c.cfg.APIKey)

	path := "/payment/getStatusByCommerceId"
	if providerPaymentID != "" {
		path = "/payment/getStatusByFlowOrder"
		params.Set("flowOrder", providerPaymentID)
	} else {
		params.Set("commerceId", ref)
	}
	params.Set("s", sign(params, c.cfg.SecretKey))

	body, err := c.http.GetJSON(ctx, "poll", path, params)
	if err != nil {
		return nil, err
	}

	return c.adapter.Translate(body, c.now())
}

// sign concatenates the parameters sorted by name and signs them with
// HMAC-SHA256.
func sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "s" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	mac := hmac.New(sha256.New, []byte(secret))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params.Get(k)))
	}

	return hex.EncodeToString(mac.Sum(nil))
}

// Ensure Client implements gateway.Gateway.
var _ gateway.Gateway = (*Client)(nil)
