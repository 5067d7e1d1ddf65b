package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
)

// Config holds the Mercado Pago account settings.
type Config struct {
	BaseURL        string
	AccessToken    string
	Currency       string
	DefaultCountry string
	Sandbox        bool
	Timeout        time.Duration
}

// Client is the Mercado Pago gateway.
type Client struct {
	cfg     Config
	http    *gateway.HTTPClient
	adapter *Adapter
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a Mercado Pago gateway.
func NewClient(cfg Config, rates *gateway.RateTable, logger *zap.Logger) *Client {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.AccessToken)

	return &Client{
		cfg:     cfg,
		http:    gateway.NewHTTPClient(domain.ProviderMercadoPago, cfg.BaseURL, cfg.Timeout, header),
		adapter: NewAdapter(rates, cfg.Currency),
		logger:  logger.Named("gateway.mercadopago"),
		now:     time.Now,
	}
}

// Adapter exposes the payload translator used by the webhook handler.
func (c *Client) Adapter() *Adapter {
	return c.adapter
}

// Provider implements gateway.Gateway.
func (c *Client) Provider() domain.ProviderID {
	return domain.ProviderMercadoPago
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferencePhone struct {
	AreaCode string `json:"area_code,omitempty"`
	Number   string `json:"number,omitempty"`
}

type preferencePayer struct {
	Name  string          `json:"name,omitempty"`
	Email string          `json:"email,omitempty"`
	Phone preferencePhone `json:"phone"`
}

type backURLs struct {
	Success string `json:"success"`
	Pending string `json:"pending"`
	Failure string `json:"failure"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	Payer             preferencePayer  `json:"payer"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	BackURLs          backURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// CreateCharge creates a checkout preference. The preference id is stored as
// provider payment id until the first payment notification replaces it.
func (c *Client) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	amount, err := c.adapter.ChargeAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	area, number := gateway.SplitPhone(req.Payer.Phone, c.cfg.DefaultCountry)
	price, _ := amount.Amount.Float64()

	body, err := c.http.PostJSON(ctx, "create", "/checkout/preferences", preferenceRequest{
		Items: []preferenceItem{{
			Title:      req.Description,
			Quantity:   1,
			UnitPrice:  price,
			CurrencyID: amount.Currency,
		}},
		Payer: preferencePayer{
			Name:  req.Payer.Name,
			Email: gateway.NormalizeEmail(req.Payer.Email),
			Phone: preferencePhone{AreaCode: area, Number: number},
		},
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotifyURL,
		BackURLs:          backURLs{Success: req.ReturnURL, Pending: req.ReturnURL, Failure: req.ReturnURL},
		AutoReturn:        "approved",
	})
	if err != nil {
		return nil, err
	}

	var res preferenceResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "decode mercadopago preference")
	}

	redirect := res.InitPoint
	if c.cfg.Sandbox && res.SandboxInitPoint != "" {
		redirect = res.SandboxInitPoint
	}
	if res.ID == "" || redirect == "" {
		return nil, errors.New("mercadopago preference without id or init point")
	}

	return &gateway.Charge{
		ProviderPaymentID: res.ID,
		RedirectURL:       redirect,
		Charged:           amount,
		Metadata:          domain.Metadata{Provider: domain.ProviderMercadoPago, Payload: json.RawMessage(body)},
	}, nil
}

// FetchEvent loads a payment by the id carried in a notification.
func (c *Client) FetchEvent(ctx context.Context, paymentID string) (*domain.CanonicalEvent, error) {
	body, err := c.http.GetJSON(ctx, "status", "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	return c.adapter.Translate(body, c.now())
}

// PollEvent searches payments by external reference. The stored provider id
// may still be a preference id, so it is not used here.
func (c *Client) PollEvent(ctx context.Context, ref, _ string) (*domain.CanonicalEvent, error) {
	query := url.Values{}
	query.Set("external_reference", ref)
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")

	body, err := c.http.GetJSON(ctx, "poll", "/v1/payments/search", query)
	if err != nil {
		return nil, err
	}

	return c.adapter.TranslateSearch(body, c.now())
}

// Ensure Client implements gateway.Gateway.
var _ gateway.Gateway = (*Client)(nil)
