package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
	"aquabill/internal/gateway/flow"
	"aquabill/internal/gateway/mercadopago"
	"aquabill/internal/gateway/payu"
	"aquabill/internal/metrics"
	"aquabill/internal/service"
)

const maxWebhookBody = 64 << 10

// Webhook acknowledgement states.
const (
	webhookApplied = "applied"
	webhookNoop    = "noop"
	webhookIgnored = "ignored"
	webhookPending = "pending"
)

// Payment states reported to the portal after a browser return.
const (
	stateSuccess      = "success"
	statePending      = "pending"
	stateFail         = "fail"
	stateInternalFail = "internal_fail"
)

// EventFetcher resolves the key carried by a notification into a canonical
// event. Implemented by the provider clients.
type EventFetcher interface {
	FetchEvent(ctx context.Context, key string) (*domain.CanonicalEvent, error)
}

// WebhookResponse acknowledges a provider delivery.
type WebhookResponse struct {
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference,omitempty"`
	PaymentStatus     string `json:"payment_status,omitempty"`
}

// WebhookHandler receives provider notifications and feeds them to the
// reconciliation service. Parse failures are acknowledged with 200 so the
// provider stops retrying; local failures answer 503 so it retries.
type WebhookHandler struct {
	reconciler service.ReconcilerInterface
	resultURL  string
	logger     *zap.Logger
	now        func() time.Time

	flowAdapter *flow.Adapter
	flowFetcher EventFetcher
	mpAdapter   *mercadopago.Adapter
	mpFetcher   EventFetcher
	payuAdapter *payu.Adapter
}

// NewWebhookHandler creates a new WebhookHandler. resultURL is the portal
// page payers are sent back to after a redirect callback.
func NewWebhookHandler(reconciler service.ReconcilerInterface, resultURL string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		resultURL:  resultURL,
		logger:     logger.Named("webhook"),
		now:        time.Now,
	}
}

// WithFlow enables the Flow webhook and redirect callback.
func (h *WebhookHandler) WithFlow(adapter *flow.Adapter, fetcher EventFetcher) *WebhookHandler {
	h.flowAdapter = adapter
	h.flowFetcher = fetcher
	return h
}

// WithMercadoPago enables the Mercado Pago webhook.
func (h *WebhookHandler) WithMercadoPago(adapter *mercadopago.Adapter, fetcher EventFetcher) *WebhookHandler {
	h.mpAdapter = adapter
	h.mpFetcher = fetcher
	return h
}

// WithPayU enables the PayU confirmation webhook.
func (h *WebhookHandler) WithPayU(adapter *payu.Adapter) *WebhookHandler {
	h.payuAdapter = adapter
	return h
}

// Register mounts the routes of every enabled provider.
func (h *WebhookHandler) Register(v1 *gin.RouterGroup) {
	webhooks := v1.Group("/webhooks")
	callbacks := v1.Group("/callbacks")

	if h.flowAdapter != nil {
		webhooks.POST("/flow", h.FlowWebhook)
		callbacks.GET("/flow", h.FlowCallback)
		callbacks.POST("/flow", h.FlowCallback)
	}
	if h.mpAdapter != nil {
		webhooks.POST("/mercadopago", h.MercadoPagoWebhook)
	}
	if h.payuAdapter != nil {
		webhooks.POST("/payu", h.PayUWebhook)
	}
}

// FlowWebhook handles POST /v1/webhooks/flow
func (h *WebhookHandler) FlowWebhook(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		h.acknowledgeUnparsable(c, domain.ProviderFlow, err)
		return
	}

	token, err := h.flowAdapter.ParseNotification(c.ContentType(), body)
	if err != nil {
		h.acknowledgeUnparsable(c, domain.ProviderFlow, err)
		return
	}

	event, err := h.flowFetcher.FetchEvent(c.Request.Context(), token)
	if err != nil {
		h.respondFetchError(c, domain.ProviderFlow, err)
		return
	}

	h.reconcile(c, event)
}

// FlowCallback handles the payer's browser return from Flow. The token is
// resolved and reconciled like a webhook, then the payer is redirected to
// the portal with the payment state.
func (h *WebhookHandler) FlowCallback(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.PostForm("token")
	}
	if token == "" {
		metrics.WebhookParseErrors.WithLabelValues(string(domain.ProviderFlow)).Inc()
		h.redirect(c, "", stateInternalFail)
		return
	}

	ctx := c.Request.Context()
	log := h.logger.With(zap.String("provider", string(domain.ProviderFlow)))

	event, err := h.flowFetcher.FetchEvent(ctx, token)
	if err != nil {
		log.Warn("callback status lookup failed", zap.Error(err))
		h.redirect(c, "", stateInternalFail)
		return
	}

	result, err := h.reconciler.Reconcile(ctx, event)
	if err != nil {
		if service.IsRetryable(err) {
			// The poller finishes the work; report what the provider said.
			h.redirect(c, event.ExternalReference, stateForEvent(event.Status))
			return
		}
		log.Warn("callback reconcile failed", zap.String("external_reference", event.ExternalReference), zap.Error(err))
		h.redirect(c, event.ExternalReference, stateInternalFail)
		return
	}

	h.redirect(c, event.ExternalReference, stateForPayment(result.Payment.Status))
}

// MercadoPagoWebhook handles POST /v1/webhooks/mercadopago
func (h *WebhookHandler) MercadoPagoWebhook(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		h.acknowledgeUnparsable(c, domain.ProviderMercadoPago, err)
		return
	}

	paymentID, err := h.mpAdapter.ParseNotification(c.Request.URL.Query(), body)
	if errors.Is(err, gateway.ErrIgnoredNotification) {
		respondJSON(c, http.StatusOK, WebhookResponse{Status: webhookIgnored})
		return
	}
	if err != nil {
		h.acknowledgeUnparsable(c, domain.ProviderMercadoPago, err)
		return
	}

	event, err := h.mpFetcher.FetchEvent(c.Request.Context(), paymentID)
	if err != nil {
		h.respondFetchError(c, domain.ProviderMercadoPago, err)
		return
	}

	h.reconcile(c, event)
}

// PayUWebhook handles POST /v1/webhooks/payu
func (h *WebhookHandler) PayUWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	if err := c.Request.ParseForm(); err != nil {
		h.acknowledgeUnparsable(c, domain.ProviderPayU, gateway.NewParseError(domain.ProviderPayU, "decode form", err))
		return
	}

	event, err := h.payuAdapter.TranslateConfirmation(c.Request.PostForm, h.now())
	if err != nil {
		h.acknowledgeUnparsable(c, domain.ProviderPayU, err)
		return
	}

	h.reconcile(c, event)
}

func (h *WebhookHandler) reconcile(c *gin.Context, event *domain.CanonicalEvent) {
	result, err := h.reconciler.Reconcile(c.Request.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound),
			errors.Is(err, service.ErrProviderMismatch),
			errors.Is(err, service.ErrInvalidReference),
			errors.Is(err, service.ErrUnmappedStatus):
			h.logger.Warn("event not applicable",
				zap.String("provider", string(event.Provider)),
				zap.String("external_reference", event.ExternalReference),
				zap.Error(err),
			)
			respondJSON(c, http.StatusOK, WebhookResponse{Status: webhookIgnored, ExternalReference: event.ExternalReference})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "reconciliation failed, retry later"})
		}
		return
	}

	status := webhookNoop
	if result.Outcome == service.OutcomeApplied {
		status = webhookApplied
	}

	respondJSON(c, http.StatusOK, WebhookResponse{
		Status:            status,
		ExternalReference: event.ExternalReference,
		PaymentStatus:     string(result.Payment.Status),
	})
}

// acknowledgeUnparsable answers 200 for a payload that cannot be translated.
// The event is not processed.
func (h *WebhookHandler) acknowledgeUnparsable(c *gin.Context, provider domain.ProviderID, err error) {
	metrics.WebhookParseErrors.WithLabelValues(string(provider)).Inc()
	h.logger.Warn("unparsable notification", zap.String("provider", string(provider)), zap.Error(err))
	respondJSON(c, http.StatusOK, WebhookResponse{Status: webhookIgnored})
}

func (h *WebhookHandler) respondFetchError(c *gin.Context, provider domain.ProviderID, err error) {
	log := h.logger.With(zap.String("provider", string(provider)))

	switch {
	case gateway.IsParseError(err):
		h.acknowledgeUnparsable(c, provider, err)
	case errors.Is(err, gateway.ErrNoStatus):
		respondJSON(c, http.StatusOK, WebhookResponse{Status: webhookPending})
	case gateway.IsTransient(err):
		log.Warn("status lookup failed, asking provider to retry", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "status lookup failed, retry later"})
	default:
		// A rejected lookup will not succeed on redelivery.
		log.Error("status lookup rejected", zap.Error(err))
		respondJSON(c, http.StatusOK, WebhookResponse{Status: webhookIgnored})
	}
}

func (h *WebhookHandler) redirect(c *gin.Context, ref, state string) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	q.Set("payment_state", state)

	c.Redirect(http.StatusSeeOther, h.resultURL+"?"+q.Encode())
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxWebhookBody {
		return nil, errors.New("notification body too large")
	}
	return body, nil
}

func stateForPayment(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentStatusCompleted:
		return stateSuccess
	case domain.PaymentStatusCreated, domain.PaymentStatusPending:
		return statePending
	default:
		return stateFail
	}
}

func stateForEvent(status domain.CanonicalStatus) string {
	switch status {
	case domain.CanonicalApproved:
		return stateSuccess
	case domain.CanonicalPending:
		return statePending
	default:
		return stateFail
	}
}
