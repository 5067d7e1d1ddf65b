package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aquabill/internal/domain"
	"aquabill/internal/redis"
	"aquabill/internal/service"
)

// PaymentService is the part of service.PaymentService the handler needs.
type PaymentService interface {
	CreatePaymentAttempt(ctx context.Context, req service.CreatePaymentAttemptRequest) (*service.CreatePaymentAttemptResponse, error)
	GetPaymentStatus(ctx context.Context, ref string) (*redis.CachedPayment, error)
}

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// CreatePaymentRequest is the HTTP request body for opening a checkout.
type CreatePaymentRequest struct {
	CustomerID string            `json:"customer_id"`
	InvoiceIDs []string          `json:"invoice_ids"`
	Provider   string            `json:"provider"`
	Options    map[string]string `json:"options,omitempty"`
}

// CreatePaymentResponse tells the portal where to send the payer.
type CreatePaymentResponse struct {
	ExternalReference string   `json:"external_reference"`
	RedirectURL       string   `json:"redirect_url"`
	Provider          string   `json:"provider"`
	Amount            string   `json:"amount"`
	Currency          string   `json:"currency"`
	ChargedAmount     string   `json:"charged_amount"`
	ChargedCurrency   string   `json:"charged_currency"`
	InvoiceIDs        []string `json:"invoice_ids"`
	Status            string   `json:"status"`
}

// PaymentStatusResponse is the HTTP response for payment status reads.
type PaymentStatusResponse struct {
	ExternalReference string    `json:"external_reference"`
	CustomerID        string    `json:"customer_id"`
	Provider          string    `json:"provider"`
	Status            string    `json:"status"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	InvoiceIDs        []string  `json:"invoice_ids"`
	Settled           bool      `json:"settled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreatePayment handles POST /v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.CustomerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "customer_id is required"})
		return
	}

	if len(req.InvoiceIDs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invoice_ids is required"})
		return
	}

	if req.Provider == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "provider is required"})
		return
	}

	resp, err := h.paymentService.CreatePaymentAttempt(c.Request.Context(), service.CreatePaymentAttemptRequest{
		CustomerID: req.CustomerID,
		InvoiceIDs: req.InvoiceIDs,
		Provider:   domain.ProviderID(req.Provider),
		Options:    req.Options,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	p := resp.Payment
	respondJSON(c, http.StatusCreated, CreatePaymentResponse{
		ExternalReference: resp.ExternalReference,
		RedirectURL:       resp.RedirectURL,
		Provider:          string(p.Provider),
		Amount:            p.Amount.String(),
		Currency:          p.Currency,
		ChargedAmount:     p.Charged.Amount.String(),
		ChargedCurrency:   p.Charged.Currency,
		InvoiceIDs:        p.InvoiceIDs,
		Status:            string(p.Status),
	})
}

// GetPayment handles GET /v1/payments/:ref
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	ref := c.Param("ref")

	payment, err := h.paymentService.GetPaymentStatus(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, PaymentStatusResponse{
		ExternalReference: payment.ExternalReference,
		CustomerID:        payment.CustomerID,
		Provider:          payment.Provider,
		Status:            payment.Status,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		InvoiceIDs:        payment.InvoiceIDs,
		Settled:           payment.Settled,
		UpdatedAt:         payment.UpdatedAt,
	})
}
