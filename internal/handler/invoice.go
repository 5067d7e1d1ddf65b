package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aquabill/internal/domain"
	"aquabill/internal/service"
)

// InvoiceHandler handles HTTP requests for invoices.
type InvoiceHandler struct {
	invoiceService *service.InvoiceService
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(invoiceService *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService}
}

// InvoiceResponse is the HTTP response for invoice operations.
type InvoiceResponse struct {
	ID          string     `json:"id"`
	Number      string     `json:"number"`
	CustomerID  string     `json:"customer_id"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	Consumption string     `json:"consumption_m3"`
	Total       string     `json:"total"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	DueAt       time.Time  `json:"due_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	PaymentRef  string     `json:"payment_ref,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// GetInvoice handles GET /v1/invoices/:id
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toInvoiceResponse(invoice))
}

// ArchiveInvoice handles POST /v1/admin/invoices/:id/archive
func (h *InvoiceHandler) ArchiveInvoice(c *gin.Context) {
	invoice, err := h.invoiceService.ArchiveInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toInvoiceResponse(invoice))
}

// VoidInvoice handles POST /v1/admin/invoices/:id/void
func (h *InvoiceHandler) VoidInvoice(c *gin.Context) {
	invoice, err := h.invoiceService.VoidInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toInvoiceResponse(invoice))
}

// DeleteInvoice handles DELETE /v1/admin/invoices/:id
func (h *InvoiceHandler) DeleteInvoice(c *gin.Context) {
	if err := h.invoiceService.DeleteInvoice(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func toInvoiceResponse(invoice *domain.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:          invoice.ID,
		Number:      invoice.Number,
		CustomerID:  invoice.CustomerID,
		PeriodStart: invoice.PeriodStart,
		PeriodEnd:   invoice.PeriodEnd,
		Consumption: invoice.Consumption().String(),
		Total:       invoice.Total.String(),
		Currency:    invoice.Currency,
		Status:      string(invoice.Status),
		DueAt:       invoice.DueAt,
		PaymentRef:  invoice.PaymentRef,
	}
	if !invoice.PaidAt.IsZero() {
		paidAt := invoice.PaidAt
		resp.PaidAt = &paidAt
	}
	if !invoice.ArchivedAt.IsZero() {
		archivedAt := invoice.ArchivedAt
		resp.ArchivedAt = &archivedAt
	}
	return resp
}
