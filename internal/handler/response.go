package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
	"aquabill/internal/repository"
	"aquabill/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	var statusErr *gateway.StatusError

	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrPaymentNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidCustomerID),
		errors.Is(err, service.ErrInvalidInvoiceID),
		errors.Is(err, service.ErrInvalidReference),
		errors.Is(err, service.ErrNoInvoices),
		errors.Is(err, service.ErrUnknownInvoice),
		errors.Is(err, gateway.ErrUnknownProvider):
		return http.StatusBadRequest

	// Business rule errors
	case errors.Is(err, service.ErrNonPositiveAmount),
		errors.Is(err, service.ErrMixedCurrency),
		errors.Is(err, gateway.ErrNoRate):
		return http.StatusUnprocessableEntity

	case errors.Is(err, service.ErrInvoiceNotOwned):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrInvoiceNotPayable),
		errors.Is(err, service.ErrCheckoutInProgress),
		errors.Is(err, domain.ErrInvoiceImmutable),
		errors.Is(err, domain.ErrInvoiceNotPaid),
		errors.Is(err, domain.ErrInvoiceNotPayable),
		errors.Is(err, domain.ErrInvoiceAlreadyPaid),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict

	// Provider errors
	case gateway.IsTransient(err), service.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &statusErr):
		return http.StatusBadGateway

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
