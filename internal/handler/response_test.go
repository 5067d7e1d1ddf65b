package handler

import (
	"errors"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
	"aquabill/internal/repository"
	"aquabill/internal/service"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err  error
		want int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{service.ErrPaymentNotFound, http.StatusNotFound},
		{pkgerrors.Wrap(service.ErrUnknownInvoice, "invoice x"), http.StatusBadRequest},
		{pkgerrors.Wrapf(gateway.ErrUnknownProvider, "%q", "webpay"), http.StatusBadRequest},
		{service.ErrMixedCurrency, http.StatusUnprocessableEntity},
		{gateway.ErrNoRate, http.StatusUnprocessableEntity},
		{service.ErrInvoiceNotOwned, http.StatusForbidden},
		{domain.ErrInvoiceImmutable, http.StatusConflict},
		{domain.ErrInvoiceNotPaid, http.StatusConflict},
		{service.ErrCheckoutInProgress, http.StatusConflict},
		{&gateway.TransientError{Provider: domain.ProviderFlow, Op: "create", Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{&service.RetryableError{ExternalReference: "ref-1", Err: errors.New("db")}, http.StatusServiceUnavailable},
		{pkgerrors.Wrap(&gateway.StatusError{Provider: domain.ProviderPayU, Op: "create", StatusCode: 400}, "create charge"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
