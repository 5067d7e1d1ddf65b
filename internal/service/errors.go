package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCustomerID is returned when customer ID is empty.
	ErrInvalidCustomerID = errors.New("invalid customer id")

	// ErrInvalidInvoiceID is returned when invoice ID is empty.
	ErrInvalidInvoiceID = errors.New("invalid invoice id")

	// ErrNoInvoices is returned when a payment attempt covers no invoice.
	ErrNoInvoices = errors.New("payment attempt must cover at least one invoice")

	// ErrUnknownInvoice is returned when an invoice id does not exist.
	ErrUnknownInvoice = errors.New("unknown invoice")

	// ErrInvoiceNotOwned is returned when an invoice belongs to another customer.
	ErrInvoiceNotOwned = errors.New("invoice does not belong to customer")

	// ErrInvoiceNotPayable is returned when an invoice is not pending or overdue.
	ErrInvoiceNotPayable = errors.New("invoice is not pending or overdue")

	// ErrNonPositiveAmount is returned when an invoice total is zero or negative.
	ErrNonPositiveAmount = errors.New("invoice amount must be positive")

	// ErrMixedCurrency is returned when invoices of one attempt differ in currency.
	ErrMixedCurrency = errors.New("invoices must share one currency")

	// ErrCheckoutInProgress is returned when the customer already has a
	// checkout being created.
	ErrCheckoutInProgress = errors.New("checkout already in progress for customer")

	// ErrInvalidReference is returned when an external reference is empty.
	ErrInvalidReference = errors.New("invalid external reference")

	// ErrPaymentNotFound is returned when no payment matches a reference.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrProviderMismatch is returned when an event comes from a provider
	// other than the one the payment was created with.
	ErrProviderMismatch = errors.New("event provider does not match payment")

	// ErrUnmappedStatus is returned when a canonical status has no payment status.
	ErrUnmappedStatus = errors.New("canonical status has no payment status")
)

// RetryableError marks a reconciliation failure caused by local processing
// (database, network). The provider stays the source of truth, so the
// payment is never marked failed because of it; the delivery must be retried.
type RetryableError struct {
	ExternalReference string
	Err               error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("reconcile %s: retryable: %v", e.ExternalReference, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is, or wraps, a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

func retryable(ref string, err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{ExternalReference: ref, Err: err}
}
