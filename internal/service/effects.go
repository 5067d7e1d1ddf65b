package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"aquabill/internal/audit"
	"aquabill/internal/domain"
	"aquabill/internal/redis"
	"aquabill/internal/repository"
)

// Effect names.
const (
	EffectNotify = "notify"
	EffectPush   = "push"
	EffectAudit  = "audit"
)

// AuditSink stores audit trail records.
type AuditSink interface {
	Append(ctx context.Context, r audit.Record) error
}

// Ensure the SQLite store can back the audit effect.
var _ AuditSink = (*audit.Store)(nil)

// NewNotifyEffect sends the receipt of a settled payment, or an outcome
// notice for rejected, cancelled and refunded payments. A resumed settlement
// of a refunded payment sends nothing.
func NewNotifyEffect(receipts *ReceiptService, notifications *NotificationService, customers repository.CustomerRepository) Effect {
	return NewEffect(EffectNotify, func(ctx context.Context, n Notice) error {
		customer, err := customers.GetByID(ctx, n.Payment.CustomerID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		switch n.Payment.Status {
		case domain.PaymentStatusCompleted:
			_, err = receipts.GenerateReceipt(ctx, GenerateReceiptRequest{
				Payment:  n.Payment,
				Customer: customer,
				Invoices: n.Invoices,
			})
			return err
		case domain.PaymentStatusPending, domain.PaymentStatusCreated:
			return nil
		default:
			if n.Resumed {
				// The outcome was announced when the transition applied.
				return nil
			}
			return notifications.NotifyPaymentOutcome(ctx, n.Payment, customer)
		}
	})
}

// NewPushEffect publishes the new status to the customer's portal sessions.
func NewPushEffect(publisher redis.PublisherInterface) Effect {
	return NewEffect(EffectPush, func(ctx context.Context, n Notice) error {
		_, err := publisher.PublishPaymentUpdate(ctx, n.Payment.CustomerID, redis.PaymentUpdate{
			ExternalReference: n.Payment.ExternalReference,
			Status:            string(n.Payment.Status),
			InvoiceIDs:        n.Payment.InvoiceIDs,
			Amount:            n.Payment.Amount.String(),
			Currency:          n.Payment.Currency,
			At:                n.At,
		})
		return err
	})
}

type auditDetail struct {
	Previous          domain.PaymentStatus `json:"previous"`
	ProviderPaymentID string               `json:"provider_payment_id,omitempty"`
	Amount            string               `json:"amount"`
	Currency          string               `json:"currency"`
	PaidInvoices      []string             `json:"paid_invoices,omitempty"`
	LedgerEntryID     string               `json:"ledger_entry_id,omitempty"`
	LedgerAmount      string               `json:"ledger_amount,omitempty"`
	Resumed           bool                 `json:"resumed,omitempty"`
}

// NewAuditEffect writes one audit record per transition.
func NewAuditEffect(sink AuditSink) Effect {
	return NewEffect(EffectAudit, func(ctx context.Context, n Notice) error {
		detail := auditDetail{
			Previous:          n.Previous,
			ProviderPaymentID: n.Payment.ProviderPaymentID,
			Amount:            n.Payment.Amount.String(),
			Currency:          n.Payment.Currency,
			Resumed:           n.Resumed,
		}
		for _, inv := range n.Invoices {
			detail.PaidInvoices = append(detail.PaidInvoices, inv.ID)
		}
		if n.Ledger != nil {
			detail.LedgerEntryID = n.Ledger.ID
			detail.LedgerAmount = n.Ledger.Amount.String()
		}

		raw, err := json.Marshal(detail)
		if err != nil {
			return err
		}

		return sink.Append(ctx, audit.Record{
			ExternalReference: n.Payment.ExternalReference,
			Provider:          string(n.Payment.Provider),
			Action:            "payment." + strings.ToLower(string(n.Payment.Status)),
			Status:            string(n.Payment.Status),
			InvoiceIDs:        n.Payment.InvoiceIDs,
			Detail:            raw,
			CreatedAt:         n.At,
		})
	})
}
