package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
)

// ReceiptService handles receipt generation.
type ReceiptService struct {
	notificationService *NotificationService
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(notificationService *NotificationService) *ReceiptService {
	return &ReceiptService{
		notificationService: notificationService,
	}
}

// GenerateReceiptRequest contains the parameters for generating a receipt.
type GenerateReceiptRequest struct {
	Payment  *domain.Payment
	Customer *domain.Customer
	Invoices []*domain.Invoice
}

// GenerateReceipt builds the receipt of a settled payment and delivers it.
func (s *ReceiptService) GenerateReceipt(ctx context.Context, req GenerateReceiptRequest) (*domain.Receipt, error) {
	if req.Payment == nil {
		return nil, ErrInvalidReference
	}

	receipt := &domain.Receipt{
		ID:                uuid.NewString(),
		ExternalReference: req.Payment.ExternalReference,
		CustomerID:        req.Payment.CustomerID,
		Provider:          req.Payment.Provider,
		ProviderPaymentID: req.Payment.ProviderPaymentID,
		Total:             decimal.Zero,
		Currency:          req.Payment.Currency,
		PaidAt:            req.Payment.UpdatedAt,
		CreatedAt:         time.Now(),
	}
	if req.Customer != nil {
		receipt.CustomerName = req.Customer.Name
		receipt.CustomerEmail = req.Customer.Email
	}

	for _, inv := range req.Invoices {
		receipt.Lines = append(receipt.Lines, domain.ReceiptLine{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			PeriodStart:   inv.PeriodStart,
			PeriodEnd:     inv.PeriodEnd,
			Consumption:   inv.Consumption(),
			Amount:        inv.Total,
		})
		receipt.Total = receipt.Total.Add(inv.Total)
	}

	if s.notificationService != nil {
		if err := s.notificationService.NotifyReceiptReady(ctx, receipt, s.FormatReceipt(receipt)); err != nil {
			return receipt, err
		}
	}

	return receipt, nil
}

// FormatReceipt formats the receipt as plain text (for email/print).
func (s *ReceiptService) FormatReceipt(receipt *domain.Receipt) string {
	var b strings.Builder

	b.WriteString(`
=====================================
        WATER SERVICE RECEIPT
=====================================
Receipt ID: ` + receipt.ID + `
Reference:  ` + receipt.ExternalReference + `
Customer:   ` + receipt.CustomerName + `
Date:       ` + receipt.PaidAt.Format("Jan 02, 2006 3:04 PM") + `

INVOICES
-------------------------------------
`)

	for _, line := range receipt.Lines {
		b.WriteString(line.InvoiceNumber + "  " +
			line.PeriodStart.Format("2006-01-02") + " - " + line.PeriodEnd.Format("2006-01-02") + "  " +
			line.Consumption.StringFixed(1) + " m3  " +
			formatMoney(line.Amount, receipt.Currency) + "\n")
	}

	b.WriteString(`-------------------------------------
TOTAL: ` + formatMoney(receipt.Total, receipt.Currency) + `

PAYMENT
-------------------------------------
Provider:  ` + string(receipt.Provider) + `
Operation: ` + receipt.ProviderPaymentID + `

=====================================
   Thank you for your payment!
=====================================
`)

	return b.String()
}

func formatMoney(amount decimal.Decimal, currency string) string {
	return "$" + amount.StringFixed(2) + " " + currency
}
