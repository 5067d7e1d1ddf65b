package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/repository"
)

// InvoiceService exposes the guarded administrative invoice operations.
// Paying an invoice is not among them: only reconciliation does that.
type InvoiceService struct {
	invoices repository.InvoiceRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(invoices repository.InvoiceRepository, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		invoices: invoices,
		logger:   logger.Named("invoice"),
		now:      time.Now,
	}
}

// GetInvoice retrieves an invoice by ID.
func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if id == "" {
		return nil, ErrInvalidInvoiceID
	}
	return s.invoices.GetByID(ctx, id)
}

// ArchiveInvoice archives a paid invoice.
func (s *InvoiceService) ArchiveInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if id == "" {
		return nil, ErrInvalidInvoiceID
	}

	invoice, err := s.invoices.Archive(ctx, id, s.now())
	if err != nil {
		s.logger.Warn("archive rejected", zap.String("invoice_id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info("invoice archived", zap.String("invoice_id", id), zap.String("payment_ref", invoice.PaymentRef))
	return invoice, nil
}

// VoidInvoice cancels an unpaid invoice.
func (s *InvoiceService) VoidInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if id == "" {
		return nil, ErrInvalidInvoiceID
	}

	invoice, err := s.invoices.Void(ctx, id)
	if err != nil {
		s.logger.Warn("void rejected", zap.String("invoice_id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info("invoice voided", zap.String("invoice_id", id))
	return invoice, nil
}

// DeleteInvoice removes an unpaid invoice.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidInvoiceID
	}

	if err := s.invoices.Delete(ctx, id); err != nil {
		s.logger.Warn("delete rejected", zap.String("invoice_id", id), zap.Error(err))
		return err
	}

	s.logger.Info("invoice deleted", zap.String("invoice_id", id))
	return nil
}
