package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/repository"
)

// LedgerWriter appends ledger entries. It exposes no update or delete.
type LedgerWriter struct {
	ledger repository.LedgerRepository
	logger *zap.Logger
}

// NewLedgerWriter creates a new LedgerWriter.
func NewLedgerWriter(ledger repository.LedgerRepository, logger *zap.Logger) *LedgerWriter {
	return &LedgerWriter{
		ledger: ledger,
		logger: logger.Named("ledger"),
	}
}

// RecordRequest describes the entry of one completed payment.
type RecordRequest struct {
	ExternalReference string
	Provider          domain.ProviderID
	Amount            decimal.Decimal
	Currency          string
	InvoiceIDs        []string
	At                time.Time
}

// Record writes the entry for a payment unless one exists. It returns the
// stored entry and whether this call created it.
func (w *LedgerWriter) Record(ctx context.Context, req RecordRequest) (*domain.LedgerEntry, bool, error) {
	if req.ExternalReference == "" {
		return nil, false, ErrInvalidReference
	}

	existing, err := w.ledger.GetByExternalReference(ctx, req.ExternalReference)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	entry := &domain.LedgerEntry{
		ID:                uuid.NewString(),
		ExternalReference: req.ExternalReference,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Provider:          req.Provider,
		InvoiceIDs:        req.InvoiceIDs,
		CreatedAt:         req.At,
	}

	// The read above is only a shortcut; the conditional insert decides.
	inserted, err := w.ledger.Insert(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := w.ledger.GetByExternalReference(ctx, req.ExternalReference)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	w.logger.Info("ledger entry recorded",
		zap.String("external_reference", entry.ExternalReference),
		zap.String("provider", string(entry.Provider)),
		zap.String("amount", entry.Amount.String()),
		zap.String("currency", entry.Currency),
		zap.Strings("invoice_ids", entry.InvoiceIDs),
	)

	return entry, true, nil
}
