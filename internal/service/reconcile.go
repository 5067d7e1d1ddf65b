package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/metrics"
	"aquabill/internal/redis"
	"aquabill/internal/repository"
)

// Outcome is the result of applying one canonical event.
type Outcome string

const (
	// OutcomeApplied means this call performed a real transition (or
	// resumed an interrupted settlement).
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeNoop means the event was a duplicate, stale or out of order.
	OutcomeNoop Outcome = "NOOP"
)

// ReconcileResult describes what a reconciliation call did.
type ReconcileResult struct {
	Outcome Outcome
	Payment *domain.Payment
	// PaidInvoices are the invoices credited to the payment during settlement.
	PaidInvoices []*domain.Invoice
	Ledger       *domain.LedgerEntry
	// Resumed is true when a previously interrupted settlement was finished.
	Resumed bool
	// Dispatch reports the side effects that failed. It never affects Outcome.
	Dispatch DispatchReport
	// LateApproval is set on a NOOP caused by an approval for a payment that
	// had already failed or been cancelled.
	LateApproval bool
}

// ReconcilerInterface is the single entry point for payment events.
type ReconcilerInterface interface {
	Reconcile(ctx context.Context, event *domain.CanonicalEvent) (*ReconcileResult, error)
	Resume(ctx context.Context, ref string) (*ReconcileResult, error)
}

// Ensure ReconciliationService implements ReconcilerInterface.
var _ ReconcilerInterface = (*ReconciliationService)(nil)

// ReconciliationService applies canonical events to payments, invoices and
// the ledger.
type ReconciliationService struct {
	payments        repository.PaymentRepository
	invoices        repository.InvoiceRepository
	ledger          *LedgerWriter
	dispatcher      *Dispatcher
	cache           redis.PaymentCacheInterface
	settlementLease time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

// NewReconciliationService creates a new ReconciliationService. cache may be nil.
func NewReconciliationService(
	payments repository.PaymentRepository,
	invoices repository.InvoiceRepository,
	ledger *LedgerWriter,
	dispatcher *Dispatcher,
	cache redis.PaymentCacheInterface,
	settlementLease time.Duration,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		payments:        payments,
		invoices:        invoices,
		ledger:          ledger,
		dispatcher:      dispatcher,
		cache:           cache,
		settlementLease: settlementLease,
		logger:          logger.Named("reconcile"),
		now:             time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *ReconciliationService) WithClock(now func() time.Time) *ReconciliationService {
	s.now = now
	return s
}

// Reconcile applies a canonical event. Only the call that performs the real
// transition to COMPLETED settles invoices and writes the ledger; every other
// concurrent or repeated call returns OutcomeNoop. Errors caused by local
// processing are returned as RetryableError. An event carrying only the
// provider payment id has its external reference filled in first.
func (s *ReconciliationService) Reconcile(ctx context.Context, event *domain.CanonicalEvent) (*ReconcileResult, error) {
	if event == nil {
		return nil, ErrInvalidReference
	}
	if event.ExternalReference == "" {
		if err := s.resolveReference(ctx, event); err != nil {
			return nil, err
		}
	}

	ref := event.ExternalReference
	log := s.logger.With(
		zap.String("external_reference", ref),
		zap.String("provider", string(event.Provider)),
		zap.String("event_status", string(event.Status)),
	)

	result, err := s.reconcile(ctx, event, log)
	switch {
	case err != nil:
		metrics.ObserveReconcile(string(event.Provider), metrics.OutcomeError)
		log.Error("reconcile failed", zap.Error(err), zap.Bool("retryable", IsRetryable(err)))
	case result.LateApproval:
		metrics.ObserveReconcile(string(event.Provider), metrics.OutcomeLateApproval)
		log.Error("approval received for a closed payment",
			zap.String("status", string(result.Payment.Status)),
			zap.String("provider_payment_id", event.ProviderPaymentID),
			zap.String("amount", event.Amount.String()),
			zap.String("currency", event.Currency),
		)
	case result.Outcome == OutcomeNoop:
		metrics.ObserveReconcile(string(event.Provider), metrics.OutcomeNoop)
		log.Info("reconcile noop", zap.String("status", string(result.Payment.Status)))
	default:
		metrics.ObserveReconcile(string(event.Provider), metrics.OutcomeApplied)
		log.Info("reconcile applied",
			zap.String("status", string(result.Payment.Status)),
			zap.Bool("resumed", result.Resumed),
			zap.Int("paid_invoices", len(result.PaidInvoices)),
		)
	}

	return result, err
}

func (s *ReconciliationService) reconcile(ctx context.Context, event *domain.CanonicalEvent, log *zap.Logger) (*ReconcileResult, error) {
	ref := event.ExternalReference

	target, ok := event.Status.PaymentStatus()
	if !ok {
		return nil, ErrUnmappedStatus
	}

	payment, err := s.payments.GetByExternalReference(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, retryable(ref, err)
	}
	if payment.Provider != event.Provider {
		return nil, ErrProviderMismatch
	}

	if target == domain.PaymentStatusCompleted {
		s.checkAmount(payment, event, log)
	}

	// The conditional transition decides which caller proceeds.
	tr, err := s.payments.ApplyTransition(ctx, ref, domain.Transition{
		To:                target,
		ProviderPaymentID: event.ProviderPaymentID,
		Metadata:          event.Metadata(),
		At:                s.now(),
	})
	if err != nil {
		return nil, retryable(ref, err)
	}

	if tr.Applied {
		s.invalidate(ctx, ref, log)

		if target != domain.PaymentStatusCompleted {
			report := s.dispatcher.Dispatch(ctx, Notice{Payment: tr.Payment, Previous: tr.Previous, At: s.now()})
			return &ReconcileResult{Outcome: OutcomeApplied, Payment: tr.Payment, Dispatch: report}, nil
		}

		return s.settle(ctx, tr.Payment, tr.Previous, false)
	}

	// A payment whose settlement was interrupted may be resumed once the
	// previous holder's lease expired, even if it was refunded meanwhile.
	current := tr.Payment
	if target.ReceivedFunds() && current.Status.ReceivedFunds() && !current.Settled() {
		claimed, err := s.payments.ClaimSettlement(ctx, ref, s.now(), s.settlementLease)
		if err != nil {
			return nil, retryable(ref, err)
		}
		if claimed {
			log.Warn("resuming interrupted settlement")
			return s.settle(ctx, current, current.Status, true)
		}
	}

	// Money taken for a payment that already failed or was cancelled, for
	// example a retry under the same checkout session. The status stays
	// terminal; the funds need manual follow-up.
	late := target == domain.PaymentStatusCompleted &&
		(current.Status == domain.PaymentStatusFailed || current.Status == domain.PaymentStatusCancelled)

	return &ReconcileResult{Outcome: OutcomeNoop, Payment: current, LateApproval: late}, nil
}

// resolveReference fills in the external reference of an event that only
// carries the provider's payment id.
func (s *ReconciliationService) resolveReference(ctx context.Context, event *domain.CanonicalEvent) error {
	if event.ProviderPaymentID == "" {
		return ErrInvalidReference
	}

	payment, err := s.payments.GetByProviderPaymentID(ctx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPaymentNotFound
		}
		return retryable(event.ProviderPaymentID, err)
	}

	event.ExternalReference = payment.ExternalReference
	return nil
}

// Resume finishes the settlement of a completed or refunded payment whose
// lease expired. It is used by the poller when no provider event arrives
// again.
func (s *ReconciliationService) Resume(ctx context.Context, ref string) (*ReconcileResult, error) {
	if ref == "" {
		return nil, ErrInvalidReference
	}

	payment, err := s.payments.GetByExternalReference(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, retryable(ref, err)
	}

	if !payment.Status.ReceivedFunds() || payment.Settled() {
		return &ReconcileResult{Outcome: OutcomeNoop, Payment: payment}, nil
	}

	claimed, err := s.payments.ClaimSettlement(ctx, ref, s.now(), s.settlementLease)
	if err != nil {
		return nil, retryable(ref, err)
	}
	if !claimed {
		return &ReconcileResult{Outcome: OutcomeNoop, Payment: payment}, nil
	}

	s.logger.Warn("resuming interrupted settlement",
		zap.String("external_reference", ref),
		zap.String("provider", string(payment.Provider)),
	)

	result, err := s.settle(ctx, payment, payment.Status, true)
	if err != nil {
		metrics.ObserveReconcile(string(payment.Provider), metrics.OutcomeError)
		return nil, err
	}
	metrics.ObserveReconcile(string(payment.Provider), metrics.OutcomeApplied)

	return result, nil
}

// settle finishes a completed payment. Linked invoices are marked paid (each
// decrementing its customer's balance), then the ledger entry is written and
// the side effects dispatched. Work already done is skipped, so settle can
// be re-run after a partial failure.
func (s *ReconciliationService) settle(ctx context.Context, payment *domain.Payment, previous domain.PaymentStatus, resumed bool) (*ReconcileResult, error) {
	ref := payment.ExternalReference
	log := s.logger.With(
		zap.String("external_reference", ref),
		zap.String("provider", string(payment.Provider)),
	)

	credited := make([]*domain.Invoice, 0, len(payment.InvoiceIDs))
	creditedIDs := make([]string, 0, len(payment.InvoiceIDs))
	total := decimal.Zero

	for _, id := range payment.InvoiceIDs {
		res, err := s.invoices.MarkPaid(ctx, id, ref, s.now())
		if err != nil {
			if errors.Is(err, domain.ErrInvoiceNotPayable) || errors.Is(err, repository.ErrNotFound) {
				log.Warn("linked invoice cannot be paid", zap.String("invoice_id", id), zap.Error(err))
				continue
			}
			return nil, retryable(ref, err)
		}

		if res.AlreadyPaid && res.Invoice.PaymentRef != ref {
			log.Error("linked invoice was paid by another payment",
				zap.String("invoice_id", id),
				zap.String("paid_by", res.Invoice.PaymentRef),
			)
			continue
		}

		credited = append(credited, res.Invoice)
		creditedIDs = append(creditedIDs, res.Invoice.ID)
		total = total.Add(res.Invoice.Total)
	}

	amount := total
	if len(credited) == 0 {
		// Funds were received but nothing could be credited. The ledger
		// still records the money; the payment needs manual follow-up.
		amount = payment.Amount
		log.Error("completed payment credited no invoice", zap.String("amount", payment.Amount.String()))
	}

	entry, _, err := s.ledger.Record(ctx, RecordRequest{
		ExternalReference: ref,
		Provider:          payment.Provider,
		Amount:            amount,
		Currency:          payment.Currency,
		InvoiceIDs:        creditedIDs,
		At:                s.now(),
	})
	if err != nil {
		return nil, retryable(ref, err)
	}

	if err := s.payments.MarkSettled(ctx, ref, s.now()); err != nil {
		return nil, retryable(ref, err)
	}
	payment.SettledAt = s.now()
	s.invalidate(ctx, ref, log)

	report := s.dispatcher.Dispatch(ctx, Notice{
		Payment:  payment,
		Previous: previous,
		Invoices: credited,
		Ledger:   entry,
		Resumed:  resumed,
		At:       s.now(),
	})

	return &ReconcileResult{
		Outcome:      OutcomeApplied,
		Payment:      payment,
		PaidInvoices: credited,
		Ledger:       entry,
		Resumed:      resumed,
		Dispatch:     report,
	}, nil
}

// checkAmount compares the provider-reported amount with what was charged.
// A mismatch is reported but the provider status stays authoritative.
func (s *ReconciliationService) checkAmount(payment *domain.Payment, event *domain.CanonicalEvent, log *zap.Logger) {
	if event.Amount.IsZero() || payment.Charged.IsZero() {
		return
	}
	if event.Currency != "" && event.Currency != payment.Charged.Currency {
		log.Warn("event currency differs from charged currency",
			zap.String("event_currency", event.Currency),
			zap.String("charged_currency", payment.Charged.Currency),
		)
		metrics.AmountMismatch.WithLabelValues(string(event.Provider)).Inc()
		return
	}
	if !event.Amount.Equal(payment.Charged.Amount) {
		log.Warn("event amount differs from charged amount",
			zap.String("event_amount", event.Amount.String()),
			zap.String("charged_amount", payment.Charged.Amount.String()),
		)
		metrics.AmountMismatch.WithLabelValues(string(event.Provider)).Inc()
	}
}

func (s *ReconciliationService) invalidate(ctx context.Context, ref string, log *zap.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePayment(ctx, ref); err != nil {
		log.Warn("payment cache invalidation failed", zap.Error(err))
	}
}
