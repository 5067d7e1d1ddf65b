package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"aquabill/internal/gateway"
	"aquabill/internal/redis"
	"aquabill/internal/repository"
)

// PollerConfig tunes the poller.
type PollerConfig struct {
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
	// SettlementLease must match the reconciliation service's lease.
	SettlementLease time.Duration
}

// PollStats summarizes one poll cycle.
type PollStats struct {
	Skipped  bool // another instance holds the poller lock
	Overdue  int
	Polled   int
	Applied  int
	Noop     int
	NoStatus int
	Resumed  int
	Errors   int
}

// Poller asks providers for the status of open payments whose notification
// never arrived, and resumes settlements that were interrupted.
type Poller struct {
	payments   repository.PaymentRepository
	invoices   repository.InvoiceRepository
	gateways   *gateway.Registry
	reconciler ReconcilerInterface
	locks      redis.LockStoreInterface
	cfg        PollerConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewPoller creates a new Poller. locks may be nil for a single instance.
func NewPoller(
	payments repository.PaymentRepository,
	invoices repository.InvoiceRepository,
	gateways *gateway.Registry,
	reconciler ReconcilerInterface,
	locks redis.LockStoreInterface,
	cfg PollerConfig,
	logger *zap.Logger,
) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	return &Poller{
		payments:   payments,
		invoices:   invoices,
		gateways:   gateways,
		reconciler: reconciler,
		locks:      locks,
		cfg:        cfg,
		logger:     logger.Named("poller"),
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Run polls every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats, err := p.PollOnce(ctx)
			if err != nil {
				p.logger.Error("poll cycle failed", zap.Error(err))
				continue
			}
			if !stats.Skipped {
				p.logger.Info("poll cycle done",
					zap.Int("overdue", stats.Overdue),
					zap.Int("polled", stats.Polled),
					zap.Int("applied", stats.Applied),
					zap.Int("noop", stats.Noop),
					zap.Int("no_status", stats.NoStatus),
					zap.Int("resumed", stats.Resumed),
					zap.Int("errors", stats.Errors),
				)
			}
		}
	}
}

// PollOnce runs a single cycle.
func (p *Poller) PollOnce(ctx context.Context) (PollStats, error) {
	var stats PollStats

	if p.locks != nil {
		lock, err := p.locks.AcquirePollerLock(ctx, p.cfg.Interval)
		if err != nil {
			return stats, err
		}
		if lock == nil {
			stats.Skipped = true
			return stats, nil
		}
		defer p.locks.Release(context.WithoutCancel(ctx), lock)
	}

	now := p.now()

	overdue, err := p.invoices.MarkOverdue(ctx, now)
	if err != nil {
		p.logger.Error("mark overdue failed", zap.Error(err))
	}
	stats.Overdue = overdue

	open, err := p.payments.ListOpen(ctx, now.Add(-p.cfg.MinAge), p.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, payment := range open {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		log := p.logger.With(
			zap.String("external_reference", payment.ExternalReference),
			zap.String("provider", string(payment.Provider)),
		)

		gw, err := p.gateways.Get(payment.Provider)
		if err != nil {
			stats.Errors++
			log.Warn("no gateway for payment", zap.Error(err))
			continue
		}

		stats.Polled++
		event, err := gw.PollEvent(ctx, payment.ExternalReference, payment.ProviderPaymentID)
		if merr := p.payments.MarkPolled(ctx, payment.ExternalReference, now); merr != nil {
			log.Warn("mark polled failed", zap.Error(merr))
		}
		if err != nil {
			if errors.Is(err, gateway.ErrNoStatus) {
				stats.NoStatus++
				continue
			}
			stats.Errors++
			log.Warn("poll status failed", zap.Error(err), zap.Bool("transient", gateway.IsTransient(err)))
			continue
		}

		result, err := p.reconciler.Reconcile(ctx, event)
		switch {
		case err != nil:
			stats.Errors++
		case result.Outcome == OutcomeApplied:
			stats.Applied++
		default:
			stats.Noop++
		}
	}

	if p.cfg.SettlementLease > 0 {
		unsettled, err := p.payments.ListUnsettled(ctx, now.Add(-p.cfg.SettlementLease), p.cfg.BatchSize)
		if err != nil {
			return stats, err
		}

		for _, payment := range unsettled {
			result, err := p.reconciler.Resume(ctx, payment.ExternalReference)
			if err != nil {
				stats.Errors++
				continue
			}
			if result.Outcome == OutcomeApplied {
				stats.Resumed++
			}
		}
	}

	return stats, nil
}
