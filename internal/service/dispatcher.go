package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/metrics"
)

// Notice describes a real payment transition to the side effects.
type Notice struct {
	Payment  *domain.Payment
	Previous domain.PaymentStatus
	// Invoices credited to the payment. Only set for settled payments.
	Invoices []*domain.Invoice
	Ledger   *domain.LedgerEntry
	Resumed  bool
	At       time.Time
}

// Effect is one best-effort consequence of a payment transition.
type Effect interface {
	Name() string
	Apply(ctx context.Context, n Notice) error
}

type effectFunc struct {
	name string
	fn   func(ctx context.Context, n Notice) error
}

func (e effectFunc) Name() string                              { return e.name }
func (e effectFunc) Apply(ctx context.Context, n Notice) error { return e.fn(ctx, n) }

// NewEffect wraps a function as an Effect.
func NewEffect(name string, fn func(ctx context.Context, n Notice) error) Effect {
	return effectFunc{name: name, fn: fn}
}

// DispatchReport lists the effects that failed.
type DispatchReport struct {
	Failed []string
}

// Dispatcher fans a notice out to every effect. Effects run independently:
// an error or panic in one never stops the others and never reaches the
// caller's result.
type Dispatcher struct {
	effects []Effect
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds the whole fan-out.
func NewDispatcher(logger *zap.Logger, timeout time.Duration, effects ...Effect) *Dispatcher {
	return &Dispatcher{
		effects: effects,
		timeout: timeout,
		logger:  logger.Named("dispatcher"),
	}
}

// Dispatch runs every effect and waits for them to finish. It outlives the
// caller's cancellation so a disconnected webhook does not drop receipts.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notice) DispatchReport {
	ctx = context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var (
		mu     sync.Mutex
		failed []string
		wg     sync.WaitGroup
	)

	for _, effect := range d.effects {
		wg.Add(1)
		go func(effect Effect) {
			defer wg.Done()

			if err := d.run(ctx, effect, n); err != nil {
				mu.Lock()
				failed = append(failed, effect.Name())
				mu.Unlock()
			}
		}(effect)
	}
	wg.Wait()

	sort.Strings(failed)
	return DispatchReport{Failed: failed}
}

func (d *Dispatcher) run(ctx context.Context, effect Effect, n Notice) (err error) {
	fields := []zap.Field{
		zap.String("effect", effect.Name()),
		zap.String("external_reference", n.Payment.ExternalReference),
		zap.String("provider", string(n.Payment.Provider)),
		zap.String("status", string(n.Payment.Status)),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			metrics.SideEffectFailures.WithLabelValues(effect.Name()).Inc()
			d.logger.Error("side effect failed", append(fields, zap.Error(err))...)
			return
		}
		d.logger.Debug("side effect done", fields...)
	}()

	return effect.Apply(ctx, n)
}
