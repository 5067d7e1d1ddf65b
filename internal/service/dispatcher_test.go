package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/metrics"
)

func testNotice() Notice {
	return Notice{
		Payment: &domain.Payment{
			ExternalReference: "ref-1",
			Provider:          domain.ProviderFlow,
			Status:            domain.PaymentStatusCompleted,
		},
		Previous: domain.PaymentStatusCreated,
		At:       time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_IsolatesFailures(t *testing.T) {
	t.Parallel()

	var ran int32
	ok := NewEffect("dispatch-ok", func(ctx context.Context, n Notice) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	failing := NewEffect("dispatch-failing", func(ctx context.Context, n Notice) error {
		return errors.New("smtp 421")
	})
	panicking := NewEffect("dispatch-panicking", func(ctx context.Context, n Notice) error {
		var m map[string]int
		m["boom"]++
		return nil
	})

	before := testutil.ToFloat64(metrics.SideEffectFailures.WithLabelValues("dispatch-panicking"))

	d := NewDispatcher(zap.NewNop(), time.Second, panicking, ok, failing)
	report := d.Dispatch(context.Background(), testNotice())

	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("expected healthy effect to run once, ran %d", ran)
	}
	if len(report.Failed) != 2 || report.Failed[0] != "dispatch-failing" || report.Failed[1] != "dispatch-panicking" {
		t.Errorf("expected sorted failures, got %v", report.Failed)
	}

	after := testutil.ToFloat64(metrics.SideEffectFailures.WithLabelValues("dispatch-panicking"))
	if after-before != 1 {
		t.Errorf("expected failure metric incremented once, got %v", after-before)
	}
}

func TestDispatch_OutlivesCallerCancellation(t *testing.T) {
	t.Parallel()

	var sawCancel int32
	effect := NewEffect("dispatch-cancel", func(ctx context.Context, n Notice) error {
		if ctx.Err() != nil {
			atomic.StoreInt32(&sawCancel, 1)
		}
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewDispatcher(zap.NewNop(), time.Second, effect).Dispatch(ctx, testNotice())
	if len(report.Failed) != 0 || atomic.LoadInt32(&sawCancel) != 0 {
		t.Errorf("expected effect to run with a live context, got %v", report.Failed)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()

	slow := NewEffect("dispatch-slow", func(ctx context.Context, n Notice) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	report := NewDispatcher(zap.NewNop(), 50*time.Millisecond, slow).Dispatch(context.Background(), testNotice())

	if time.Since(start) > 2*time.Second {
		t.Errorf("expected dispatch bounded by timeout, took %s", time.Since(start))
	}
	if len(report.Failed) != 1 || report.Failed[0] != "dispatch-slow" {
		t.Errorf("expected slow effect reported, got %v", report.Failed)
	}
}

func TestDispatch_NoEffects(t *testing.T) {
	t.Parallel()

	report := NewDispatcher(zap.NewNop(), 0).Dispatch(context.Background(), testNotice())
	if len(report.Failed) != 0 {
		t.Errorf("expected empty report, got %v", report.Failed)
	}
}
