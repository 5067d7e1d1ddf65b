package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
	"aquabill/internal/metrics"
	"aquabill/internal/service"
)

func TestReconcile_RefundBeforeSettlementFinished_StillSettles(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	ctx := context.Background()

	h.Ledger.InsertError = errors.New("connection reset")
	_, err := h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalApproved, 120000))
	if !service.IsRetryable(err) {
		t.Fatalf("expected retryable error, got: %v", err)
	}
	h.Ledger.InsertError = nil

	result, err := h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalRefunded, 120000))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.Outcome != service.OutcomeApplied || result.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected refund APPLIED, got %s %s", result.Outcome, result.Payment.Status)
	}
	if h.Ledger.CountEntries() != 0 {
		t.Fatalf("expected no ledger entry yet, got %d", h.Ledger.CountEntries())
	}

	h.Clock.Advance(10 * time.Minute)

	stats, err := h.Poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if stats.Resumed != 1 {
		t.Errorf("expected 1 resumed settlement, got %+v", stats)
	}

	if h.Ledger.CountEntries() != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
	entry, _ := h.Ledger.GetByExternalReference(ctx, "ref-1")
	if !entry.Amount.Equal(decimal.NewFromInt(120000)) {
		t.Errorf("expected ledger amount 120000, got %s", entry.Amount)
	}

	payment := h.Payments.GetPayment("ref-1")
	if payment.Status != domain.PaymentStatusRefunded {
		t.Errorf("expected payment to stay REFUNDED, got %s", payment.Status)
	}
	if !payment.Settled() {
		t.Error("expected payment settled")
	}
	for _, id := range []string{"inv-a", "inv-b"} {
		if h.Invoices.GetInvoice(id).Status != domain.InvoiceStatusPaid {
			t.Errorf("expected %s PAID", id)
		}
	}

	// A second cycle finds nothing left to settle.
	stats, err = h.Poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if stats.Resumed != 0 || h.Ledger.CountEntries() != 1 {
		t.Errorf("expected no further settlement, got %+v and %d entries", stats, h.Ledger.CountEntries())
	}
}

func TestReconcile_RepeatedRefund_ResumesAfterLease(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	ctx := context.Background()

	h.Ledger.InsertError = errors.New("connection reset")
	h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalApproved, 120000))
	h.Ledger.InsertError = nil
	if _, err := h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalRefunded, 120000)); err != nil {
		t.Fatalf("refund: %v", err)
	}

	result, err := h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalRefunded, 120000))
	if err != nil {
		t.Fatalf("redelivery inside lease: %v", err)
	}
	if result.Outcome != service.OutcomeNoop {
		t.Errorf("expected NOOP inside the lease, got %s", result.Outcome)
	}

	h.Clock.Advance(SettlementLease + time.Second)

	result, err = h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalRefunded, 120000))
	if err != nil {
		t.Fatalf("redelivery after lease: %v", err)
	}
	if result.Outcome != service.OutcomeApplied || !result.Resumed {
		t.Errorf("expected resumed settlement, got %s resumed=%v", result.Outcome, result.Resumed)
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
}

func TestReconcile_ApprovalAfterRejection_FlaggedLate(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	ctx := context.Background()

	if _, err := h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalRejected, 120000)); err != nil {
		t.Fatalf("rejection: %v", err)
	}

	late := metrics.ReconcileTotal.WithLabelValues(string(domain.ProviderFlow), metrics.OutcomeLateApproval)
	before := testutil.ToFloat64(late)

	result, err := h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalApproved, 120000))
	if err != nil {
		t.Fatalf("late approval: %v", err)
	}
	if result.Outcome != service.OutcomeNoop {
		t.Errorf("expected NOOP, got %s", result.Outcome)
	}
	if !result.LateApproval {
		t.Error("expected late approval to be flagged")
	}
	if after := testutil.ToFloat64(late); after < before+1 {
		t.Errorf("expected late approval counted, got %v -> %v", before, after)
	}

	if h.Payments.GetPayment("ref-1").Status != domain.PaymentStatusFailed {
		t.Error("expected payment to stay FAILED")
	}
	if h.Ledger.CountEntries() != 0 {
		t.Errorf("expected no ledger entry, got %d", h.Ledger.CountEntries())
	}
}

func TestReconcile_DuplicateApproval_NotFlaggedLate(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	ctx := context.Background()

	h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalApproved, 120000))
	result, err := h.Reconciler.Reconcile(ctx, h.Event("ref-1", domain.CanonicalApproved, 120000))
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if result.LateApproval {
		t.Error("a duplicate approval of a completed payment is not late")
	}
}

func TestReconcile_ResolvesReferenceByProviderPaymentID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		providerPaymentID string
		wantErr           error
	}{
		{name: "known payment id", providerPaymentID: "flow-ref-1"},
		{name: "unknown payment id", providerPaymentID: "flow-other", wantErr: service.ErrPaymentNotFound},
		{name: "no identifier", providerPaymentID: "", wantErr: service.ErrInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHarness()
			h.SeedScenario()

			event := h.Event("ref-1", domain.CanonicalApproved, 120000)
			event.ExternalReference = ""
			event.ProviderPaymentID = tt.providerPaymentID

			result, err := h.Reconciler.Reconcile(context.Background(), event)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got: %v", tt.wantErr, err)
				}
				if h.Payments.AppliedCount != 0 {
					t.Error("expected no transition")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if result.Outcome != service.OutcomeApplied {
				t.Errorf("expected APPLIED, got %s", result.Outcome)
			}
			if event.ExternalReference != "ref-1" {
				t.Errorf("expected event resolved to ref-1, got %q", event.ExternalReference)
			}
			if h.Ledger.CountEntries() != 1 {
				t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
			}
		})
	}
}
