package tests

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"aquabill/internal/domain"
	"aquabill/internal/service"
)

func TestPollOnce_AppliesMissedNotification(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	h.Gateway.SetEvent(h.Event("ref-1", domain.CanonicalApproved, 120000))

	stats, err := h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if stats.Polled != 1 || stats.Applied != 1 {
		t.Errorf("expected 1 polled and 1 applied, got %+v", stats)
	}
	if h.Payments.GetPayment("ref-1").Status != domain.PaymentStatusCompleted {
		t.Error("expected payment COMPLETED")
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
	if h.Locks.IsLocked("lock:poller") {
		t.Error("expected poller lock to be released")
	}

	// A late webhook for the same payment changes nothing.
	result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))
	if err != nil {
		t.Fatalf("late webhook: %v", err)
	}
	if result.Outcome != service.OutcomeNoop {
		t.Errorf("expected NOOP for late webhook, got %s", result.Outcome)
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
}

func TestPollOnce_NoStatusYet(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	stats, err := h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if stats.NoStatus != 1 || stats.Applied != 0 {
		t.Errorf("expected 1 without status, got %+v", stats)
	}
	if h.Payments.GetPayment("ref-1").Status != domain.PaymentStatusCreated {
		t.Error("expected payment to stay CREATED")
	}
}

func TestPollOnce_SkipsYoungPayments(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	// ref-1 was created ten minutes ago; a fresh attempt is left to its webhook.
	young := h.Payments.GetPayment("ref-1")
	young.ExternalReference = "ref-young"
	young.CreatedAt = h.Clock.Now().Add(-time.Minute)
	h.Payments.AddPayment(young)

	if _, err := h.Poller.PollOnce(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if h.Gateway.PollCallCount != 1 {
		t.Errorf("expected only the old payment polled, got %d calls", h.Gateway.PollCallCount)
	}
}

func TestPollOnce_ProviderError_Counted(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	h.Gateway.PollError = errors.New("connection refused")

	stats, err := h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("expected cycle to continue, got: %v", err)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %+v", stats)
	}
	if h.Payments.GetPayment("ref-1").Status != domain.PaymentStatusCreated {
		t.Error("provider errors must not change the payment")
	}
}

func TestPollOnce_ResumesInterruptedSettlement(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	h.Invoices.SetMarkPaidError("inv-b", errors.New("connection reset"))

	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000)); err == nil {
		t.Fatal("expected interrupted settlement")
	}
	h.Invoices.SetMarkPaidError("inv-b", nil)

	stats, err := h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll inside lease: %v", err)
	}
	if stats.Resumed != 0 {
		t.Errorf("expected no resume inside the lease, got %+v", stats)
	}

	h.Clock.Advance(SettlementLease + time.Second)

	stats, err = h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll after lease: %v", err)
	}
	if stats.Resumed != 1 {
		t.Errorf("expected 1 resumed, got %+v", stats)
	}

	if h.Invoices.GetInvoice("inv-b").Status != domain.InvoiceStatusPaid {
		t.Error("expected inv-b PAID after resume")
	}
	if !h.Payments.GetPayment("ref-1").Settled() {
		t.Error("expected payment settled")
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
}

func TestPollOnce_LockHeldElsewhere(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	h.Gateway.SetEvent(h.Event("ref-1", domain.CanonicalApproved, 120000))
	h.Locks.Hold("lock:poller")

	stats, err := h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !stats.Skipped {
		t.Error("expected cycle to be skipped")
	}
	if h.Gateway.PollCallCount != 0 {
		t.Errorf("expected no provider calls, got %d", h.Gateway.PollCallCount)
	}
}

func TestPollOnce_MarksOverdue(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	h.Clock.Advance(11 * 24 * time.Hour)

	stats, err := h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if stats.Overdue != 2 {
		t.Errorf("expected 2 invoices overdue, got %d", stats.Overdue)
	}
	if h.Invoices.GetInvoice("inv-a").Status != domain.InvoiceStatusOverdue {
		t.Error("expected inv-a OVERDUE")
	}

	// Overdue invoices remain payable.
	h.Gateway.SetEvent(h.Event("ref-1", domain.CanonicalApproved, 120000))
	stats, err = h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if stats.Applied != 1 || h.Invoices.GetInvoice("inv-a").Status != domain.InvoiceStatusPaid {
		t.Errorf("expected overdue invoices settled, got %+v", stats)
	}
}

func TestPollOnce_RotatesPastPaymentsWithoutStatus(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	// A full batch of hour-old abandoned checkouts the provider never resolves.
	for i := 0; i < 50; i++ {
		ref := fmt.Sprintf("abandoned-%02d", i)
		h.SeedPayment(ref, "c-1", 1000)
		abandoned := h.Payments.GetPayment(ref)
		abandoned.CreatedAt = h.Clock.Now().Add(-time.Hour)
		h.Payments.AddPayment(abandoned)
	}
	h.Gateway.SetEvent(h.Event("ref-1", domain.CanonicalApproved, 120000))

	stats, err := h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if stats.Polled != 50 || stats.NoStatus != 50 || stats.Applied != 0 {
		t.Errorf("expected the oldest batch polled first, got %+v", stats)
	}

	h.Clock.Advance(time.Minute)

	stats, err = h.Poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.Applied != 1 {
		t.Errorf("expected the unpolled payment applied, got %+v", stats)
	}
	if h.Payments.GetPayment("ref-1").Status != domain.PaymentStatusCompleted {
		t.Error("expected ref-1 COMPLETED")
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
}
