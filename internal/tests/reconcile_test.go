package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
	"aquabill/internal/service"
)

// ──────────────────────────────────────────────
// 1. SETTLEMENT OF A MULTI-INVOICE PAYMENT
// ──────────────────────────────────────────────

func TestReconcile_ApprovedEvent_SettlesAllInvoices(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if result.Outcome != service.OutcomeApplied {
		t.Fatalf("expected outcome APPLIED, got %s", result.Outcome)
	}

	for _, id := range []string{"inv-a", "inv-b"} {
		inv := h.Invoices.GetInvoice(id)
		if inv.Status != domain.InvoiceStatusPaid {
			t.Errorf("expected invoice %s PAID, got %s", id, inv.Status)
		}
		if inv.PaymentRef != "ref-1" {
			t.Errorf("expected invoice %s paid by ref-1, got %q", id, inv.PaymentRef)
		}
	}

	if h.Ledger.CountEntries() != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
	entry, _ := h.Ledger.GetByExternalReference(context.Background(), "ref-1")
	if !entry.Amount.Equal(decimal.NewFromInt(120000)) {
		t.Errorf("expected ledger amount 120000, got %s", entry.Amount)
	}
	if len(entry.InvoiceIDs) != 2 {
		t.Errorf("expected 2 invoices on the ledger entry, got %v", entry.InvoiceIDs)
	}

	if balance := h.Customers.Balance("c-1"); !balance.IsZero() {
		t.Errorf("expected balance to drop by 120000 to 0, got %s", balance)
	}

	payment := h.Payments.GetPayment("ref-1")
	if payment.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected payment COMPLETED, got %s", payment.Status)
	}
	if !payment.Settled() {
		t.Error("expected payment to be marked settled")
	}
}

func TestReconcile_DuplicateWebhook_SingleLedgerEntry(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	event := h.Event("ref-1", domain.CanonicalApproved, 120000)

	first, err := h.Reconciler.Reconcile(context.Background(), event)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := h.Reconciler.Reconcile(context.Background(), event)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if first.Outcome != service.OutcomeApplied {
		t.Errorf("expected first delivery APPLIED, got %s", first.Outcome)
	}
	if second.Outcome != service.OutcomeNoop {
		t.Errorf("expected second delivery NOOP, got %s", second.Outcome)
	}

	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected exactly 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
	if balance := h.Customers.Balance("c-1"); !balance.IsZero() {
		t.Errorf("expected balance decremented once, got %s", balance)
	}
	for _, id := range []string{"inv-a", "inv-b"} {
		if h.Invoices.GetInvoice(id).Status != domain.InvoiceStatusPaid {
			t.Errorf("expected invoice %s to remain PAID", id)
		}
	}
}

func TestReconcile_ConcurrentDeliveries_OneApplies(t *testing.T) {
	t.Parallel()

	const callers = 16

	h := NewHarness()
	h.SeedScenario()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		noop    int
		errs    []error
	)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case result.Outcome == service.OutcomeApplied:
				applied++
			default:
				noop++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("expected no errors, got: %v", errs)
	}
	if applied != 1 {
		t.Errorf("expected exactly 1 APPLIED, got %d", applied)
	}
	if noop != callers-1 {
		t.Errorf("expected %d NOOP, got %d", callers-1, noop)
	}

	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
	if h.Payments.AppliedCount != 1 {
		t.Errorf("expected 1 real transition, got %d", h.Payments.AppliedCount)
	}
	if balance := h.Customers.Balance("c-1"); !balance.IsZero() {
		t.Errorf("expected balance 0, got %s", balance)
	}
}

func TestReconcile_RepeatedEvent_IsIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	event := h.Event("ref-1", domain.CanonicalApproved, 120000)

	for i := 0; i < 5; i++ {
		if _, err := h.Reconciler.Reconcile(context.Background(), event); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
	if h.Invoices.MarkPaidCallCount != 2 {
		t.Errorf("expected invoices marked paid once each (2 calls), got %d", h.Invoices.MarkPaidCallCount)
	}
	if got := len(h.Audit.Records()); got != 1 {
		t.Errorf("expected 1 audit record, got %d", got)
	}
}

// ──────────────────────────────────────────────
// 2. ORDERING
// ──────────────────────────────────────────────

func TestReconcile_PendingAfterApproved_IsNoop(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000)); err != nil {
		t.Fatalf("approved: %v", err)
	}

	result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalPending, 120000))
	if err != nil {
		t.Fatalf("pending: %v", err)
	}

	if result.Outcome != service.OutcomeNoop {
		t.Errorf("expected NOOP, got %s", result.Outcome)
	}
	if status := h.Payments.GetPayment("ref-1").Status; status != domain.PaymentStatusCompleted {
		t.Errorf("expected payment to remain COMPLETED, got %s", status)
	}
}

func TestReconcile_StatusSequences(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		events   []domain.CanonicalStatus
		want     domain.PaymentStatus
		wantPaid bool
	}{
		{
			name:     "pending then approved",
			events:   []domain.CanonicalStatus{domain.CanonicalPending, domain.CanonicalApproved},
			want:     domain.PaymentStatusCompleted,
			wantPaid: true,
		},
		{
			name:   "rejected then approved stays failed",
			events: []domain.CanonicalStatus{domain.CanonicalRejected, domain.CanonicalApproved},
			want:   domain.PaymentStatusFailed,
		},
		{
			name:   "cancelled then pending stays cancelled",
			events: []domain.CanonicalStatus{domain.CanonicalCancelled, domain.CanonicalPending},
			want:   domain.PaymentStatusCancelled,
		},
		{
			name:     "approved then rejected stays completed",
			events:   []domain.CanonicalStatus{domain.CanonicalApproved, domain.CanonicalRejected},
			want:     domain.PaymentStatusCompleted,
			wantPaid: true,
		},
		{
			name:   "refund before approval is ignored",
			events: []domain.CanonicalStatus{domain.CanonicalRefunded},
			want:   domain.PaymentStatusCreated,
		},
		{
			name:     "approved then refunded",
			events:   []domain.CanonicalStatus{domain.CanonicalApproved, domain.CanonicalRefunded},
			want:     domain.PaymentStatusRefunded,
			wantPaid: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := NewHarness()
			h.SeedScenario()

			for _, status := range tc.events {
				if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", status, 120000)); err != nil {
					t.Fatalf("event %s: %v", status, err)
				}
			}

			if got := h.Payments.GetPayment("ref-1").Status; got != tc.want {
				t.Errorf("expected status %s, got %s", tc.want, got)
			}

			paid := h.Invoices.GetInvoice("inv-a").Status == domain.InvoiceStatusPaid
			if paid != tc.wantPaid {
				t.Errorf("expected invoice paid=%v, got %v", tc.wantPaid, paid)
			}
		})
	}
}

func TestReconcile_Refund_KeepsInvoicesPaid(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000)); err != nil {
		t.Fatalf("approved: %v", err)
	}
	result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalRefunded, 120000))
	if err != nil {
		t.Fatalf("refunded: %v", err)
	}

	if result.Outcome != service.OutcomeApplied {
		t.Errorf("expected APPLIED, got %s", result.Outcome)
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected the ledger entry to stay unique, got %d", h.Ledger.CountEntries())
	}
	if h.Invoices.GetInvoice("inv-b").Status != domain.InvoiceStatusPaid {
		t.Error("expected invoice to stay PAID after refund")
	}

	records := h.Audit.Records()
	if len(records) != 2 || records[1].Action != "payment.refunded" {
		t.Errorf("expected a payment.refunded audit record, got %+v", records)
	}
}

// ──────────────────────────────────────────────
// 3. RESUMABILITY
// ──────────────────────────────────────────────

func TestReconcile_InterruptedSettlement_ResumesAfterLease(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	// Invoice A is paid, then processing stops before invoice B.
	h.Invoices.SetMarkPaidError("inv-b", errors.New("connection reset"))

	_, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))
	if !service.IsRetryable(err) {
		t.Fatalf("expected retryable error, got: %v", err)
	}
	if h.Invoices.GetInvoice("inv-a").Status != domain.InvoiceStatusPaid {
		t.Fatal("expected invoice A to be paid before the failure")
	}
	if h.Ledger.CountEntries() != 0 {
		t.Fatalf("expected no ledger entry yet, got %d", h.Ledger.CountEntries())
	}

	h.Invoices.SetMarkPaidError("inv-b", nil)

	// A redelivery inside the lease does not race the first holder.
	result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))
	if err != nil {
		t.Fatalf("redelivery inside lease: %v", err)
	}
	if result.Outcome != service.OutcomeNoop {
		t.Errorf("expected NOOP inside the lease, got %s", result.Outcome)
	}

	h.Clock.Advance(SettlementLease + time.Second)

	result, err = h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))
	if err != nil {
		t.Fatalf("redelivery after lease: %v", err)
	}
	if result.Outcome != service.OutcomeApplied || !result.Resumed {
		t.Errorf("expected resumed APPLIED, got %s resumed=%v", result.Outcome, result.Resumed)
	}

	if h.Invoices.GetInvoice("inv-b").Status != domain.InvoiceStatusPaid {
		t.Error("expected invoice B to be paid after resume")
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}
	entry, _ := h.Ledger.GetByExternalReference(context.Background(), "ref-1")
	if !entry.Amount.Equal(decimal.NewFromInt(120000)) {
		t.Errorf("expected ledger amount 120000 including the invoice paid before the crash, got %s", entry.Amount)
	}
	if balance := h.Customers.Balance("c-1"); !balance.IsZero() {
		t.Errorf("expected balance 0, got %s", balance)
	}
}

func TestResume_CompletedUnsettled(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	h.Payments.MarkSettledError = errors.New("db down")

	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000)); err == nil {
		t.Fatal("expected error when settlement cannot be recorded")
	}
	h.Payments.MarkSettledError = nil

	result, err := h.Reconciler.Resume(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("resume inside lease: %v", err)
	}
	if result.Outcome != service.OutcomeNoop {
		t.Errorf("expected NOOP inside the lease, got %s", result.Outcome)
	}

	h.Clock.Advance(SettlementLease + time.Second)

	result, err = h.Reconciler.Resume(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Outcome != service.OutcomeApplied {
		t.Errorf("expected APPLIED, got %s", result.Outcome)
	}
	if !h.Payments.GetPayment("ref-1").Settled() {
		t.Error("expected payment settled after resume")
	}
	if h.Ledger.CountEntries() != 1 {
		t.Errorf("expected 1 ledger entry, got %d", h.Ledger.CountEntries())
	}

	again, err := h.Reconciler.Resume(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if again.Outcome != service.OutcomeNoop {
		t.Errorf("expected NOOP once settled, got %s", again.Outcome)
	}
}

// ──────────────────────────────────────────────
// 4. ERRORS
// ──────────────────────────────────────────────

func TestReconcile_LocalFailure_NeverMarksFailed(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		inject func(h *Harness)
	}{
		{name: "payment lookup", inject: func(h *Harness) { h.Payments.GetError = errors.New("db unavailable") }},
		{name: "transition", inject: func(h *Harness) { h.Payments.ApplyTransitionError = errors.New("db unavailable") }},
		{name: "invoice", inject: func(h *Harness) { h.Invoices.MarkPaidError = errors.New("db unavailable") }},
		{name: "ledger", inject: func(h *Harness) { h.Ledger.InsertError = errors.New("db unavailable") }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := NewHarness()
			h.SeedScenario()
			tc.inject(h)

			_, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !service.IsRetryable(err) {
				t.Errorf("expected retryable error, got: %v", err)
			}

			if status := h.Payments.GetPayment("ref-1").Status; status == domain.PaymentStatusFailed {
				t.Error("payment must not be marked FAILED because of a local error")
			}
		})
	}
}

func TestReconcile_UnknownReference(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	_, err := h.Reconciler.Reconcile(context.Background(), h.Event("missing", domain.CanonicalApproved, 120000))
	if !errors.Is(err, service.ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound, got: %v", err)
	}
	if service.IsRetryable(err) {
		t.Error("unknown reference must not be retryable")
	}
}

func TestReconcile_ProviderMismatch(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	event := h.Event("ref-1", domain.CanonicalApproved, 120000)
	event.Provider = domain.ProviderPayU

	_, err := h.Reconciler.Reconcile(context.Background(), event)
	if !errors.Is(err, service.ErrProviderMismatch) {
		t.Errorf("expected ErrProviderMismatch, got: %v", err)
	}
	if h.Payments.GetPayment("ref-1").Status != domain.PaymentStatusCreated {
		t.Error("expected payment untouched")
	}
}

func TestReconcile_AmountMismatch_StillApplies(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 350))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result.Outcome != service.OutcomeApplied {
		t.Errorf("expected APPLIED, got %s", result.Outcome)
	}

	entry, _ := h.Ledger.GetByExternalReference(context.Background(), "ref-1")
	if !entry.Amount.Equal(decimal.NewFromInt(120000)) {
		t.Errorf("expected ledger to follow invoice totals, got %s", entry.Amount)
	}
}

func TestReconcile_InvoicePaidByOtherPayment_IsNotCredited(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()
	h.SeedPayment("ref-2", "c-1", 50000, "inv-a")

	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-2", domain.CanonicalApproved, 50000)); err != nil {
		t.Fatalf("ref-2: %v", err)
	}
	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000)); err != nil {
		t.Fatalf("ref-1: %v", err)
	}

	entry, _ := h.Ledger.GetByExternalReference(context.Background(), "ref-1")
	if !entry.Amount.Equal(decimal.NewFromInt(70000)) {
		t.Errorf("expected ref-1 to be credited only inv-b (70000), got %s", entry.Amount)
	}
	if inv := h.Invoices.GetInvoice("inv-a"); inv.PaymentRef != "ref-2" {
		t.Errorf("expected inv-a to stay paid by ref-2, got %s", inv.PaymentRef)
	}
	if balance := h.Customers.Balance("c-1"); !balance.IsZero() {
		t.Errorf("expected each invoice to reduce the balance once, got %s", balance)
	}
}

// ──────────────────────────────────────────────
// 5. SIDE EFFECTS
// ──────────────────────────────────────────────

func TestReconcile_SideEffectFailures_AreIsolated(t *testing.T) {
	t.Parallel()

	failing := service.NewEffect("failing", func(ctx context.Context, n service.Notice) error {
		return errors.New("smtp down")
	})
	panicking := service.NewEffect("panicking", func(ctx context.Context, n service.Notice) error {
		panic("nil receipt template")
	})

	h := NewHarness(failing, panicking)
	h.SeedScenario()

	result, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000))
	if err != nil {
		t.Fatalf("expected side-effect failures to stay invisible, got: %v", err)
	}
	if result.Outcome != service.OutcomeApplied {
		t.Errorf("expected APPLIED, got %s", result.Outcome)
	}

	if len(result.Dispatch.Failed) != 2 || result.Dispatch.Failed[0] != "failing" || result.Dispatch.Failed[1] != "panicking" {
		t.Errorf("expected failing and panicking effects reported, got %v", result.Dispatch.Failed)
	}

	// The healthy effects still ran.
	if len(h.Publisher.Updates()) != 1 {
		t.Errorf("expected 1 push update, got %d", len(h.Publisher.Updates()))
	}
	if len(h.Audit.Records()) != 1 {
		t.Errorf("expected 1 audit record, got %d", len(h.Audit.Records()))
	}
}

func TestReconcile_EffectsSeeSettlement(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		notices []service.Notice
	)
	capture := service.NewEffect("capture", func(ctx context.Context, n service.Notice) error {
		mu.Lock()
		defer mu.Unlock()
		notices = append(notices, n)
		return nil
	})

	h := NewHarness(capture)
	h.SeedScenario()

	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalPending, 120000)); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000)); err != nil {
		t.Fatalf("approved: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(notices))
	}
	if notices[0].Payment.Status != domain.PaymentStatusPending || notices[0].Ledger != nil {
		t.Errorf("expected a pending notice without ledger, got %+v", notices[0])
	}
	settled := notices[1]
	if settled.Previous != domain.PaymentStatusPending {
		t.Errorf("expected previous PENDING, got %s", settled.Previous)
	}
	if settled.Ledger == nil || len(settled.Invoices) != 2 {
		t.Errorf("expected ledger and 2 invoices on the settlement notice, got %+v", settled)
	}
}

func TestReconcile_InvalidatesStatusCache(t *testing.T) {
	t.Parallel()

	h := NewHarness()
	h.SeedScenario()

	if _, err := h.Checkout.GetPaymentStatus(context.Background(), "ref-1"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !h.Cache.Has("ref-1") {
		t.Fatal("expected status to be cached")
	}

	if _, err := h.Reconciler.Reconcile(context.Background(), h.Event("ref-1", domain.CanonicalApproved, 120000)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if h.Cache.Has("ref-1") {
		t.Error("expected cache entry to be invalidated")
	}

	view, err := h.Checkout.GetPaymentStatus(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != string(domain.PaymentStatusCompleted) || !view.Settled {
		t.Errorf("expected fresh COMPLETED settled view, got %+v", view)
	}
}
