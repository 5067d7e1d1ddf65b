package tests

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
	"aquabill/internal/service"
)

// SettlementLease is the lease used by harness services.
const SettlementLease = 2 * time.Minute

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Harness wires the billing services over in-memory mocks.
type Harness struct {
	Payments  *MockPaymentRepository
	Invoices  *MockInvoiceRepository
	Customers *MockCustomerRepository
	Ledger    *MockLedgerRepository
	Gateway   *MockGateway
	Locks     *MockLockStore
	Cache     *MockPaymentCache
	Publisher *MockPublisher
	Audit     *MockAuditSink
	Clock     *Clock

	Registry       *gateway.Registry
	Dispatcher     *service.Dispatcher
	Reconciler     *service.ReconciliationService
	Checkout       *service.PaymentService
	InvoiceService *service.InvoiceService
	Poller         *service.Poller
}

// NewHarness builds a harness whose gateway is a mock Flow provider. The
// push and audit effects are always installed; extra effects run alongside.
func NewHarness(extra ...service.Effect) *Harness {
	logger := zap.NewNop()

	h := &Harness{
		Customers: NewMockCustomerRepository(),
		Payments:  NewMockPaymentRepository(),
		Ledger:    NewMockLedgerRepository(),
		Gateway:   NewMockGateway(domain.ProviderFlow),
		Locks:     NewMockLockStore(),
		Cache:     NewMockPaymentCache(),
		Publisher: NewMockPublisher(),
		Audit:     NewMockAuditSink(),
		Clock:     NewClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)),
	}
	h.Invoices = NewMockInvoiceRepository(h.Customers)
	h.Registry = gateway.NewRegistry(h.Gateway)

	effects := append([]service.Effect{
		service.NewPushEffect(h.Publisher),
		service.NewAuditEffect(h.Audit),
	}, extra...)
	h.Dispatcher = service.NewDispatcher(logger, time.Second, effects...)

	h.Reconciler = service.NewReconciliationService(
		h.Payments,
		h.Invoices,
		service.NewLedgerWriter(h.Ledger, logger),
		h.Dispatcher,
		h.Cache,
		SettlementLease,
		logger,
	).WithClock(h.Clock.Now)

	h.Checkout = service.NewPaymentService(
		h.Payments, h.Invoices, h.Customers, h.Registry, h.Locks, h.Cache,
		service.CheckoutURLs{PublicURL: "https://billing.example", ResultURL: "https://portal.example/result"},
		logger,
	)
	h.InvoiceService = service.NewInvoiceService(h.Invoices, logger)
	h.Poller = service.NewPoller(
		h.Payments, h.Invoices, h.Registry, h.Reconciler, h.Locks,
		service.PollerConfig{Interval: time.Minute, MinAge: 5 * time.Minute, BatchSize: 50, SettlementLease: SettlementLease},
		logger,
	).WithClock(h.Clock.Now)

	return h
}

// SeedCustomer adds a customer with the given outstanding balance in CLP.
func (h *Harness) SeedCustomer(id string, balance int64) {
	h.Customers.AddCustomer(&domain.Customer{
		ID:                 id,
		Name:               "Customer " + id,
		Email:              id + "@example.com",
		Phone:              "+56 9 1234 5678",
		OutstandingBalance: decimal.NewFromInt(balance),
		Currency:           "CLP",
	})
}

// SeedInvoice adds a pending CLP invoice.
func (h *Harness) SeedInvoice(id, customerID string, total int64) {
	issued := h.Clock.Now().AddDate(0, -1, 0)
	h.Invoices.AddInvoice(&domain.Invoice{
		ID:              id,
		Number:          "F-" + id,
		CustomerID:      customerID,
		PeriodStart:     issued.AddDate(0, -1, 0),
		PeriodEnd:       issued,
		PreviousReading: decimal.NewFromInt(100),
		CurrentReading:  decimal.NewFromInt(118),
		Total:           decimal.NewFromInt(total),
		Currency:        "CLP",
		Status:          domain.InvoiceStatusPending,
		IssuedAt:        issued,
		DueAt:           h.Clock.Now().AddDate(0, 0, 10),
	})
}

// SeedPayment adds an acknowledged CREATED payment covering the invoices.
func (h *Harness) SeedPayment(ref, customerID string, amount int64, invoiceIDs ...string) {
	created := h.Clock.Now().Add(-10 * time.Minute)
	h.Payments.AddPayment(&domain.Payment{
		ID:                "pay-" + ref,
		ExternalReference: ref,
		CustomerID:        customerID,
		InvoiceIDs:        invoiceIDs,
		Amount:            decimal.NewFromInt(amount),
		Currency:          "CLP",
		Provider:          domain.ProviderFlow,
		ProviderPaymentID: "flow-" + ref,
		Charged:           domain.NewMoney(decimal.NewFromInt(amount), "CLP"),
		Status:            domain.PaymentStatusCreated,
		Metadata:          domain.Metadata{Provider: domain.ProviderFlow},
		CreatedAt:         created,
		UpdatedAt:         created,
	})
}

// SeedScenario creates customer c-1 owing 120,000 with invoices inv-a
// (50,000) and inv-b (70,000) and a payment attempt "ref-1" covering both.
func (h *Harness) SeedScenario() {
	h.SeedCustomer("c-1", 120000)
	h.SeedInvoice("inv-a", "c-1", 50000)
	h.SeedInvoice("inv-b", "c-1", 70000)
	h.SeedPayment("ref-1", "c-1", 120000, "inv-a", "inv-b")
}

// Event builds a Flow canonical event for ref.
func (h *Harness) Event(ref string, status domain.CanonicalStatus, amount int64) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		ExternalReference: ref,
		Provider:          domain.ProviderFlow,
		ProviderPaymentID: "flow-" + ref,
		Status:            status,
		Amount:            decimal.NewFromInt(amount),
		Currency:          "CLP",
		RawPayload:        []byte(`{"status":1}`),
		ReceivedAt:        h.Clock.Now(),
	}
}
