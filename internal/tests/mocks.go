package tests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aquabill/internal/audit"
	"aquabill/internal/domain"
	"aquabill/internal/gateway"
	"aquabill/internal/redis"
	"aquabill/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentRepository is an in-memory PaymentRepository. ApplyTransition
// and ClaimSettlement hold the write lock for the whole check-and-set, which
// gives the same single-winner behavior as the conditional SQL update.
type MockPaymentRepository struct {
	mu         sync.RWMutex
	payments   map[string]*domain.Payment
	claimedAt  map[string]time.Time
	lastPolled map[string]time.Time

	// OnGet runs after GetByExternalReference has read a payment.
	OnGet func(ref string)

	// Counters for verification
	ApplyTransitionCallCount int32
	AppliedCount             int32
	ClaimCallCount           int32

	// Error injection
	GetError             error
	CreateError          error
	AttachError          error
	ApplyTransitionError error
	ClaimError           error
	MarkSettledError     error
}

// NewMockPaymentRepository creates a new mock payment repository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments:   make(map[string]*domain.Payment),
		claimedAt:  make(map[string]time.Time),
		lastPolled: make(map[string]time.Time),
	}
}

// AddPayment adds a payment to the mock repository.
func (m *MockPaymentRepository) AddPayment(payment *domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ExternalReference] = payment
}

// SetClaimedAt sets the settlement lease timestamp of a payment.
func (m *MockPaymentRepository) SetClaimedAt(ref string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimedAt[ref] = at
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.ExternalReference]; ok {
		return repository.ErrDuplicate
	}
	copy := *payment
	m.payments[payment.ExternalReference] = &copy
	return nil
}

func (m *MockPaymentRepository) GetByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	payment, ok := m.payments[ref]
	if !ok {
		m.mu.RUnlock()
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *payment
	m.mu.RUnlock()

	if m.OnGet != nil {
		m.OnGet(ref)
	}
	return &copy, nil
}

func (m *MockPaymentRepository) GetByProviderPaymentID(ctx context.Context, provider domain.ProviderID, providerPaymentID string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID {
			copy := *p
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockPaymentRepository) AttachProviderPayment(ctx context.Context, ref string, ack repository.ProviderAck) error {
	if m.AttachError != nil {
		return m.AttachError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[ref]
	if !ok {
		return repository.ErrNotFound
	}
	payment.ProviderPaymentID = ack.ProviderPaymentID
	payment.Charged = ack.Charged
	payment.Metadata = ack.Metadata
	return nil
}

func (m *MockPaymentRepository) DeleteUnacknowledged(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[ref]
	if !ok || payment.Status != domain.PaymentStatusCreated || payment.ProviderPaymentID != "" {
		return repository.ErrNotFound
	}
	delete(m.payments, ref)
	return nil
}

func (m *MockPaymentRepository) ApplyTransition(ctx context.Context, ref string, t domain.Transition) (*domain.TransitionResult, error) {
	atomic.AddInt32(&m.ApplyTransitionCallCount, 1)
	if m.ApplyTransitionError != nil {
		return nil, m.ApplyTransitionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}

	previous := payment.Status
	if !domain.CanTransition(previous, t.To) {
		copy := *payment
		return &domain.TransitionResult{Payment: &copy, Applied: false, Previous: previous}, nil
	}

	atomic.AddInt32(&m.AppliedCount, 1)
	payment.Status = t.To
	if t.ProviderPaymentID != "" {
		payment.ProviderPaymentID = t.ProviderPaymentID
	}
	payment.Metadata = t.Metadata
	payment.UpdatedAt = t.At
	if t.To == domain.PaymentStatusCompleted {
		m.claimedAt[ref] = t.At
	}

	copy := *payment
	return &domain.TransitionResult{Payment: &copy, Applied: true, Previous: previous}, nil
}

func (m *MockPaymentRepository) ClaimSettlement(ctx context.Context, ref string, now time.Time, lease time.Duration) (bool, error) {
	atomic.AddInt32(&m.ClaimCallCount, 1)
	if m.ClaimError != nil {
		return false, m.ClaimError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[ref]
	if !ok || !payment.Status.ReceivedFunds() || payment.Settled() {
		return false, nil
	}
	if at, ok := m.claimedAt[ref]; ok && !at.Before(now.Add(-lease)) {
		return false, nil
	}
	m.claimedAt[ref] = now
	return true, nil
}

func (m *MockPaymentRepository) MarkSettled(ctx context.Context, ref string, at time.Time) error {
	if m.MarkSettledError != nil {
		return m.MarkSettledError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[ref]
	if !ok {
		return repository.ErrNotFound
	}
	if payment.SettledAt.IsZero() {
		payment.SettledAt = at
	}
	return nil
}

func (m *MockPaymentRepository) MarkPolled(ctx context.Context, ref string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[ref]; !ok {
		return repository.ErrNotFound
	}
	m.lastPolled[ref] = at
	return nil
}

func (m *MockPaymentRepository) ListOpen(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Payment
	for _, p := range m.payments {
		if p.Status.IsOpen() && p.ProviderPaymentID != "" && p.CreatedAt.Before(createdBefore) {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		pi, pj := m.lastPolled[result[i].ExternalReference], m.lastPolled[result[j].ExternalReference]
		if !pi.Equal(pj) {
			return pi.Before(pj)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockPaymentRepository) ListUnsettled(ctx context.Context, claimedBefore time.Time, limit int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Payment
	for ref, p := range m.payments {
		if !p.Status.ReceivedFunds() || p.Settled() {
			continue
		}
		if at, ok := m.claimedAt[ref]; ok && !at.Before(claimedBefore) {
			continue
		}
		copy := *p
		result = append(result, &copy)
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetPayment returns the stored payment for test assertions.
func (m *MockPaymentRepository) GetPayment(ref string) *domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[ref]
	if !ok {
		return nil
	}
	copy := *p
	return &copy
}

// CountPayments returns the number of stored payments.
func (m *MockPaymentRepository) CountPayments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payments)
}

// ──────────────────────────────────────────────
// MOCK CUSTOMER REPOSITORY
// ──────────────────────────────────────────────

// MockCustomerRepository is a mock implementation of CustomerRepository.
type MockCustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]*domain.Customer

	// Error injection
	GetError error
}

// NewMockCustomerRepository creates a new mock customer repository.
func NewMockCustomerRepository() *MockCustomerRepository {
	return &MockCustomerRepository{
		customers: make(map[string]*domain.Customer),
	}
}

// AddCustomer adds a customer to the mock repository.
func (m *MockCustomerRepository) AddCustomer(customer *domain.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[customer.ID] = customer
}

func (m *MockCustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	customer, ok := m.customers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *customer
	return &copy, nil
}

// Balance returns the outstanding balance of a customer.
func (m *MockCustomerRepository) Balance(id string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	customer, ok := m.customers[id]
	if !ok {
		return decimal.Zero
	}
	return customer.OutstandingBalance
}

func (m *MockCustomerRepository) decrement(id string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer, ok := m.customers[id]
	if !ok {
		return repository.ErrNotFound
	}
	customer.OutstandingBalance = customer.OutstandingBalance.Sub(amount)
	return nil
}

// ──────────────────────────────────────────────
// MOCK INVOICE REPOSITORY
// ──────────────────────────────────────────────

// MockInvoiceRepository is an in-memory InvoiceRepository. MarkPaid
// decrements the owning customer's balance in the same critical section.
type MockInvoiceRepository struct {
	mu        sync.RWMutex
	invoices  map[string]*domain.Invoice
	customers *MockCustomerRepository

	// Counters for verification
	MarkPaidCallCount int32

	// Error injection
	MarkPaidError error
	// MarkPaidErrors fails MarkPaid for specific invoice ids.
	MarkPaidErrors map[string]error
}

// NewMockInvoiceRepository creates a new mock invoice repository whose
// payments decrement balances in customers.
func NewMockInvoiceRepository(customers *MockCustomerRepository) *MockInvoiceRepository {
	return &MockInvoiceRepository{
		invoices:       make(map[string]*domain.Invoice),
		customers:      customers,
		MarkPaidErrors: make(map[string]error),
	}
}

// AddInvoice adds an invoice to the mock repository.
func (m *MockInvoiceRepository) AddInvoice(invoice *domain.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[invoice.ID] = invoice
}

// SetMarkPaidError injects a failure for one invoice id; nil clears it.
func (m *MockInvoiceRepository) SetMarkPaidError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.MarkPaidErrors, id)
		return
	}
	m.MarkPaidErrors[id] = err
}

func (m *MockInvoiceRepository) Create(ctx context.Context, invoice *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[invoice.ID]; ok {
		return repository.ErrDuplicate
	}
	copy := *invoice
	m.invoices[invoice.ID] = &copy
	return nil
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *invoice
	return &copy, nil
}

func (m *MockInvoiceRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]*domain.Invoice, len(ids))
	for _, id := range ids {
		if invoice, ok := m.invoices[id]; ok {
			copy := *invoice
			result[id] = &copy
		}
	}
	return result, nil
}

func (m *MockInvoiceRepository) MarkPaid(ctx context.Context, id, paymentRef string, at time.Time) (*domain.MarkPaidResult, error) {
	atomic.AddInt32(&m.MarkPaidCallCount, 1)
	if m.MarkPaidError != nil {
		return nil, m.MarkPaidError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.MarkPaidErrors[id]; ok {
		return nil, err
	}
	invoice, ok := m.invoices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	if err := invoice.MarkPaid(paymentRef, at); err != nil {
		if errors.Is(err, domain.ErrInvoiceAlreadyPaid) {
			copy := *invoice
			return &domain.MarkPaidResult{Invoice: &copy, AlreadyPaid: true}, nil
		}
		return nil, err
	}
	if m.customers != nil {
		if err := m.customers.decrement(invoice.CustomerID, invoice.Total); err != nil {
			return nil, err
		}
	}

	copy := *invoice
	return &domain.MarkPaidResult{Invoice: &copy}, nil
}

func (m *MockInvoiceRepository) Archive(ctx context.Context, id string, at time.Time) (*domain.Invoice, error) {
	return m.mutate(id, func(invoice *domain.Invoice) error { return invoice.Archive(at) })
}

func (m *MockInvoiceRepository) Void(ctx context.Context, id string) (*domain.Invoice, error) {
	return m.mutate(id, func(invoice *domain.Invoice) error { return invoice.Void() })
}

func (m *MockInvoiceRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := invoice.CheckDeletable(); err != nil {
		return err
	}
	delete(m.invoices, id)
	return nil
}

func (m *MockInvoiceRepository) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, invoice := range m.invoices {
		if invoice.MarkOverdue(now) {
			n++
		}
	}
	return n, nil
}

func (m *MockInvoiceRepository) mutate(id string, fn func(*domain.Invoice) error) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	working := *invoice
	if err := fn(&working); err != nil {
		return nil, err
	}
	*invoice = working
	copy := working
	return &copy, nil
}

// GetInvoice returns the stored invoice for test assertions.
func (m *MockInvoiceRepository) GetInvoice(id string) *domain.Invoice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return nil
	}
	copy := *invoice
	return &copy
}

// ──────────────────────────────────────────────
// MOCK LEDGER REPOSITORY
// ──────────────────────────────────────────────

// MockLedgerRepository is an append-only in-memory ledger, unique per
// external reference.
type MockLedgerRepository struct {
	mu      sync.RWMutex
	entries map[string]*domain.LedgerEntry

	// Counters for verification
	InsertCallCount int32

	// Error injection
	InsertError error
}

// NewMockLedgerRepository creates a new mock ledger repository.
func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{
		entries: make(map[string]*domain.LedgerEntry),
	}
}

func (m *MockLedgerRepository) Insert(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	atomic.AddInt32(&m.InsertCallCount, 1)
	if m.InsertError != nil {
		return false, m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ExternalReference]; ok {
		return false, nil
	}
	copy := *entry
	m.entries[entry.ExternalReference] = &copy
	return true, nil
}

func (m *MockLedgerRepository) GetByExternalReference(ctx context.Context, ref string) (*domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *entry
	return &copy, nil
}

// CountEntries returns the number of ledger entries.
func (m *MockLedgerRepository) CountEntries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ──────────────────────────────────────────────
// MOCK GATEWAY
// ──────────────────────────────────────────────

// MockGateway is a scriptable payment provider.
type MockGateway struct {
	mu       sync.Mutex
	provider domain.ProviderID
	events   map[string]*domain.CanonicalEvent

	// Counters for verification
	CreateChargeCallCount int32
	PollCallCount         int32

	// Error injection
	CreateChargeError error
	PollError         error

	// LastCharge is the most recent charge request.
	LastCharge gateway.ChargeRequest
}

// NewMockGateway creates a mock gateway for the given provider.
func NewMockGateway(provider domain.ProviderID) *MockGateway {
	return &MockGateway{
		provider: provider,
		events:   make(map[string]*domain.CanonicalEvent),
	}
}

// SetEvent makes FetchEvent and PollEvent return event for its reference
// and for its provider payment id.
func (m *MockGateway) SetEvent(event *domain.CanonicalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ExternalReference] = event
	if event.ProviderPaymentID != "" {
		m.events[event.ProviderPaymentID] = event
	}
}

func (m *MockGateway) Provider() domain.ProviderID {
	return m.provider
}

func (m *MockGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	atomic.AddInt32(&m.CreateChargeCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastCharge = req
	if m.CreateChargeError != nil {
		return nil, m.CreateChargeError
	}
	id := "pp-" + uuid.NewString()[:8]
	return &gateway.Charge{
		ProviderPaymentID: id,
		RedirectURL:       "https://checkout.example/" + id,
		Charged:           req.Amount,
		Metadata:          domain.Metadata{Provider: m.provider},
	}, nil
}

func (m *MockGateway) FetchEvent(ctx context.Context, key string) (*domain.CanonicalEvent, error) {
	return m.lookup(key)
}

func (m *MockGateway) PollEvent(ctx context.Context, ref, providerPaymentID string) (*domain.CanonicalEvent, error) {
	atomic.AddInt32(&m.PollCallCount, 1)
	if m.PollError != nil {
		return nil, m.PollError
	}
	return m.lookup(ref)
}

func (m *MockGateway) lookup(key string) (*domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[key]
	if !ok {
		return nil, gateway.ErrNoStatus
	}
	copy := *event
	return &copy, nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]string),
	}
}

func (m *MockLockStore) AcquireCheckoutLock(ctx context.Context, customerID string, ttl time.Duration) (*redis.Lock, error) {
	return m.acquire("lock:checkout:" + customerID)
}

func (m *MockLockStore) AcquirePollerLock(ctx context.Context, ttl time.Duration) (*redis.Lock, error) {
	return m.acquire("lock:poller")
}

func (m *MockLockStore) Release(ctx context.Context, lock *redis.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[lock.Key] == lock.Token {
		delete(m.locks, lock.Key)
	}
	return nil
}

// Hold takes a lock key on behalf of another holder.
func (m *MockLockStore) Hold(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[key] = "other-holder"
}

// IsLocked reports whether a key is held.
func (m *MockLockStore) IsLocked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[key]
	return ok
}

func (m *MockLockStore) acquire(key string) (*redis.Lock, error) {
	if m.AcquireError != nil {
		return nil, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[key]; ok {
		return nil, nil
	}
	lock := &redis.Lock{Key: key, Token: uuid.NewString()}
	m.locks[key] = lock.Token
	return lock, nil
}

// ──────────────────────────────────────────────
// MOCK PAYMENT CACHE
// ──────────────────────────────────────────────

// MockPaymentCache is a mock implementation of PaymentCacheInterface.
type MockPaymentCache struct {
	mu          sync.Mutex
	payments    map[string]*redis.CachedPayment
	generations map[string]int64

	// Counters for verification
	InvalidateCallCount int32
}

// NewMockPaymentCache creates a new mock payment cache.
func NewMockPaymentCache() *MockPaymentCache {
	return &MockPaymentCache{
		payments:    make(map[string]*redis.CachedPayment),
		generations: make(map[string]int64),
	}
}

func (m *MockPaymentCache) GetPayment(ctx context.Context, ref string) (*redis.CachedPayment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cached, ok := m.payments[ref]
	if !ok {
		return nil, m.generations[ref], nil
	}
	copy := *cached
	return &copy, m.generations[ref], nil
}

func (m *MockPaymentCache) SetPayment(ctx context.Context, payment *redis.CachedPayment, generation int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generations[payment.ExternalReference] != generation {
		return false, nil
	}
	copy := *payment
	m.payments[payment.ExternalReference] = &copy
	return true, nil
}

func (m *MockPaymentCache) InvalidatePayment(ctx context.Context, ref string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[ref]++
	delete(m.payments, ref)
	return nil
}

// Has reports whether a reference is cached.
func (m *MockPaymentCache) Has(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.payments[ref]
	return ok
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published payment updates.
type MockPublisher struct {
	mu      sync.Mutex
	updates []redis.PaymentUpdate

	// Error injection
	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishPaymentUpdate(ctx context.Context, customerID string, update redis.PaymentUpdate) (int64, error) {
	if m.PublishError != nil {
		return 0, m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return 1, nil
}

// Updates returns the published updates.
func (m *MockPublisher) Updates() []redis.PaymentUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]redis.PaymentUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// ──────────────────────────────────────────────
// MOCK AUDIT SINK
// ──────────────────────────────────────────────

// MockAuditSink records audit trail lines.
type MockAuditSink struct {
	mu      sync.Mutex
	records []audit.Record

	// Error injection
	AppendError error
}

// NewMockAuditSink creates a new mock audit sink.
func NewMockAuditSink() *MockAuditSink {
	return &MockAuditSink{}
}

func (m *MockAuditSink) Append(ctx context.Context, r audit.Record) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// Records returns the appended records.
func (m *MockAuditSink) Records() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Ensure mocks implement their interfaces.
var (
	_ repository.PaymentRepository  = (*MockPaymentRepository)(nil)
	_ repository.InvoiceRepository  = (*MockInvoiceRepository)(nil)
	_ repository.LedgerRepository   = (*MockLedgerRepository)(nil)
	_ repository.CustomerRepository = (*MockCustomerRepository)(nil)
	_ gateway.Gateway               = (*MockGateway)(nil)
	_ redis.LockStoreInterface      = (*MockLockStore)(nil)
	_ redis.PaymentCacheInterface   = (*MockPaymentCache)(nil)
	_ redis.PublisherInterface      = (*MockPublisher)(nil)
)
