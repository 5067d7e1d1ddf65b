package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aquabill/internal/domain"
	"aquabill/internal/gateway"
	"aquabill/internal/redis"
	"aquabill/internal/repository"
)

const checkoutLockTTL = 45 * time.Second

// CheckoutURLs are the public endpoints handed to providers.
type CheckoutURLs struct {
	// PublicURL is the base of the webhook and callback routes.
	PublicURL string
	// ResultURL is the portal page showing the payment result.
	ResultURL string
}

// NotifyURL returns the webhook endpoint of a provider.
func (u CheckoutURLs) NotifyURL(provider domain.ProviderID) string {
	return strings.TrimRight(u.PublicURL, "/") + "/v1/webhooks/" + string(provider)
}

// ReturnURL returns where the payer's browser goes after checkout.
func (u CheckoutURLs) ReturnURL(provider domain.ProviderID, ref string) string {
	if provider == domain.ProviderFlow {
		return strings.TrimRight(u.PublicURL, "/") + "/v1/callbacks/flow"
	}
	return u.ResultURL + "?ref=" + ref
}

// PaymentService creates payment attempts and serves their status.
type PaymentService struct {
	payments  repository.PaymentRepository
	invoices  repository.InvoiceRepository
	customers repository.CustomerRepository
	gateways  *gateway.Registry
	locks     redis.LockStoreInterface
	cache     redis.PaymentCacheInterface
	urls      CheckoutURLs
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService creates a new PaymentService. locks and cache may be nil.
func NewPaymentService(
	payments repository.PaymentRepository,
	invoices repository.InvoiceRepository,
	customers repository.CustomerRepository,
	gateways *gateway.Registry,
	locks redis.LockStoreInterface,
	cache redis.PaymentCacheInterface,
	urls CheckoutURLs,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		payments:  payments,
		invoices:  invoices,
		customers: customers,
		gateways:  gateways,
		locks:     locks,
		cache:     cache,
		urls:      urls,
		logger:    logger.Named("checkout"),
		now:       time.Now,
	}
}

// CreatePaymentAttemptRequest contains the parameters for a checkout.
type CreatePaymentAttemptRequest struct {
	CustomerID string
	InvoiceIDs []string
	Provider   domain.ProviderID
	Options    map[string]string
}

// CreatePaymentAttemptResponse tells the portal where to send the payer.
type CreatePaymentAttemptResponse struct {
	ExternalReference string
	RedirectURL       string
	Payment           *domain.Payment
}

// CreatePaymentAttempt validates the invoices, records the attempt and opens
// the provider checkout. If the provider call fails the attempt is removed.
func (s *PaymentService) CreatePaymentAttempt(ctx context.Context, req CreatePaymentAttemptRequest) (*CreatePaymentAttemptResponse, error) {
	if req.CustomerID == "" {
		return nil, ErrInvalidCustomerID
	}

	gw, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	invoiceIDs := dedupe(req.InvoiceIDs)
	if len(invoiceIDs) == 0 {
		return nil, ErrNoInvoices
	}

	if s.locks != nil {
		lock, err := s.locks.AcquireCheckoutLock(ctx, req.CustomerID, checkoutLockTTL)
		if err != nil {
			return nil, err
		}
		if lock == nil {
			return nil, ErrCheckoutInProgress
		}
		defer s.locks.Release(context.WithoutCancel(ctx), lock)
	}

	customer, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	total, currency, err := s.validateInvoices(ctx, customer.ID, invoiceIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ref := uuid.NewString()
	payment := &domain.Payment{
		ID:                uuid.NewString(),
		ExternalReference: ref,
		CustomerID:        customer.ID,
		InvoiceIDs:        invoiceIDs,
		Amount:            total,
		Currency:          currency,
		Provider:          req.Provider,
		Status:            domain.PaymentStatusCreated,
		Metadata:          domain.Metadata{Provider: req.Provider},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	log := s.logger.With(
		zap.String("external_reference", ref),
		zap.String("provider", string(req.Provider)),
	)

	charge, err := gw.CreateCharge(ctx, gateway.ChargeRequest{
		ExternalReference: ref,
		Amount:            domain.NewMoney(total, currency),
		Description:       describe(len(invoiceIDs)),
		Payer:             gateway.Payer{Name: customer.Name, Email: customer.Email, Phone: customer.Phone},
		ReturnURL:         s.urls.ReturnURL(req.Provider, ref),
		NotifyURL:         s.urls.NotifyURL(req.Provider),
		Options:           req.Options,
	})
	if err != nil {
		log.Warn("create charge failed, removing attempt", zap.Error(err))
		if delErr := s.payments.DeleteUnacknowledged(context.WithoutCancel(ctx), ref); delErr != nil {
			log.Error("remove unacknowledged attempt failed", zap.Error(delErr))
		}
		return nil, pkgerrors.Wrap(err, "create charge")
	}

	ack := repository.ProviderAck{
		ProviderPaymentID: charge.ProviderPaymentID,
		Charged:           charge.Charged,
		Metadata:          charge.Metadata,
	}
	if err := s.payments.AttachProviderPayment(ctx, ref, ack); err != nil {
		// The provider knows the reference now, so the attempt is kept and
		// later events still correlate through it.
		log.Error("attach provider payment failed", zap.Error(err))
		return nil, pkgerrors.Wrap(err, "attach provider payment")
	}

	payment.ProviderPaymentID = charge.ProviderPaymentID
	payment.Charged = charge.Charged
	payment.Metadata = charge.Metadata

	log.Info("payment attempt created",
		zap.String("customer_id", customer.ID),
		zap.Strings("invoice_ids", invoiceIDs),
		zap.String("amount", total.String()),
		zap.String("charged", charge.Charged.String()),
	)

	return &CreatePaymentAttemptResponse{
		ExternalReference: ref,
		RedirectURL:       charge.RedirectURL,
		Payment:           payment,
	}, nil
}

func (s *PaymentService) validateInvoices(ctx context.Context, customerID string, ids []string) (decimal.Decimal, string, error) {
	invoices, err := s.invoices.GetByIDs(ctx, ids)
	if err != nil {
		return decimal.Zero, "", err
	}

	total := decimal.Zero
	currency := ""

	for _, id := range ids {
		inv, ok := invoices[id]
		if !ok {
			return decimal.Zero, "", pkgerrors.Wrapf(ErrUnknownInvoice, "invoice %s", id)
		}
		if inv.CustomerID != customerID {
			return decimal.Zero, "", pkgerrors.Wrapf(ErrInvoiceNotOwned, "invoice %s", id)
		}
		if !inv.IsPayable() {
			return decimal.Zero, "", pkgerrors.Wrapf(ErrInvoiceNotPayable, "invoice %s is %s", id, inv.Status)
		}
		if !inv.Total.IsPositive() {
			return decimal.Zero, "", pkgerrors.Wrapf(ErrNonPositiveAmount, "invoice %s", id)
		}
		if currency != "" && inv.Currency != currency {
			return decimal.Zero, "", pkgerrors.Wrapf(ErrMixedCurrency, "invoice %s", id)
		}

		currency = inv.Currency
		total = total.Add(inv.Total)
	}

	return total, currency, nil
}

// GetPaymentStatus returns the status read model of a payment, served from
// cache when possible.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, ref string) (*redis.CachedPayment, error) {
	if ref == "" {
		return nil, ErrInvalidReference
	}

	var (
		fill       bool
		generation int64
	)
	if s.cache != nil {
		cached, gen, err := s.cache.GetPayment(ctx, ref)
		switch {
		case err != nil:
			s.logger.Warn("payment cache read failed", zap.String("external_reference", ref), zap.Error(err))
		case cached != nil:
			return cached, nil
		default:
			fill, generation = true, gen
		}
	}

	payment, err := s.payments.GetByExternalReference(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	view := &redis.CachedPayment{
		ExternalReference: payment.ExternalReference,
		CustomerID:        payment.CustomerID,
		Provider:          string(payment.Provider),
		Status:            string(payment.Status),
		Amount:            payment.Amount.String(),
		Currency:          payment.Currency,
		InvoiceIDs:        payment.InvoiceIDs,
		Settled:           payment.Settled(),
		UpdatedAt:         payment.UpdatedAt,
	}

	if fill {
		if _, err := s.cache.SetPayment(ctx, view, generation); err != nil {
			s.logger.Warn("payment cache write failed", zap.String("external_reference", ref), zap.Error(err))
		}
	}

	return view, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func describe(n int) string {
	if n == 1 {
		return "Water service invoice"
	}
	return "Water service invoices"
}
