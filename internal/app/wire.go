package app

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"aquabill/internal/audit"
	"aquabill/internal/config"
	"aquabill/internal/gateway"
	"aquabill/internal/gateway/flow"
	"aquabill/internal/gateway/mercadopago"
	"aquabill/internal/gateway/payu"
	"aquabill/internal/handler"
	internalRedis "aquabill/internal/redis"
	"aquabill/internal/repository/postgres"
	"aquabill/internal/service"
)

// Gateways holds the enabled provider clients.
type Gateways struct {
	Registry    *gateway.Registry
	Flow        *flow.Client
	MercadoPago *mercadopago.Client
	PayU        *payu.Client
}

// NewGateways builds a client for every enabled provider.
func NewGateways(cfg config.ProvidersConfig, rates *gateway.RateTable, logger *zap.Logger) *Gateways {
	g := &Gateways{}
	var enabled []gateway.Gateway

	if p := cfg.Flow; p.Enabled {
		g.Flow = flow.NewClient(flow.Config{
			BaseURL:       p.BaseURL,
			APIKey:        p.APIKey,
			SecretKey:     p.SecretKey,
			Timeout:       p.Timeout,
			Sandbox:       p.Sandbox,
			SandboxAmount: p.SandboxAmount,
		}, rates, logger)
		enabled = append(enabled, g.Flow)
	}

	if p := cfg.MercadoPago; p.Enabled {
		g.MercadoPago = mercadopago.NewClient(mercadopago.Config{
			BaseURL:        p.BaseURL,
			AccessToken:    p.AccessToken,
			Currency:       p.Currency,
			DefaultCountry: p.DefaultCountry,
			Sandbox:        p.Sandbox,
			Timeout:        p.Timeout,
		}, rates, logger)
		enabled = append(enabled, g.MercadoPago)
	}

	if p := cfg.PayU; p.Enabled {
		g.PayU = payu.NewClient(payu.Config{
			PaymentsURL: p.PaymentsURL,
			ReportsURL:  p.ReportsURL,
			MerchantID:  p.MerchantID,
			AccountID:   p.AccountID,
			APILogin:    p.APILogin,
			APIKey:      p.APIKey,
			Currency:    p.Currency,
			Test:        p.Test,
			Timeout:     p.Timeout,
		}, rates, logger)
		enabled = append(enabled, g.PayU)
	}

	g.Registry = gateway.NewRegistry(enabled...)
	return g
}

// Bind enables the webhook routes of the configured providers.
func (g *Gateways) Bind(h *handler.WebhookHandler) *handler.WebhookHandler {
	if g.Flow != nil {
		h.WithFlow(g.Flow.Adapter(), g.Flow)
	}
	if g.MercadoPago != nil {
		h.WithMercadoPago(g.MercadoPago.Adapter(), g.MercadoPago)
	}
	if g.PayU != nil {
		h.WithPayU(g.PayU.Adapter())
	}
	return h
}

// Services holds the wired billing services.
type Services struct {
	Payments   *service.PaymentService
	Invoices   *service.InvoiceService
	Reconciler *service.ReconciliationService
	Poller     *service.Poller
}

// NewServices wires repositories, Redis stores and side effects into the
// billing services.
func NewServices(
	db *sql.DB,
	redisClient *redis.Client,
	gateways *Gateways,
	auditStore *audit.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Services {
	// Initialize Redis stores.
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)
	publisher := internalRedis.NewPublisher(redisClient)

	// Initialize repositories.
	paymentRepo := postgres.NewPaymentRepository(db)
	invoiceRepo := postgres.NewInvoiceRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	customerRepo := postgres.NewCustomerRepository(db)

	notificationService := service.NewNotificationService(logger)
	receiptService := service.NewReceiptService(notificationService)

	effects := []service.Effect{
		service.NewNotifyEffect(receiptService, notificationService, customerRepo),
		service.NewPushEffect(publisher),
	}
	if auditStore != nil {
		effects = append(effects, service.NewAuditEffect(auditStore))
	}
	dispatcher := service.NewDispatcher(logger, cfg.Reconcile.SideEffectTimeout, effects...)

	reconciler := service.NewReconciliationService(
		paymentRepo,
		invoiceRepo,
		service.NewLedgerWriter(ledgerRepo, logger),
		dispatcher,
		cacheStore,
		cfg.Reconcile.SettlementLease,
		logger,
	)

	urls := service.CheckoutURLs{PublicURL: cfg.Portal.PublicURL, ResultURL: cfg.Portal.ResultURL}

	return &Services{
		Payments: service.NewPaymentService(
			paymentRepo, invoiceRepo, customerRepo, gateways.Registry, lockStore, cacheStore, urls, logger,
		),
		Invoices:   service.NewInvoiceService(invoiceRepo, logger),
		Reconciler: reconciler,
		Poller: service.NewPoller(paymentRepo, invoiceRepo, gateways.Registry, reconciler, lockStore, service.PollerConfig{
			Interval:        cfg.Poller.Interval,
			MinAge:          cfg.Poller.MinAge,
			BatchSize:       cfg.Poller.BatchSize,
			SettlementLease: cfg.Reconcile.SettlementLease,
		}, logger),
	}
}
