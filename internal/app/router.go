package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"aquabill/internal/handler"
	"aquabill/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	PaymentHandler   *handler.PaymentHandler
	InvoiceHandler   *handler.InvoiceHandler
	WebhookHandler   *handler.WebhookHandler
	IdempotencyStore middleware.IdempotencyStore
	AllowedOrigins   []string
	NewRelicApp      *newrelic.Application
	Logger           *zap.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins...))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.NewRelicAttributes())
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Payment routes.
		payments := v1.Group("/payments")
		{
			payments.POST("", middleware.IdempotencyMiddleware(deps.IdempotencyStore, deps.Logger), deps.PaymentHandler.CreatePayment)
			payments.GET("/:ref", deps.PaymentHandler.GetPayment)
		}

		// Invoice routes.
		v1.GET("/invoices/:id", deps.InvoiceHandler.GetInvoice)

		admin := v1.Group("/admin/invoices")
		{
			admin.POST("/:id/archive", deps.InvoiceHandler.ArchiveInvoice)
			admin.POST("/:id/void", deps.InvoiceHandler.VoidInvoice)
			admin.DELETE("/:id", deps.InvoiceHandler.DeleteInvoice)
		}

		// Provider notifications and browser returns.
		deps.WebhookHandler.Register(v1)
	}

	return router
}
