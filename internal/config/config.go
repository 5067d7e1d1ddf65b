package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Log       LogConfig
	Portal    PortalConfig
	Providers ProvidersConfig
	Reconcile ReconcileConfig
	Poller    PollerConfig
	Audit     AuditConfig
	RatesFile string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string
}

// PortalConfig holds the public URLs handed to payment providers.
type PortalConfig struct {
	// PublicURL is where providers reach the webhook endpoints.
	PublicURL string
	// ResultURL is the portal page the payer lands on after checkout.
	ResultURL string
	// AllowedOrigins lists the browser origins allowed by CORS.
	AllowedOrigins []string
}

// ProvidersConfig holds one block per payment processor.
type ProvidersConfig struct {
	Flow        FlowConfig
	MercadoPago MercadoPagoConfig
	PayU        PayUConfig
}

// FlowConfig configures Flow.
type FlowConfig struct {
	Enabled       bool
	BaseURL       string
	APIKey        string
	SecretKey     string
	Sandbox       bool
	SandboxAmount decimal.Decimal
	Timeout       time.Duration
}

// MercadoPagoConfig configures Mercado Pago.
type MercadoPagoConfig struct {
	Enabled        bool
	BaseURL        string
	AccessToken    string
	Currency       string
	DefaultCountry string
	Sandbox        bool
	Timeout        time.Duration
}

// PayUConfig configures PayU.
type PayUConfig struct {
	Enabled     bool
	PaymentsURL string
	ReportsURL  string
	MerchantID  string
	AccountID   string
	APILogin    string
	APIKey      string
	Currency    string
	Test        bool
	Timeout     time.Duration
}

// ReconcileConfig tunes the reconciliation service.
type ReconcileConfig struct {
	// SettlementLease is how long a completed payment's settlement is
	// reserved for the caller that claimed it before another may resume it.
	SettlementLease time.Duration
	// SideEffectTimeout bounds the dispatcher's fan-out.
	SideEffectTimeout time.Duration
}

// PollerConfig tunes the background status poller.
type PollerConfig struct {
	Enabled   bool
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
}

// AuditConfig locates the audit trail database.
type AuditConfig struct {
	Path string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 45*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "aquabill"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "aquabill-billing"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Portal: PortalConfig{
			PublicURL:      getEnv("PORTAL_PUBLIC_URL", "http://localhost:8080"),
			ResultURL:      getEnv("PORTAL_RESULT_URL", "http://localhost:3000/payments/result"),
			AllowedOrigins: getListEnv("PORTAL_ALLOWED_ORIGINS"),
		},
		Providers: ProvidersConfig{
			Flow: FlowConfig{
				Enabled:       getBoolEnv("FLOW_ENABLED", true),
				BaseURL:       getEnv("FLOW_BASE_URL", "https://sandbox.flow.cl/api"),
				APIKey:        getEnv("FLOW_API_KEY", ""),
				SecretKey:     getEnv("FLOW_SECRET_KEY", ""),
				Sandbox:       getBoolEnv("FLOW_SANDBOX", false),
				SandboxAmount: getDecimalEnv("FLOW_SANDBOX_AMOUNT", decimal.Zero),
				Timeout:       getDurationEnv("FLOW_TIMEOUT", 30*time.Second),
			},
			MercadoPago: MercadoPagoConfig{
				Enabled:        getBoolEnv("MERCADOPAGO_ENABLED", true),
				BaseURL:        getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
				AccessToken:    getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
				Currency:       getEnv("MERCADOPAGO_CURRENCY", "COP"),
				DefaultCountry: getEnv("MERCADOPAGO_COUNTRY_CODE", "57"),
				Sandbox:        getBoolEnv("MERCADOPAGO_SANDBOX", false),
				Timeout:        getDurationEnv("MERCADOPAGO_TIMEOUT", 30*time.Second),
			},
			PayU: PayUConfig{
				Enabled:     getBoolEnv("PAYU_ENABLED", true),
				PaymentsURL: getEnv("PAYU_PAYMENTS_URL", "https://sandbox.api.payulatam.com/payments-api/4.0/service.cgi"),
				ReportsURL:  getEnv("PAYU_REPORTS_URL", "https://sandbox.api.payulatam.com/reports-api/4.0/service.cgi"),
				MerchantID:  getEnv("PAYU_MERCHANT_ID", ""),
				AccountID:   getEnv("PAYU_ACCOUNT_ID", ""),
				APILogin:    getEnv("PAYU_API_LOGIN", ""),
				APIKey:      getEnv("PAYU_API_KEY", ""),
				Currency:    getEnv("PAYU_CURRENCY", "COP"),
				Test:        getBoolEnv("PAYU_TEST", false),
				Timeout:     getDurationEnv("PAYU_TIMEOUT", 30*time.Second),
			},
		},
		Reconcile: ReconcileConfig{
			SettlementLease:   getDurationEnv("RECONCILE_SETTLEMENT_LEASE", 2*time.Minute),
			SideEffectTimeout: getDurationEnv("RECONCILE_SIDE_EFFECT_TIMEOUT", 15*time.Second),
		},
		Poller: PollerConfig{
			Enabled:   getBoolEnv("POLLER_ENABLED", true),
			Interval:  getDurationEnv("POLLER_INTERVAL", time.Minute),
			MinAge:    getDurationEnv("POLLER_MIN_AGE", 5*time.Minute),
			BatchSize: getIntEnv("POLLER_BATCH_SIZE", 100),
		},
		Audit: AuditConfig{
			Path: getEnv("AUDIT_DB_PATH", "audit.db"),
		},
		RatesFile: getEnv("RATES_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
