package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"aquabill/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Providers.Flow.Timeout != 30*time.Second {
		t.Errorf("flow timeout = %v, want 30s", cfg.Providers.Flow.Timeout)
	}
	if cfg.Providers.Flow.Sandbox {
		t.Error("flow sandbox must default to off")
	}
	if cfg.Reconcile.SettlementLease <= 0 {
		t.Error("settlement lease must be positive")
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("FLOW_SANDBOX", "true")
	t.Setenv("FLOW_SANDBOX_AMOUNT", "350")
	t.Setenv("POLLER_BATCH_SIZE", "25")
	t.Setenv("PAYU_TIMEOUT", "5s")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	if !cfg.Providers.Flow.Sandbox || !cfg.Providers.Flow.SandboxAmount.Equal(decimal.NewFromInt(350)) {
		t.Errorf("flow sandbox = %v %s", cfg.Providers.Flow.Sandbox, cfg.Providers.Flow.SandboxAmount)
	}
	if cfg.Poller.BatchSize != 25 {
		t.Errorf("batch size = %d", cfg.Poller.BatchSize)
	}
	if cfg.Providers.PayU.Timeout != 5*time.Second {
		t.Errorf("payu timeout = %v", cfg.Providers.PayU.Timeout)
	}
	if cfg.Redis.DB != 0 {
		t.Errorf("invalid int must fall back to default, got %d", cfg.Redis.DB)
	}
}

func TestLoadRates(t *testing.T) {
	t.Parallel()

	t.Run("default table", func(t *testing.T) {
		table, err := LoadRates("")
		if err != nil {
			t.Fatalf("LoadRates() error = %v", err)
		}
		got, err := table.Convert(domain.NewMoney(decimal.NewFromInt(100000), "COP"), "CLP")
		if err != nil {
			t.Fatalf("Convert() error = %v", err)
		}
		if !got.Amount.Equal(decimal.NewFromInt(24000)) {
			t.Errorf("converted = %s", got)
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rates.toml")
		content := "[[rate]]\nfrom = \"cop\"\nto = \"usd\"\nvalue = \"0.0002\"\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		table, err := LoadRates(path)
		if err != nil {
			t.Fatalf("LoadRates() error = %v", err)
		}
		got, err := table.Convert(domain.NewMoney(decimal.NewFromInt(100000), "COP"), "USD")
		if err != nil || !got.Amount.Equal(decimal.NewFromInt(20)) {
			t.Errorf("converted = %s, err = %v", got, err)
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rates.toml")
		content := "[[rate]]\nfrom = \"COP\"\nto = \"CLP\"\nvalue = \"-1\"\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		if _, err := LoadRates(path); err == nil {
			t.Error("expected error for negative rate")
		}
	})
}
