package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestLoad_RequiresStripeKeyOutsideMockMode(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/repair")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PAYMENT_PROVIDER_MOCK", "false")
	t.Setenv("STRIPE_SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when STRIPE_SECRET_KEY is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/repair")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PAYMENT_PROVIDER_MOCK", "true")
	t.Setenv("PAYMENT_CURRENCY", "USD")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("MINIO_ENDPOINT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProviderTimeout != 3*time.Second {
		t.Errorf("provider timeout = %v, want 3s", cfg.ProviderTimeout)
	}
	if cfg.PaymentCurrency != "usd" {
		t.Errorf("currency = %q, want usd", cfg.PaymentCurrency)
	}
	if cfg.IsMinIOEnabled() {
		t.Errorf("expected minio disabled without endpoint")
	}
}

func TestLoad_MalformedNumbersAreErrors(t *testing.T) {
	cases := map[string]string{
		"RECONCILE_AFTER":     "5 minutes",
		"PROVIDER_TIMEOUT":    "ten seconds",
		"ASYNQ_CONCURRENCY":   "many",
		"PUSH_RATE_PER_SEC":   "fast",
		"MINIO_MAX_FILE_SIZE": "25MB",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/repair")
			t.Setenv("JWT_SECRET", "secret")
			t.Setenv("PAYMENT_PROVIDER_MOCK", "true")
			t.Setenv(key, value)

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestLoad_ReconcileAfterMustExceedProviderTimeout(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/repair")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PAYMENT_PROVIDER_MOCK", "true")
	t.Setenv("PROVIDER_TIMEOUT", "30s")

	for _, after := range []string{"0s", "10s", "30s"} {
		t.Setenv("RECONCILE_AFTER", after)
		if _, err := Load(); err == nil {
			t.Errorf("RECONCILE_AFTER=%s with a 30s provider timeout should be rejected", after)
		}
	}

	t.Setenv("RECONCILE_AFTER", "31s")
	if _, err := Load(); err != nil {
		t.Fatalf("31s should load: %v", err)
	}
}
