// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting read by the api and worker binaries.
type Config struct {
	Env         string
	HTTPAddr    string
	DatabaseURL string
	AutoMigrate bool

	JWTSecret   string
	JWTTokenTTL time.Duration

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueue       string
	AsynqConcurrency int

	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentProviderMock bool
	PaymentCurrency     string
	ProviderTimeout     time.Duration
	ReconcileInterval   time.Duration
	ReconcileAfter      time.Duration

	PushGatewayURL   string
	PushGatewayToken string
	PushRatePerSec   float64
	TriageURL        string

	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	MinIOUseSSL      bool
	MinIOBucket      string
	MinIOMaxFileSize int64
}

// Load reads configuration from environment variables, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var p envParser
	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		AutoMigrate:         strings.EqualFold(getEnv("AUTO_MIGRATE", "true"), "true"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		JWTTokenTTL:         p.duration("JWT_TOKEN_TTL", "24h"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueue:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:    p.integer("ASYNQ_CONCURRENCY", "10"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PaymentProviderMock: strings.EqualFold(getEnv("PAYMENT_PROVIDER_MOCK", "false"), "true"),
		PaymentCurrency:     strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd")),
		ProviderTimeout:     p.duration("PROVIDER_TIMEOUT", "10s"),
		ReconcileInterval:   p.duration("RECONCILE_INTERVAL", "1m"),
		ReconcileAfter:      p.duration("RECONCILE_AFTER", "5m"),
		PushGatewayURL:      getEnv("PUSH_GATEWAY_URL", ""),
		PushGatewayToken:    getEnv("PUSH_GATEWAY_TOKEN", ""),
		PushRatePerSec:      p.float("PUSH_RATE_PER_SEC", "20"),
		TriageURL:           getEnv("TRIAGE_URL", ""),
		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:         strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOBucket:         getEnv("MINIO_BUCKET_INVOICES", "work-order-invoices"),
		MinIOMaxFileSize:    p.integer64("MINIO_MAX_FILE_SIZE", "26214400"),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if !cfg.PaymentProviderMock && cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required unless PAYMENT_PROVIDER_MOCK is true")
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT must be a positive duration")
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("RECONCILE_INTERVAL must be a positive duration")
	}
	// a PENDING row younger than the provider timeout may still have its
	// transfer call running
	if cfg.ReconcileAfter <= cfg.ProviderTimeout {
		return nil, fmt.Errorf("RECONCILE_AFTER (%s) must be longer than PROVIDER_TIMEOUT (%s)", cfg.ReconcileAfter, cfg.ProviderTimeout)
	}
	if cfg.AsynqConcurrency <= 0 {
		return nil, fmt.Errorf("ASYNQ_CONCURRENCY must be positive")
	}

	return cfg, nil
}

// IsMinIOEnabled reports whether invoice storage is configured.
func (c *Config) IsMinIOEnabled() bool {
	return c.MinIOEndpoint != "" && c.MinIOAccessKey != "" && c.MinIOSecretKey != ""
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// envParser reads typed values and collects every malformed key so Load can
// report them together.
type envParser struct {
	errs []error
}

func (p *envParser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *envParser) duration(key, fallback string) time.Duration {
	value := strings.TrimSpace(getEnv(key, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return 0
	}
	return d
}

func (p *envParser) integer(key, fallback string) int {
	value := strings.TrimSpace(getEnv(key, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return 0
	}
	return n
}

func (p *envParser) integer64(key, fallback string) int64 {
	value := strings.TrimSpace(getEnv(key, fallback))
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.fail(key, value, err)
		return 0
	}
	return n
}

func (p *envParser) float(key, fallback string) float64 {
	value := strings.TrimSpace(getEnv(key, fallback))
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return 0
	}
	return f
}
