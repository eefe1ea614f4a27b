package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repairflow/auth"
	"repairflow/config"
	"repairflow/db"
	"repairflow/document"
	"repairflow/logger"
	"repairflow/payment"
	"repairflow/workorder"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("production").Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	provider, err := payment.SelectProvider(cfg.PaymentProviderMock, cfg.StripeSecretKey)
	if err != nil {
		return err
	}

	srv := &Server{
		workOrders: workorder.NewService(pool, nil, log),
		payments: payment.NewOrchestrator(pool, nil, provider,
			payment.WithTimeout(cfg.ProviderTimeout),
			payment.WithCurrency(cfg.PaymentCurrency),
			payment.WithLogger(log),
		),
		webhooks: payment.NewEventParser(cfg.StripeWebhookSecret),
		tokens:   auth.NewService(cfg.JWTSecret, cfg.JWTTokenTTL),
		db:       pool,
		log:      log,
	}

	if cfg.IsMinIOEnabled() {
		store, err := document.NewMinIOStore(cfg)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		srv.documents = document.NewService(pool, nil, store, cfg.MinIOMaxFileSize, log)
	} else {
		log.Warn("object storage not configured, invoice routes disabled")
	}

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Info("api shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
