// Command worker drains the outbox into asynq, runs the task handlers and
// sweeps payments left PENDING by an unknown provider outcome.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"repairflow/config"
	"repairflow/db"
	"repairflow/jobs"
	"repairflow/logger"
	"repairflow/notify"
	"repairflow/outbox"
	"repairflow/payment"
	"repairflow/triage"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("production").Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	if err := run(cfg, log); err != nil {
		log.Error("worker stopped", "error", err)
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

	client, err := jobs.NewClient(cfg.RedisURL, cfg.RedisTLSInsecure)
	if err != nil {
		return err
	}
	defer client.Close()

	worker, err := jobs.NewWorker(cfg.RedisURL, cfg.RedisTLSInsecure, cfg.AsynqQueue, cfg.AsynqConcurrency,
		notify.NewClient(cfg.PushGatewayURL, cfg.PushGatewayToken, cfg.PushRatePerSec, log),
		triage.NewClient(cfg.TriageURL, log),
		log,
	)
	if err != nil {
		return err
	}

	provider, err := payment.SelectProvider(cfg.PaymentProviderMock, cfg.StripeSecretKey)
	if err != nil {
		return err
	}
	orchestrator := payment.NewOrchestrator(pool, nil, provider,
		payment.WithTimeout(cfg.ProviderTimeout),
		payment.WithCurrency(cfg.PaymentCurrency),
		payment.WithLogger(log),
	)

	dispatcher := jobs.NewDispatcher(outbox.NewRepository(pool), client, cfg.AsynqQueue, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		jobs.RunReconciler(gctx, orchestrator, cfg.ReconcileInterval, cfg.ReconcileAfter, log)
		return nil
	})

	log.Info("worker started", "queue", cfg.AsynqQueue, "concurrency", cfg.AsynqConcurrency)
	return g.Wait()
}
