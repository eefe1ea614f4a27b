package jobs

import (
	"context"
	"time"

	"repairflow/logger"
)

// PaymentReconciler is satisfied by *payment.Orchestrator.
type PaymentReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error)
}

// RunReconciler settles payments stuck in PENDING every interval until ctx
// is cancelled.
func RunReconciler(ctx context.Context, r PaymentReconciler, interval, olderThan time.Duration, log *logger.Logger) {
	if log == nil {
		log = logger.Discard()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		moved, err := r.ReconcilePending(ctx, olderThan)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("payment reconcile failed", "error", err)
			}
			continue
		}
		if moved > 0 {
			log.Info("payments reconciled", "count", moved)
		}
	}
}
