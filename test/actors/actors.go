// Package actors drives the work order and payment services concurrently
// against a real database. Actors swallow the domain errors contention is
// expected to produce and count everything else.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"repairflow/outbox"
	"repairflow/payment"
	"repairflow/workorder"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stats counts actor outcomes across the run.
type Stats struct {
	Approved   atomic.Int64
	Declined   atomic.Int64
	Paid       atomic.Int64
	Callbacks  atomic.Int64
	Unexpected atomic.Int64

	mu      sync.Mutex
	samples []string
}

func (s *Stats) unexpected(actor string, err error) {
	s.Unexpected.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) < 20 {
		s.samples = append(s.samples, fmt.Sprintf("%s: %v", actor, err))
	}
}

// Samples returns up to 20 unexpected errors seen so far.
func (s *Stats) Samples() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.samples...)
}

// Fixture is the seeded data the actors pick from.
type Fixture struct {
	WorkOrderIDs []string
	VendorIDs    []string
}

func (f Fixture) workOrder() string { return f.WorkOrderIDs[rand.Intn(len(f.WorkOrderIDs))] }
func (f Fixture) vendor() string    { return f.VendorIDs[rand.Intn(len(f.VendorIDs))] }

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func jitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

func expectedWorkOrderErr(err error) bool {
	return errors.Is(err, workorder.ErrInvalidTransition) ||
		errors.Is(err, workorder.ErrNotAssigned) ||
		errors.Is(err, workorder.ErrNotFound)
}

// Quoter submits bids from random vendors on random work orders.
func Quoter(ctx context.Context, svc *workorder.Service, fx Fixture, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.SubmitQuote(ctx, workorder.SubmitQuoteParams{
			WorkOrderID: fx.workOrder(),
			VendorID:    fx.vendor(),
			AmountCents: int64(5_000 + rand.Intn(50_000)),
			Details:     "stress bid",
		})
		if err != nil && !expectedWorkOrderErr(err) && ctx.Err() == nil {
			stats.unexpected("quoter", err)
		}
		jitter(5, 15)
	}
	return nil
}

// Approver races other approvers on the pending quotes of one work order.
func Approver(ctx context.Context, svc *workorder.Service, pool *pgxpool.Pool, fx Fixture, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var quoteID string
		err := pool.QueryRow(ctx, `
SELECT id FROM work_order_quotes
WHERE work_order_id = $1 AND status = 'PENDING'
ORDER BY random() LIMIT 1`, fx.workOrder()).Scan(&quoteID)
		if err == nil {
			_, err = svc.ApproveQuote(ctx, quoteID, "stress-manager")
			switch {
			case err == nil:
				stats.Approved.Add(1)
			case expectedWorkOrderErr(err) || ctx.Err() != nil:
			default:
				stats.unexpected("approver", err)
			}
		}
		jitter(5, 20)
	}
	return nil
}

// Decliner makes the assigned vendor walk away, sending the order back to OPEN.
func Decliner(ctx context.Context, svc *workorder.Service, pool *pgxpool.Pool, fx Fixture, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		woID := fx.workOrder()
		var vendorID string
		err := pool.QueryRow(ctx, `SELECT vendor_id FROM work_order_assignments WHERE work_order_id = $1 AND active`, woID).Scan(&vendorID)
		if err == nil {
			_, err = svc.DeclineAssignment(ctx, woID, vendorID)
			switch {
			case err == nil:
				stats.Declined.Add(1)
			case expectedWorkOrderErr(err) || ctx.Err() != nil:
			default:
				stats.unexpected("decliner", err)
			}
		}
		jitter(30, 60)
	}
	return nil
}

// Starter moves assigned orders to IN_PROGRESS and occasionally completes them.
func Starter(ctx context.Context, svc *workorder.Service, fx Fixture, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		next := workorder.StatusInProgress
		if rand.Intn(10) == 0 {
			next = workorder.StatusCompleted
		}
		_, err := svc.SetStatus(ctx, workorder.SetStatusParams{WorkOrderID: fx.workOrder(), Status: next, ActorID: "stress-manager"})
		if err != nil && !expectedWorkOrderErr(err) && ctx.Err() == nil {
			stats.unexpected("starter", err)
		}
		jitter(40, 80)
	}
	return nil
}

func expectedPaymentErr(err error) bool {
	return errors.Is(err, payment.ErrNotAssigned) ||
		errors.Is(err, payment.ErrNotFound) ||
		errors.Is(err, payment.ErrPaymentInProgress) ||
		errors.Is(err, payment.ErrPaymentInitiationFailed) ||
		errors.Is(err, payment.ErrPaymentOutcomeUnknown) ||
		errors.Is(err, payment.ErrEstimateMissing) ||
		errors.Is(err, payment.ErrPayoutAccountMissing)
}

// Payer fires duplicate payout requests at the same work orders.
func Payer(ctx context.Context, orch *payment.Orchestrator, fx Fixture, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := orch.InitiatePayment(ctx, fx.workOrder())
		switch {
		case err == nil:
			stats.Paid.Add(1)
		case expectedPaymentErr(err) || ctx.Err() != nil:
		default:
			stats.unexpected("payer", err)
		}
		jitter(10, 30)
	}
	return nil
}

// WebhookReplayer delivers provider events for existing payments, reusing a
// small id space so duplicates and out-of-order events are common.
func WebhookReplayer(ctx context.Context, orch *payment.Orchestrator, pool *pgxpool.Pool, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var paymentID string
		err := pool.QueryRow(ctx, `SELECT id FROM vendor_payments ORDER BY random() LIMIT 1`).Scan(&paymentID)
		if errors.Is(err, pgx.ErrNoRows) {
			jitter(20, 20)
			continue
		}
		if err == nil {
			kind, typ := payment.EventPayoutSucceeded, "transfer.created"
			if rand.Intn(4) == 0 {
				kind, typ = payment.EventPayoutFailed, "transfer.reversed"
			}
			ev := payment.Event{
				ID:            fmt.Sprintf("evt_%s_%d", paymentID[:8], rand.Intn(3)),
				Type:          typ,
				Kind:          kind,
				CorrelationID: paymentID,
				TransactionID: "tr_" + paymentID[:8],
				FailureReason: "stress failure",
			}
			if err = orch.HandleProviderCallback(ctx, ev); err == nil {
				stats.Callbacks.Add(1)
			}
		}
		if err != nil && ctx.Err() == nil {
			stats.unexpected("webhook", err)
		}
		jitter(10, 30)
	}
	return nil
}

// Reconciler sweeps PENDING payments the same way the worker does.
func Reconciler(ctx context.Context, orch *payment.Orchestrator, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := orch.ReconcilePending(ctx, 200*time.Millisecond); err != nil && ctx.Err() == nil {
			stats.unexpected("reconciler", err)
		}
		jitter(200, 200)
	}
	return nil
}

// OutboxDrainer claims and completes outbox rows like the dispatcher.
func OutboxDrainer(ctx context.Context, repo *outbox.Repository, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		msgs, err := repo.ClaimPending(ctx, 20)
		if err != nil && ctx.Err() == nil {
			stats.unexpected("outbox", err)
		}
		for _, m := range msgs {
			if rand.Intn(10) == 0 {
				_ = repo.MarkPending(ctx, m.ID, "stress requeue")
				continue
			}
			_ = repo.MarkProcessed(ctx, m.ID)
		}
		jitter(50, 50)
	}
	return nil
}

// FlakyProvider succeeds, rejects or times out at random. Lookups only find
// transfers that were actually created.
type FlakyProvider struct {
	mu        sync.Mutex
	transfers map[string]payment.TransferResult
}

func NewFlakyProvider() *FlakyProvider {
	return &FlakyProvider{transfers: make(map[string]payment.TransferResult)}
}

func (p *FlakyProvider) CreateTransfer(ctx context.Context, req payment.TransferRequest) (payment.TransferResult, error) {
	switch n := rand.Intn(10); {
	case n < 6:
		res := payment.TransferResult{TransactionID: "tr_" + uuid.NewString()[:12]}
		p.mu.Lock()
		p.transfers[req.PaymentID] = res
		p.mu.Unlock()
		return res, nil
	case n < 8:
		return payment.TransferResult{}, &payment.RejectedError{Reason: "insufficient platform balance"}
	default:
		// created at the provider, but the response never arrives
		if rand.Intn(2) == 0 {
			p.mu.Lock()
			p.transfers[req.PaymentID] = payment.TransferResult{TransactionID: "tr_" + uuid.NewString()[:12]}
			p.mu.Unlock()
		}
		return payment.TransferResult{}, context.DeadlineExceeded
	}
}

func (p *FlakyProvider) LookupTransfer(_ context.Context, paymentID string) (payment.TransferResult, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.transfers[paymentID]
	return res, ok, nil
}
