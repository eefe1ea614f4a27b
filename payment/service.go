// Package payment disburses vendor payouts for completed work and reconciles
// the provider's asynchronous settlement events.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"repairflow/logger"
	"repairflow/outbox"
	"repairflow/vendors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound             = errors.New("payment: not found")
	ErrNotAssigned          = errors.New("payment: work order has no active assignment")
	ErrPayoutAccountMissing = errors.New("payment: vendor has no payout account")
	ErrEstimateMissing      = errors.New("payment: cost estimation missing")
	// ErrPaymentInProgress is returned when a non-failed payment already exists
	// for the work order.
	ErrPaymentInProgress = errors.New("payment: payment already in progress")
	// ErrPaymentInitiationFailed means the provider definitively refused the
	// transfer. The payment is FAILED and may be retried.
	ErrPaymentInitiationFailed = errors.New("payment: initiation failed")
	// ErrPaymentOutcomeUnknown means the provider call timed out or failed in a
	// way that does not prove the transfer was refused. The payment stays
	// PENDING until a webhook or the reconciler settles it.
	ErrPaymentOutcomeUnknown = errors.New("payment: provider outcome unknown")
	ErrInvalidSignature      = errors.New("payment: invalid webhook signature")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the data access used by Orchestrator. Mark* methods are
// conditional updates and report whether a row changed.
type Repository interface {
	LoadPayable(ctx context.Context, tx pgx.Tx, workOrderID string) (Payable, error)
	InsertPending(ctx context.Context, tx pgx.Tx, p VendorPayment) (VendorPayment, error)
	LockByID(ctx context.Context, tx pgx.Tx, id string) (VendorPayment, error)
	MarkProcessing(ctx context.Context, tx pgx.Tx, id, transactionID string) (bool, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, id, transactionID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error)
	RecordEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error)
	History(ctx context.Context, tx pgx.Tx, vendorID string) ([]VendorPayment, error)
	StalePending(ctx context.Context, tx pgx.Tx, before time.Time, limit int) ([]VendorPayment, error)
	VendorProfile(ctx context.Context, tx pgx.Tx, vendorID string) (vendors.Profile, error)
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload any) error
}

// Provider is the external payment provider.
type Provider interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	// LookupTransfer finds a transfer by the payment id it was tagged with.
	LookupTransfer(ctx context.Context, paymentID string) (TransferResult, bool, error)
}

// RejectedError is returned by a Provider when the transfer was definitively
// refused. Any other error leaves the outcome unknown.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "provider rejected transfer: " + e.Reason
}

// Orchestrator runs the payout flow.
type Orchestrator struct {
	pool     TxBeginner
	repo     Repository
	provider Provider
	log      *logger.Logger
	timeout  time.Duration
	currency string
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithCurrency(currency string) Option {
	return func(o *Orchestrator) {
		if currency != "" {
			o.currency = currency
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(log *logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func NewOrchestrator(pool TxBeginner, repo Repository, provider Provider, opts ...Option) *Orchestrator {
	if repo == nil {
		repo = NewStore()
	}
	o := &Orchestrator{
		pool:     pool,
		repo:     repo,
		provider: provider,
		log:      logger.Discard(),
		timeout:  10 * time.Second,
		currency: "usd",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitiatePayment creates the PENDING payment row, commits it, and only then
// calls the provider. The amount always comes from the work order's cost
// estimation.
func (o *Orchestrator) InitiatePayment(ctx context.Context, workOrderID string) (VendorPayment, error) {
	if workOrderID == "" {
		return VendorPayment{}, fmt.Errorf("%w: empty work order id", ErrNotFound)
	}
	log := o.log.WithContext(ctx)

	p, dest, err := o.createPending(ctx, workOrderID)
	if err != nil {
		return VendorPayment{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	res, callErr := o.provider.CreateTransfer(callCtx, TransferRequest{
		PaymentID:   p.ID,
		Destination: dest,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
	})
	cancel()

	var rejected *RejectedError
	switch {
	case callErr == nil:
		// detached from the request: the transfer exists even if the caller left
		current, changed, err := o.settle(context.WithoutCancel(ctx), p.ID, func(ctx context.Context, tx pgx.Tx) (bool, error) {
			return o.repo.MarkProcessing(ctx, tx, p.ID, res.TransactionID)
		})
		if err != nil {
			return VendorPayment{}, err
		}
		if !changed {
			if current.Status == StatusFailed {
				log.ReconciliationAnomaly(p.ID, string(current.Status), "transfer.created", "")
				return VendorPayment{}, fmt.Errorf("%w: vendor payment %s was closed as failed while transfer %s was created",
					ErrPaymentOutcomeUnknown, p.ID, res.TransactionID)
			}
			return current, nil
		}
		p.Status = StatusProcessing
		p.TransactionID = &res.TransactionID
		log.Info("payout initiated", "vendor_payment_id", p.ID, "work_order_id", workOrderID, "transaction_id", res.TransactionID)
		return p, nil

	case errors.As(callErr, &rejected):
		if _, _, err := o.settle(context.WithoutCancel(ctx), p.ID, func(ctx context.Context, tx pgx.Tx) (bool, error) {
			return o.repo.MarkFailed(ctx, tx, p.ID, rejected.Reason)
		}); err != nil {
			return VendorPayment{}, err
		}
		log.Warn("payout rejected by provider", "vendor_payment_id", p.ID, "work_order_id", workOrderID, "reason", rejected.Reason)
		return VendorPayment{}, fmt.Errorf("%w: %s", ErrPaymentInitiationFailed, rejected.Reason)

	default:
		log.Warn("payout outcome unknown", "vendor_payment_id", p.ID, "work_order_id", workOrderID, "error", callErr.Error())
		return VendorPayment{}, fmt.Errorf("%w: vendor payment %s: %v", ErrPaymentOutcomeUnknown, p.ID, callErr)
	}
}

func (o *Orchestrator) createPending(ctx context.Context, workOrderID string) (VendorPayment, string, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return VendorPayment{}, "", fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	pay, err := o.repo.LoadPayable(ctx, tx, workOrderID)
	if err != nil {
		return VendorPayment{}, "", err
	}
	if pay.PayoutAccountID == nil || *pay.PayoutAccountID == "" {
		return VendorPayment{}, "", fmt.Errorf("%w: vendor %s", ErrPayoutAccountMissing, pay.VendorID)
	}
	if pay.EstimateCents == nil || *pay.EstimateCents <= 0 {
		return VendorPayment{}, "", fmt.Errorf("%w: work order %s", ErrEstimateMissing, workOrderID)
	}
	if pay.InvoiceCount == 0 {
		o.log.WithContext(ctx).Warn("payout without invoice on file", "work_order_id", workOrderID, "maintenance_request_id", pay.MaintenanceRequestID)
	}

	p, err := o.repo.InsertPending(ctx, tx, VendorPayment{
		WorkOrderID: workOrderID,
		VendorID:    pay.VendorID,
		AmountCents: *pay.EstimateCents,
		Currency:    o.currency,
		Status:      StatusPending,
	})
	if err != nil {
		return VendorPayment{}, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return VendorPayment{}, "", fmt.Errorf("payment: commit pending payment: %w", err)
	}
	return p, *pay.PayoutAccountID, nil
}

// settle runs one conditional update in its own transaction. A zero-row
// update means something else already moved the payment; the row as stored
// is returned so the caller can tell a webhook from the reconciler.
func (o *Orchestrator) settle(ctx context.Context, paymentID string, update func(context.Context, pgx.Tx) (bool, error)) (VendorPayment, bool, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return VendorPayment{}, false, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	changed, err := update(ctx, tx)
	if err != nil {
		return VendorPayment{}, false, err
	}
	var current VendorPayment
	if !changed {
		if current, err = o.repo.LockByID(ctx, tx, paymentID); err != nil {
			return VendorPayment{}, false, err
		}
		o.log.WithContext(ctx).Info("payment already settled", "vendor_payment_id", paymentID, "status", current.Status)
	}
	if err := tx.Commit(ctx); err != nil {
		return VendorPayment{}, false, fmt.Errorf("payment: commit settle: %w", err)
	}
	return current, changed, nil
}

// HandleProviderCallback applies a verified provider event. Duplicates,
// unknown correlation ids and events that conflict with a terminal state are
// absorbed; only infrastructure failures are returned so the provider retries.
func (o *Orchestrator) HandleProviderCallback(ctx context.Context, ev Event) error {
	log := o.log.WithContext(ctx).With("event_id", ev.ID, "event_type", ev.Type)

	if ev.Kind == EventUnknown {
		log.Debug("provider event ignored")
		return nil
	}
	if ev.ID == "" {
		return fmt.Errorf("payment: provider event without id")
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	fresh, err := o.repo.RecordEvent(ctx, tx, ev.ID, ev.Type)
	if err != nil {
		return err
	}
	if !fresh {
		log.Info("duplicate provider event dropped")
		return nil
	}

	if _, err := uuid.Parse(ev.CorrelationID); err != nil {
		log.Info("provider event without known correlation id", "correlation_id", ev.CorrelationID)
		return o.commitEvent(ctx, tx)
	}

	p, err := o.repo.LockByID(ctx, tx, ev.CorrelationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info("provider event for unknown payment", "correlation_id", ev.CorrelationID)
			return o.commitEvent(ctx, tx)
		}
		return err
	}

	switch ev.Kind {
	case EventPayoutSucceeded:
		switch p.Status {
		case StatusPending, StatusProcessing:
			if _, err := o.repo.MarkPaid(ctx, tx, p.ID, ev.TransactionID, o.now().UTC()); err != nil {
				return err
			}
			if err := o.notifyPaid(ctx, tx, p); err != nil {
				return err
			}
			log.Info("vendor payment paid", "vendor_payment_id", p.ID, "work_order_id", p.WorkOrderID)
		case StatusFailed:
			o.log.WithContext(ctx).ReconciliationAnomaly(p.ID, string(p.Status), ev.Type, ev.ID)
		}

	case EventPayoutFailed:
		if !p.Status.Terminal() {
			reason := ev.FailureReason
			if reason == "" {
				reason = ev.Type
			}
			if _, err := o.repo.MarkFailed(ctx, tx, p.ID, reason); err != nil {
				return err
			}
			log.Warn("vendor payment failed", "vendor_payment_id", p.ID, "work_order_id", p.WorkOrderID, "reason", reason)
		}
	}

	return o.commitEvent(ctx, tx)
}

func (o *Orchestrator) commitEvent(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payment: commit provider event: %w", err)
	}
	return nil
}

func (o *Orchestrator) notifyPaid(ctx context.Context, tx pgx.Tx, p VendorPayment) error {
	profile, err := o.repo.VendorProfile(ctx, tx, p.VendorID)
	if err != nil {
		if errors.Is(err, vendors.ErrNotFound) {
			return nil
		}
		return err
	}
	token, platform, ok := profile.PushTarget()
	if !ok {
		return nil
	}
	return o.repo.Enqueue(ctx, tx, outbox.TopicNotification, outbox.NotificationPayload{
		VendorID:    p.VendorID,
		WorkOrderID: p.WorkOrderID,
		Token:       token,
		Platform:    platform,
		Title:       "Payment sent",
		Body:        fmt.Sprintf("Your payout of %s for the work order has been paid.", formatAmount(p.AmountCents, p.Currency)),
	})
}

// GetPaymentHistory returns the vendor's payments, newest first.
func (o *Orchestrator) GetPaymentHistory(ctx context.Context, vendorID string) ([]VendorPayment, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return o.repo.History(ctx, tx, vendorID)
}

// ReconcilePending settles payments stuck in PENDING for longer than
// olderThan by asking the provider whether the transfer exists. It returns
// the number of payments it moved. olderThan is raised to twice the provider
// timeout so a row whose CreateTransfer call may still be running is never
// swept.
func (o *Orchestrator) ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if floor := 2 * o.timeout; olderThan < floor {
		olderThan = floor
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stale, err := o.repo.StalePending(ctx, tx, o.now().Add(-olderThan), 50)
	if err != nil {
		return 0, err
	}

	log := o.log.WithContext(ctx)
	moved := 0
	for _, p := range stale {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		res, found, err := o.provider.LookupTransfer(callCtx, p.ID)
		cancel()
		if err != nil {
			log.CollaboratorFailure("payment_provider", "lookup_transfer", err)
			continue
		}

		var changed bool
		if found {
			changed, err = o.repo.MarkProcessing(ctx, tx, p.ID, res.TransactionID)
		} else {
			changed, err = o.repo.MarkFailed(ctx, tx, p.ID, "no transfer recorded at provider")
		}
		if err != nil {
			return moved, err
		}
		if changed {
			moved++
			log.Info("pending payment reconciled", "vendor_payment_id", p.ID, "found", found)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("payment: commit reconcile: %w", err)
	}
	return moved, nil
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
