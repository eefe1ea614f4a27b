package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"repairflow/outbox"
	"repairflow/vendors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the PostgreSQL implementation of Repository.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (r *Store) LoadPayable(ctx context.Context, tx pgx.Tx, workOrderID string) (Payable, error) {
	var (
		p          Payable
		estimateID *string
	)
	const orderQ = `
SELECT id::text, status::text, maintenance_request_id::text, cost_estimation_id::text
FROM work_orders
WHERE id = $1
FOR UPDATE
`
	err := tx.QueryRow(ctx, orderQ, workOrderID).Scan(&p.WorkOrderID, &p.WorkOrderStatus, &p.MaintenanceRequestID, &estimateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return Payable{}, fmt.Errorf("%w: work order %s", ErrNotFound, workOrderID)
		}
		return Payable{}, fmt.Errorf("payment: load work order: %w", err)
	}

	const assignQ = `SELECT vendor_id::text FROM work_order_assignments WHERE work_order_id = $1 AND active`
	if err := tx.QueryRow(ctx, assignQ, workOrderID).Scan(&p.VendorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payable{}, fmt.Errorf("%w: work order %s", ErrNotAssigned, workOrderID)
		}
		return Payable{}, fmt.Errorf("payment: load assignment: %w", err)
	}

	vendor, err := vendors.GetByID(ctx, tx, p.VendorID)
	if err != nil {
		if errors.Is(err, vendors.ErrNotFound) {
			return Payable{}, fmt.Errorf("%w: vendor %s", ErrNotFound, p.VendorID)
		}
		return Payable{}, err
	}
	p.PayoutAccountID = vendor.PayoutAccountID

	if estimateID != nil {
		var amount int64
		const estimateQ = `SELECT amount_cents FROM cost_estimations WHERE id = $1`
		switch err := tx.QueryRow(ctx, estimateQ, *estimateID).Scan(&amount); {
		case err == nil:
			p.EstimateCents = &amount
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return Payable{}, fmt.Errorf("payment: load cost estimation: %w", err)
		}
	}

	const invoiceQ = `
SELECT count(*) FROM documents
WHERE maintenance_request_id = $1 AND kind = 'INVOICE'
`
	if err := tx.QueryRow(ctx, invoiceQ, p.MaintenanceRequestID).Scan(&p.InvoiceCount); err != nil {
		return Payable{}, fmt.Errorf("payment: count invoices: %w", err)
	}
	return p, nil
}

const paymentColumns = `id::text, work_order_id::text, vendor_id::text, amount_cents, currency, status::text,
transaction_id, failure_reason, created_at, updated_at, processed_at`

func scanPayment(row pgx.Row) (VendorPayment, error) {
	var p VendorPayment
	err := row.Scan(&p.ID, &p.WorkOrderID, &p.VendorID, &p.AmountCents, &p.Currency, &p.Status,
		&p.TransactionID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt)
	return p, err
}

func (r *Store) InsertPending(ctx context.Context, tx pgx.Tx, p VendorPayment) (VendorPayment, error) {
	query := `
INSERT INTO vendor_payments (work_order_id, vendor_id, amount_cents, currency, status)
VALUES ($1, $2, $3, $4, 'PENDING')
RETURNING ` + paymentColumns

	out, err := scanPayment(tx.QueryRow(ctx, query, p.WorkOrderID, p.VendorID, p.AmountCents, p.Currency))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return VendorPayment{}, fmt.Errorf("%w: work order %s", ErrPaymentInProgress, p.WorkOrderID)
		}
		return VendorPayment{}, fmt.Errorf("payment: insert pending: %w", err)
	}
	return out, nil
}

func (r *Store) LockByID(ctx context.Context, tx pgx.Tx, id string) (VendorPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM vendor_payments WHERE id = $1 FOR UPDATE`
	p, err := scanPayment(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return VendorPayment{}, fmt.Errorf("%w: vendor payment %s", ErrNotFound, id)
		}
		return VendorPayment{}, fmt.Errorf("payment: lock payment: %w", err)
	}
	return p, nil
}

func (r *Store) MarkProcessing(ctx context.Context, tx pgx.Tx, id, transactionID string) (bool, error) {
	const q = `
UPDATE vendor_payments
SET status = 'PROCESSING',
    transaction_id = $2,
    updated_at = now()
WHERE id = $1 AND status = 'PENDING'
`
	return execChanged(ctx, tx, "mark processing", q, id, transactionID)
}

func (r *Store) MarkPaid(ctx context.Context, tx pgx.Tx, id, transactionID string, at time.Time) (bool, error) {
	const q = `
UPDATE vendor_payments
SET status = 'PAID',
    transaction_id = COALESCE(transaction_id, NULLIF($2, '')),
    processed_at = $3,
    updated_at = now()
WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
`
	return execChanged(ctx, tx, "mark paid", q, id, transactionID, at)
}

func (r *Store) MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error) {
	const q = `
UPDATE vendor_payments
SET status = 'FAILED',
    failure_reason = $2,
    updated_at = now()
WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
`
	return execChanged(ctx, tx, "mark failed", q, id, reason)
}

func execChanged(ctx context.Context, tx pgx.Tx, op, q string, args ...any) (bool, error) {
	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("payment: %s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordEvent stores the provider event id and reports whether it was new.
func (r *Store) RecordEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	const q = `
INSERT INTO provider_events (event_id, event_type)
VALUES ($1, $2)
ON CONFLICT (event_id) DO NOTHING
`
	return execChanged(ctx, tx, "record provider event", q, eventID, eventType)
}

func (r *Store) History(ctx context.Context, tx pgx.Tx, vendorID string) ([]VendorPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM vendor_payments WHERE vendor_id = $1 ORDER BY created_at DESC, id`
	rows, err := tx.Query(ctx, query, vendorID)
	if err != nil {
		if isInvalidText(err) {
			return []VendorPayment{}, nil
		}
		return nil, fmt.Errorf("payment: history: %w", err)
	}
	return collectPayments(rows)
}

func (r *Store) StalePending(ctx context.Context, tx pgx.Tx, before time.Time, limit int) ([]VendorPayment, error) {
	query := `
SELECT ` + paymentColumns + `
FROM vendor_payments
WHERE status = 'PENDING' AND created_at < $1
ORDER BY created_at
LIMIT $2
FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("payment: stale pending: %w", err)
	}
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]VendorPayment, error) {
	defer rows.Close()

	out := make([]VendorPayment, 0, 8)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payment: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		if isInvalidText(err) {
			return []VendorPayment{}, nil
		}
		return nil, fmt.Errorf("payment: iterate: %w", err)
	}
	return out, nil
}

func (r *Store) VendorProfile(ctx context.Context, tx pgx.Tx, vendorID string) (vendors.Profile, error) {
	return vendors.GetByID(ctx, tx, vendorID)
}

func (r *Store) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload any) error {
	return outbox.Enqueue(ctx, tx, topic, payload)
}

func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
