package workorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

const workOrderColumns = `id::text, maintenance_request_id::text, cost_estimation_id::text, status::text, version, created_at, updated_at`

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var wo WorkOrder
	err := row.Scan(&wo.ID, &wo.MaintenanceRequestID, &wo.CostEstimationID, &wo.Status, &wo.Version, &wo.CreatedAt, &wo.UpdatedAt)
	return wo, err
}

func (r *Store) GetWorkOrder(ctx context.Context, tx pgx.Tx, id string, lock LockMode) (WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE id = $1`
	switch lock {
	case LockShare:
		query += ` FOR SHARE`
	case LockUpdate:
		query += ` FOR UPDATE`
	}

	wo, err := scanWorkOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return WorkOrder{}, fmt.Errorf("%w: work order %s", ErrNotFound, id)
		}
		return WorkOrder{}, fmt.Errorf("workorder: load work order: %w", err)
	}
	return wo, nil
}

func (r *Store) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, expectedVersion int64, next Status) (WorkOrder, error) {
	query := `
UPDATE work_orders
SET status = $1::work_order_status,
    version = version + 1,
    updated_at = now()
WHERE id = $2 AND version = $3
RETURNING ` + workOrderColumns

	wo, err := scanWorkOrder(tx.QueryRow(ctx, query, string(next), id, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, errVersionConflict
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return WorkOrder{}, fmt.Errorf("%w: %s", ErrInvalidTransition, pgErr.Message)
		}
		return WorkOrder{}, fmt.Errorf("workorder: update status: %w", err)
	}
	return wo, nil
}

const quoteColumns = `id::text, work_order_id::text, vendor_id::text, amount_cents, details, status::text, created_at, decided_at`

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.WorkOrderID, &q.VendorID, &q.AmountCents, &q.Details, &q.Status, &q.CreatedAt, &q.DecidedAt)
	return q, err
}

func (r *Store) GetQuote(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM work_order_quotes WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	q, err := scanQuote(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return Quote{}, fmt.Errorf("%w: quote %s", ErrNotFound, id)
		}
		return Quote{}, fmt.Errorf("workorder: load quote: %w", err)
	}
	return q, nil
}

func (r *Store) ListQuotes(ctx context.Context, tx pgx.Tx, workOrderID string) ([]Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM work_order_quotes WHERE work_order_id = $1 ORDER BY created_at DESC, id`
	rows, err := tx.Query(ctx, query, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("workorder: list quotes: %w", err)
	}
	defer rows.Close()

	quotes := make([]Quote, 0, 4)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("workorder: scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workorder: iterate quotes: %w", err)
	}
	return quotes, nil
}

func (r *Store) InsertQuote(ctx context.Context, tx pgx.Tx, params SubmitQuoteParams) (Quote, error) {
	query := `
INSERT INTO work_order_quotes (work_order_id, vendor_id, amount_cents, details, status)
VALUES ($1, $2, $3, $4, 'PENDING')
RETURNING ` + quoteColumns

	q, err := scanQuote(tx.QueryRow(ctx, query, params.WorkOrderID, params.VendorID, params.AmountCents, params.Details))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503", "22P02":
				return Quote{}, fmt.Errorf("%w: vendor %s", ErrNotFound, params.VendorID)
			case "23514":
				return Quote{}, ErrInvalidAmount
			}
		}
		return Quote{}, fmt.Errorf("workorder: insert quote: %w", err)
	}
	return q, nil
}

func (r *Store) SetQuoteStatus(ctx context.Context, tx pgx.Tx, id string, status QuoteStatus) error {
	const q = `
UPDATE work_order_quotes
SET status = $1::quote_status,
    decided_at = now()
WHERE id = $2
`
	tag, err := tx.Exec(ctx, q, string(status), id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: work order already has an accepted quote", ErrInvalidTransition)
		}
		return fmt.Errorf("workorder: set quote status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quote %s", ErrNotFound, id)
	}
	return nil
}

func (r *Store) RejectPendingQuotes(ctx context.Context, tx pgx.Tx, workOrderID, exceptQuoteID string) ([]Quote, error) {
	query := `
UPDATE work_order_quotes
SET status = 'REJECTED',
    decided_at = now()
WHERE work_order_id = $1
  AND status = 'PENDING'
  AND ($2 = '' OR id::text <> $2)
RETURNING ` + quoteColumns

	rows, err := tx.Query(ctx, query, workOrderID, exceptQuoteID)
	if err != nil {
		return nil, fmt.Errorf("workorder: reject siblings: %w", err)
	}
	defer rows.Close()

	var rejected []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("workorder: scan rejected quote: %w", err)
		}
		rejected = append(rejected, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workorder: iterate rejected quotes: %w", err)
	}
	return rejected, nil
}

const assignmentColumns = `id::text, work_order_id::text, vendor_id::text, quote_id::text, active, assigned_at, unassigned_at`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.WorkOrderID, &a.VendorID, &a.QuoteID, &a.Active, &a.AssignedAt, &a.UnassignedAt)
	return a, err
}

func (r *Store) ActiveAssignment(ctx context.Context, tx pgx.Tx, workOrderID string) (Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM work_order_assignments WHERE work_order_id = $1 AND active`
	a, err := scanAssignment(tx.QueryRow(ctx, query, workOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, errNoActiveAssignment
		}
		return Assignment{}, fmt.Errorf("workorder: load active assignment: %w", err)
	}
	return a, nil
}

func (r *Store) InsertAssignment(ctx context.Context, tx pgx.Tx, workOrderID, vendorID string, quoteID *string) (Assignment, error) {
	query := `
INSERT INTO work_order_assignments (work_order_id, vendor_id, quote_id, active)
VALUES ($1, $2, $3, true)
RETURNING ` + assignmentColumns

	a, err := scanAssignment(tx.QueryRow(ctx, query, workOrderID, vendorID, quoteID))
	if err != nil {
		if isUniqueViolation(err) {
			return Assignment{}, fmt.Errorf("%w: work order %s already has an active assignment", ErrInvalidTransition, workOrderID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23503" || pgErr.Code == "22P02") {
			return Assignment{}, fmt.Errorf("%w: vendor %s", ErrNotFound, vendorID)
		}
		return Assignment{}, fmt.Errorf("workorder: insert assignment: %w", err)
	}
	return a, nil
}

func (r *Store) DeactivateAssignment(ctx context.Context, tx pgx.Tx, assignmentID string) error {
	const q = `
UPDATE work_order_assignments
SET active = false,
    unassigned_at = now()
WHERE id = $1 AND active
`
	if _, err := tx.Exec(ctx, q, assignmentID); err != nil {
		return fmt.Errorf("workorder: deactivate assignment: %w", err)
	}
	return nil
}

func (r *Store) AppendTimeline(ctx context.Context, tx pgx.Tx, entry TimelineEntry) error {
	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workorder: marshal timeline payload: %w", err)
	}

	var actor any
	if entry.ActorID != "" {
		actor = entry.ActorID
	}

	const q = `
INSERT INTO timeline_events (work_order_id, type, actor_id, payload)
VALUES ($1, $2, $3, $4::jsonb)
`
	if _, err := tx.Exec(ctx, q, entry.WorkOrderID, entry.Type, actor, body); err != nil {
		return fmt.Errorf("workorder: insert timeline event: %w", err)
	}
	return nil
}

func (r *Store) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload any) error {
	return outbox.Enqueue(ctx, tx, topic, payload)
}

func (r *Store) VendorProfile(ctx context.Context, tx pgx.Tx, vendorID string) (vendors.Profile, error) {
	return vendors.GetByID(ctx, tx, vendorID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isInvalidText matches malformed uuid input, which callers treat as not found.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
