package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxAttempts is the number of failed hand-offs after which a row is parked as dead.
const MaxAttempts = 10

// DefaultReclaimAfter is how long a row may sit in enqueued before another
// claim treats the hand-off as lost.
const DefaultReclaimAfter = time.Minute

// Repository claims and settles outbox rows.
type Repository struct {
	pool         *pgxpool.Pool
	reclaimAfter time.Duration
}

type Option func(*Repository)

// WithReclaimAfter overrides DefaultReclaimAfter.
func WithReclaimAfter(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.reclaimAfter = d
		}
	}
}

func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, reclaimAfter: DefaultReclaimAfter}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClaimPending moves up to limit pending rows to enqueued and returns them.
// Rows left in enqueued for longer than the reclaim window were claimed by a
// dispatcher that died or was cancelled before settling them, so they are
// claimed again; the task id keeps asynq from running them twice.
// Concurrent dispatchers never claim the same row.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Message, error) {
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("outbox: begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
WITH cte AS (
    SELECT id
    FROM outbox
    WHERE status = 'pending'
       OR (status = 'enqueued' AND last_attempt < now() - $2::float8 * interval '1 second')
    ORDER BY created_at ASC
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE outbox o
SET status = 'enqueued',
    attempts = o.attempts + 1,
    last_attempt = now()
FROM cte
WHERE o.id = cte.id
RETURNING o.id::text, o.topic, o.payload, o.status, o.attempts, o.created_at
`
	rows, err := tx.Query(ctx, q, limit, r.reclaimAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan claimed: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claimed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox: commit claim: %w", err)
	}
	return msgs, nil
}

// MarkProcessed records a successful hand-off to the job queue.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE outbox SET status = 'processed', last_error = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

// MarkPending returns a row to the queue after a failed hand-off, or parks it
// as dead once MaxAttempts is reached.
func (r *Repository) MarkPending(ctx context.Context, id string, lastErr string) error {
	const q = `
UPDATE outbox
SET status = CASE WHEN attempts >= $3 THEN 'dead' ELSE 'pending' END,
    last_error = $2
WHERE id = $1
`
	if _, err := r.pool.Exec(ctx, q, id, lastErr, MaxAttempts); err != nil {
		return fmt.Errorf("outbox: mark pending: %w", err)
	}
	return nil
}
