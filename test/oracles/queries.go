// Package oracles holds SQL checks that must return no rows at any instant
// of a stress run.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_quote",
			SQL: `SELECT work_order_id, COUNT(*) FROM work_order_quotes
                  WHERE status = 'ACCEPTED'
                  GROUP BY work_order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_active_assignment",
			SQL: `SELECT work_order_id, COUNT(*) FROM work_order_assignments
                  WHERE active
                  GROUP BY work_order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_held_order_has_assignment",
			SQL: `SELECT wo.id, wo.status FROM work_orders wo
                  WHERE wo.status IN ('ASSIGNED','IN_PROGRESS')
                    AND NOT EXISTS (SELECT 1 FROM work_order_assignments a
                                    WHERE a.work_order_id = wo.id AND a.active)`,
		},
		{
			Name: "O4_open_order_is_free",
			SQL: `SELECT wo.id FROM work_orders wo
                  WHERE wo.status = 'OPEN'
                    AND (EXISTS (SELECT 1 FROM work_order_assignments a
                                 WHERE a.work_order_id = wo.id AND a.active)
                      OR EXISTS (SELECT 1 FROM work_order_quotes q
                                 WHERE q.work_order_id = wo.id AND q.status = 'ACCEPTED'))`,
		},
		{
			Name: "O5_assignment_matches_quote",
			SQL: `SELECT a.id, q.status, a.vendor_id, q.vendor_id FROM work_order_assignments a
                  JOIN work_order_quotes q ON q.id = a.quote_id
                  WHERE a.active AND (q.status <> 'ACCEPTED' OR q.vendor_id <> a.vendor_id)`,
		},
		{
			Name: "O6_single_live_payment",
			SQL: `SELECT work_order_id, COUNT(*) FROM vendor_payments
                  WHERE status <> 'FAILED'
                  GROUP BY work_order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_amount_of_record",
			SQL: `SELECT vp.id, vp.amount_cents, ce.amount_cents FROM vendor_payments vp
                  JOIN work_orders wo ON wo.id = vp.work_order_id
                  JOIN cost_estimations ce ON ce.id = wo.cost_estimation_id
                  WHERE vp.amount_cents <> ce.amount_cents`,
		},
		{
			Name: "O8_paid_has_timestamp",
			SQL:  `SELECT id FROM vendor_payments WHERE status = 'PAID' AND processed_at IS NULL`,
		},
		{
			Name: "O9_outbox_not_stuck",
			SQL: `SELECT id, topic, status FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O10_work_order_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_work_orders')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
