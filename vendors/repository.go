package vendors

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound signals the requested vendor does not exist.
var ErrNotFound = errors.New("vendors: not found")

// Querier is satisfied by *pgxpool.Pool and pgx.Tx so lookups can join the
// caller's transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetByID fetches a vendor profile by its primary key.
func GetByID(ctx context.Context, q Querier, id string) (Profile, error) {
	const query = `
		SELECT id::text, name, contact_name, contact_device_token, contact_platform, payout_account_id, created_at
		FROM vendors
		WHERE id = $1
	`

	var p Profile
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.ContactName,
		&p.ContactDeviceToken,
		&p.ContactPlatform,
		&p.PayoutAccountID,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("vendors: query by id: %w", err)
	}
	return p, nil
}
