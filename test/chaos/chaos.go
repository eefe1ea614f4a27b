// Package chaos injects connection failures while the stress actors run.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend kills one backend whose application_name matches
// appName, roughly every fifth tick. In-flight transactions on it roll back,
// which must never leave a half-applied approval or payment behind.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appName string, interval time.Duration, stop <-chan struct{}) int {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	killed := 0
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
		}
		if rand.Intn(5) != 0 {
			continue
		}
		var ok bool
		err := pool.QueryRow(ctx, `
SELECT pg_terminate_backend(pid)
FROM pg_stat_activity
WHERE datname = current_database()
  AND application_name = $1
  AND pid <> pg_backend_pid()
  AND state IN ('active', 'idle in transaction')
ORDER BY random()
LIMIT 1`, appName).Scan(&ok)
		if err == nil && ok {
			killed++
		}
	}
}
