package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func TestEnqueue_WritesTopicAndJSON(t *testing.T) {
	ex := &recordingExecer{}
	payload := RetriagePayload{WorkOrderID: "wo-1", MaintenanceRequestID: "mr-1"}

	if err := Enqueue(context.Background(), ex, TopicRetriage, payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(ex.sql, "INSERT INTO outbox") {
		t.Fatalf("unexpected sql %q", ex.sql)
	}
	if ex.args[0] != TopicRetriage {
		t.Errorf("topic = %v", ex.args[0])
	}

	var got RetriagePayload
	if err := json.Unmarshal(ex.args[1].([]byte), &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.MaintenanceRequestID != "mr-1" {
		t.Errorf("maintenance request id = %q", got.MaintenanceRequestID)
	}
}

func TestEnqueue_EmptyTopic(t *testing.T) {
	if err := Enqueue(context.Background(), &recordingExecer{}, "", nil); err == nil {
		t.Fatalf("expected error for empty topic")
	}
}

func TestEnqueue_PropagatesExecError(t *testing.T) {
	boom := errors.New("boom")
	err := Enqueue(context.Background(), &recordingExecer{err: boom}, TopicNotification, NotificationPayload{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}
}

func TestClaimPending_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	topic := "test.claim." + time.Now().Format("150405.000000")
	if err := Enqueue(ctx, pool, topic, map[string]string{"k": "v"}); err != nil {
		t.Skipf("outbox table unavailable: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM outbox WHERE topic = $1`, topic)
	})

	repo := NewRepository(pool)
	msgs, err := repo.ClaimPending(ctx, 500)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	var claimed *Message
	for i := range msgs {
		if msgs[i].Topic == topic {
			claimed = &msgs[i]
		}
	}
	if claimed == nil {
		t.Fatalf("expected row with topic %s to be claimed", topic)
	}
	if claimed.Status != StatusEnqueued || claimed.Attempts != 1 {
		t.Errorf("claimed row status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}

	again, err := repo.ClaimPending(ctx, 500)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	for _, m := range again {
		if m.ID == claimed.ID {
			t.Fatalf("row claimed twice")
		}
	}

	if err := repo.MarkProcessed(ctx, claimed.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
}

func TestClaimPending_ReclaimsStaleEnqueued_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	topic := "test.reclaim." + time.Now().Format("150405.000000")
	insert := `
INSERT INTO outbox (topic, payload, status, attempts, last_attempt)
VALUES ($1, '{}'::jsonb, 'enqueued', 1, now() - $2::interval)
RETURNING id::text`
	var staleID, freshID string
	if err := pool.QueryRow(ctx, insert, topic, "10 minutes").Scan(&staleID); err != nil {
		t.Skipf("outbox table unavailable: %v", err)
	}
	if err := pool.QueryRow(ctx, insert, topic, "1 second").Scan(&freshID); err != nil {
		t.Fatalf("insert fresh row: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM outbox WHERE topic = $1`, topic)
	})

	repo := NewRepository(pool, WithReclaimAfter(5*time.Minute))
	msgs, err := repo.ClaimPending(ctx, 500)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	seen := map[string]Message{}
	for _, m := range msgs {
		if m.Topic == topic {
			seen[m.ID] = m
		}
	}
	stale, ok := seen[staleID]
	if !ok {
		t.Fatalf("row stranded in enqueued was not reclaimed")
	}
	if stale.Attempts != 2 {
		t.Errorf("reclaimed attempts = %d, want 2", stale.Attempts)
	}
	if _, ok := seen[freshID]; ok {
		t.Fatalf("row still inside the reclaim window was claimed")
	}

	// the reclaim refreshed last_attempt, so it is not handed out again at once
	again, err := repo.ClaimPending(ctx, 500)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	for _, m := range again {
		if m.ID == staleID {
			t.Fatalf("reclaimed row claimed twice")
		}
	}
}
