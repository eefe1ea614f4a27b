// Package outbox stores post-commit side effects next to the state change that
// produced them. Rows are written inside the caller's transaction and later
// handed to the job queue by the dispatcher.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// TopicNotification carries a push notification for a vendor.
	TopicNotification = "notification.send"
	// TopicRetriage asks the triage service to find a new vendor.
	TopicRetriage = "workorder.retriage"

	// ManagersPushTopic is the gateway topic every property manager device
	// subscribes to.
	ManagersPushTopic = "managers"
)

// Status values of an outbox row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEnqueued  Status = "enqueued"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

// NotificationPayload is the body of a TopicNotification row. Exactly one of
// Token or PushTopic addresses the message.
type NotificationPayload struct {
	VendorID    string `json:"vendorId,omitempty"`
	WorkOrderID string `json:"workOrderId,omitempty"`
	Token       string `json:"token,omitempty"`
	PushTopic   string `json:"pushTopic,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// RetriagePayload is the body of a TopicRetriage row.
type RetriagePayload struct {
	WorkOrderID          string `json:"workOrderId"`
	MaintenanceRequestID string `json:"maintenanceRequestId"`
	DeclinedVendorID     string `json:"declinedVendorId,omitempty"`
}

// Message is a claimed outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	Status    Status
	Attempts  int
	CreatedAt time.Time
}

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Enqueue writes an outbox row using the caller's transaction.
func Enqueue(ctx context.Context, tx Execer, topic string, payload any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}
