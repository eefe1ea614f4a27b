package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithContext_AddsRequestAndActor(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("production", &buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, ActorIDKey, "vendor-9")
	log.WithContext(ctx).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
	if entry["actor_id"] != "vendor-9" {
		t.Errorf("actor_id = %v", entry["actor_id"])
	}
}

func TestReconciliationAnomaly_WarnLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("production", &buf)

	log.ReconciliationAnomaly("pay-1", "FAILED", "transfer.created", "evt_1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["vendor_payment_id"] != "pay-1" {
		t.Errorf("vendor_payment_id = %v", entry["vendor_payment_id"])
	}
}
