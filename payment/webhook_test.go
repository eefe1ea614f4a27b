package payment

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedEvent(t *testing.T, body string) (payload []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(body),
		Secret:  testWebhookSecret,
	})
	return signed.Payload, signed.Header
}

func eventJSON(id, typ, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2024-06-20","data":{"object":%s}}`, id, typ, object)
}

func TestEventParser_TransferCreated(t *testing.T) {
	payload, header := signedEvent(t, eventJSON("evt_1", "transfer.created",
		`{"id":"tr_1","object":"transfer","transfer_group":"8a4f2d8e-6c1b-4f55-9d3e-1d2b3c4d5e6f","reversed":false,"metadata":{"vendor_payment_id":"8a4f2d8e-6c1b-4f55-9d3e-1d2b3c4d5e6f"}}`))

	ev, err := NewEventParser(testWebhookSecret).Parse(payload, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventPayoutSucceeded || ev.ID != "evt_1" || ev.Type != "transfer.created" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.CorrelationID != "8a4f2d8e-6c1b-4f55-9d3e-1d2b3c4d5e6f" || ev.TransactionID != "tr_1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestEventParser_FullReversalFails(t *testing.T) {
	payload, header := signedEvent(t, eventJSON("evt_2", "transfer.reversed",
		`{"id":"tr_1","object":"transfer","transfer_group":"pay-123","reversed":true,"amount_reversed":25000,"metadata":{}}`))

	ev, err := NewEventParser(testWebhookSecret).Parse(payload, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventPayoutFailed || ev.CorrelationID != "pay-123" {
		t.Fatalf("event = %+v", ev)
	}
	if !strings.Contains(ev.FailureReason, "reversed") {
		t.Errorf("failure reason = %q", ev.FailureReason)
	}
}

func TestEventParser_PartialReversalIgnored(t *testing.T) {
	payload, header := signedEvent(t, eventJSON("evt_3", "transfer.reversed",
		`{"id":"tr_1","object":"transfer","reversed":false,"amount_reversed":500,"metadata":{"vendor_payment_id":"x"}}`))

	ev, err := NewEventParser(testWebhookSecret).Parse(payload, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventUnknown {
		t.Fatalf("kind = %s, want unknown", ev.Kind)
	}
}

func TestEventParser_ConnectedAccountPayoutIgnored(t *testing.T) {
	for _, typ := range []string{"payout.paid", "payout.failed", "transfer.updated"} {
		payload, header := signedEvent(t, eventJSON("evt_"+typ, typ,
			`{"id":"po_1","object":"payout","metadata":{}}`))

		ev, err := NewEventParser(testWebhookSecret).Parse(payload, header)
		if err != nil {
			t.Fatalf("%s: parse: %v", typ, err)
		}
		if ev.Kind != EventUnknown {
			t.Errorf("%s: kind = %s, want unknown", typ, ev.Kind)
		}
	}
}

func TestEventParser_UnknownType(t *testing.T) {
	payload, header := signedEvent(t, eventJSON("evt_4", "charge.succeeded", `{"id":"ch_1","object":"charge"}`))

	ev, err := NewEventParser(testWebhookSecret).Parse(payload, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventUnknown {
		t.Fatalf("kind = %s, want unknown", ev.Kind)
	}
}

func TestEventParser_BadSignature(t *testing.T) {
	payload, header := signedEvent(t, eventJSON("evt_5", "transfer.created", `{"id":"tr_1"}`))

	if _, err := NewEventParser("whsec_other").Parse(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := NewEventParser(testWebhookSecret).Parse(payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}
	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	if _, err := NewEventParser(testWebhookSecret).Parse(tampered, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered body, got %v", err)
	}
}

func TestClassifyStripeError(t *testing.T) {
	var rejected *RejectedError

	err := classifyStripeError(&stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "No such destination"})
	if !errors.As(err, &rejected) || rejected.Reason != "No such destination" {
		t.Fatalf("400: got %v", err)
	}

	for _, status := range []int{http.StatusConflict, http.StatusInternalServerError, http.StatusBadGateway} {
		err := classifyStripeError(&stripe.Error{HTTPStatusCode: status, Msg: "boom"})
		if errors.As(err, &rejected) {
			t.Errorf("%d should stay ambiguous", status)
		}
	}

	plain := errors.New("connection reset")
	if got := classifyStripeError(plain); got != plain {
		t.Errorf("transport error rewritten: %v", got)
	}
}
