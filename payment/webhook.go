package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81/webhook"
)

// EventParser verifies Stripe webhook signatures and narrows the event to
// the kinds the orchestrator understands.
type EventParser struct {
	secret string
}

func NewEventParser(secret string) *EventParser {
	return &EventParser{secret: secret}
}

// Stripe event types for platform transfers to connected accounts. A transfer
// lands in the connected balance when it is created, so transfer.created is
// the settlement signal; a full reversal takes the money back. The connected
// account's own payout.* events never carry our metadata and are not used.
const (
	stripeTransferCreated  = "transfer.created"
	stripeTransferReversed = "transfer.reversed"
)

// transferObject is the subset of a Stripe transfer we read.
type transferObject struct {
	ID             string            `json:"id"`
	Metadata       map[string]string `json:"metadata"`
	TransferGroup  string            `json:"transfer_group"`
	Reversed       bool              `json:"reversed"`
	AmountReversed int64             `json:"amount_reversed"`
}

// Parse returns ErrInvalidSignature when the payload was not signed with the
// configured secret. Well-signed events of other types, and partial
// reversals, come back as EventUnknown.
func (p *EventParser) Parse(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != stripeTransferCreated && out.Type != stripeTransferReversed {
		return out, nil
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}
	var obj transferObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return out, nil
	}

	switch {
	case out.Type == stripeTransferCreated:
		out.Kind = EventPayoutSucceeded
	case obj.Reversed:
		out.Kind = EventPayoutFailed
		out.FailureReason = fmt.Sprintf("transfer reversed (%d reversed)", obj.AmountReversed)
	default:
		return out, nil
	}

	out.CorrelationID = obj.Metadata[metadataPaymentID]
	if out.CorrelationID == "" {
		out.CorrelationID = obj.TransferGroup
	}
	out.TransactionID = obj.ID
	return out, nil
}
