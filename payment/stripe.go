package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

const metadataPaymentID = "vendor_payment_id"

// StripeProvider sends payouts as Stripe Connect transfers. The vendor
// payment id is the idempotency key, the transfer group and a metadata entry,
// so webhooks and lookups can find the payment again.
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(secretKey string) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, errors.New("payment: missing STRIPE_SECRET_KEY")
	}
	return &StripeProvider{api: client.New(secretKey, nil)}, nil
}

func (s *StripeProvider) CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String(req.PaymentID),
	}
	params.Context = ctx
	params.SetIdempotencyKey("vendor-payment-" + req.PaymentID)
	params.AddMetadata(metadataPaymentID, req.PaymentID)

	tr, err := s.api.Transfers.New(params)
	if err != nil {
		return TransferResult{}, classifyStripeError(err)
	}
	return TransferResult{TransactionID: tr.ID}, nil
}

func (s *StripeProvider) LookupTransfer(ctx context.Context, paymentID string) (TransferResult, bool, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(paymentID)}
	params.Context = ctx

	it := s.api.Transfers.List(params)
	for it.Next() {
		tr := it.Transfer()
		if tr.Metadata[metadataPaymentID] == paymentID || tr.TransferGroup == paymentID {
			return TransferResult{TransactionID: tr.ID}, true, nil
		}
	}
	if err := it.Err(); err != nil {
		return TransferResult{}, false, fmt.Errorf("payment: list transfers: %w", err)
	}
	return TransferResult{}, false, nil
}

// classifyStripeError turns a client error response into a RejectedError.
// 409 (idempotency conflict), 5xx and transport failures stay ambiguous.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.HTTPStatusCode >= http.StatusBadRequest &&
		se.HTTPStatusCode < http.StatusInternalServerError &&
		se.HTTPStatusCode != http.StatusConflict {
		reason := se.Msg
		if reason == "" {
			reason = string(se.Code)
		}
		return &RejectedError{Reason: reason}
	}
	return err
}
