package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider accepts every transfer and remembers it for LookupTransfer.
// Enabled with PAYMENT_PROVIDER_MOCK for local runs.
type MockProvider struct {
	mu        sync.Mutex
	transfers map[string]TransferResult
}

func NewMockProvider() *MockProvider {
	return &MockProvider{transfers: make(map[string]TransferResult)}
}

func (m *MockProvider) CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	if req.AmountCents <= 0 {
		return TransferResult{}, &RejectedError{Reason: "amount must be positive"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if res, ok := m.transfers[req.PaymentID]; ok {
		return res, nil
	}
	res := TransferResult{TransactionID: fmt.Sprintf("tr_mock_%d", time.Now().UTC().UnixNano())}
	m.transfers[req.PaymentID] = res
	return res, nil
}

func (m *MockProvider) LookupTransfer(_ context.Context, paymentID string) (TransferResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.transfers[paymentID]
	return res, ok, nil
}

// SelectProvider returns the mock provider when mock is set, Stripe otherwise.
func SelectProvider(mock bool, stripeSecretKey string) (Provider, error) {
	if mock {
		return NewMockProvider(), nil
	}
	return NewStripeProvider(stripeSecretKey)
}
