package payment

import "time"

// Status is the lifecycle state of a vendor payment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further provider event may change the status.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// VendorPayment is one disbursement attempt for a work order. At most one
// non-FAILED row exists per work order.
type VendorPayment struct {
	ID            string     `json:"id"`
	WorkOrderID   string     `json:"workOrderId"`
	VendorID      string     `json:"vendorId"`
	AmountCents   int64      `json:"amountCents"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	TransactionID *string    `json:"transactionId,omitempty"`
	FailureReason *string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

// Payable is everything InitiatePayment needs about a work order, read under
// the work order row lock.
type Payable struct {
	WorkOrderID          string
	WorkOrderStatus      string
	MaintenanceRequestID string
	VendorID             string
	PayoutAccountID      *string
	EstimateCents        *int64
	InvoiceCount         int
}

// EventKind is the narrowed meaning of a provider webhook.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPayoutSucceeded
	EventPayoutFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPayoutSucceeded:
		return "payout_succeeded"
	case EventPayoutFailed:
		return "payout_failed"
	default:
		return "unknown"
	}
}

// Event is a provider callback after signature verification and narrowing.
// CorrelationID is the vendor payment id the transfer was tagged with.
type Event struct {
	ID            string
	Type          string
	Kind          EventKind
	CorrelationID string
	TransactionID string
	FailureReason string
}

// TransferRequest asks the provider to move AmountCents to a connected account.
type TransferRequest struct {
	PaymentID   string
	Destination string
	AmountCents int64
	Currency    string
}

// TransferResult is the provider's view of a transfer.
type TransferResult struct {
	TransactionID string
}
