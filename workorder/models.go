package workorder

import "time"

// Status is the lifecycle state of a work order.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// QuoteStatus is the decision state of a vendor quote.
type QuoteStatus string

const (
	QuotePending  QuoteStatus = "PENDING"
	QuoteAccepted QuoteStatus = "ACCEPTED"
	QuoteRejected QuoteStatus = "REJECTED"
)

// WorkOrder mirrors the work_orders row. Version increases on every status
// change and guards the conditional update.
type WorkOrder struct {
	ID                   string
	MaintenanceRequestID string
	CostEstimationID     *string
	Status               Status
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Quote is a vendor's priced bid against a work order. AmountCents never
// changes after insert.
type Quote struct {
	ID          string
	WorkOrderID string
	VendorID    string
	AmountCents int64
	Details     string
	Status      QuoteStatus
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// Assignment binds a work order to a vendor. Only one row per work order is
// active; inactive rows are history.
type Assignment struct {
	ID           string
	WorkOrderID  string
	VendorID     string
	QuoteID      *string
	Active       bool
	AssignedAt   time.Time
	UnassignedAt *time.Time
}

// Detail is the read model returned by Get.
type Detail struct {
	WorkOrder
	Assignment *Assignment
	Quotes     []Quote
}

// TimelineEntry is appended to timeline_events for every transition.
type TimelineEntry struct {
	WorkOrderID string
	Type        string
	ActorID     string
	Payload     map[string]any
}

const (
	EventQuoteSubmitted     = "QUOTE_SUBMITTED"
	EventQuoteApproved      = "QUOTE_APPROVED"
	EventQuoteRejected      = "QUOTE_REJECTED"
	EventWorkOrderAccepted  = "WORK_ORDER_ACCEPTED"
	EventAssignmentDeclined = "ASSIGNMENT_DECLINED"
	EventStatusChanged      = "STATUS_CHANGED"
)

// SubmitQuoteParams carries a new bid.
type SubmitQuoteParams struct {
	WorkOrderID string
	VendorID    string
	AmountCents int64
	Details     string
}

// AcceptParams identifies the work order and the accepting vendor. VendorID is
// required when the order is still OPEN.
type AcceptParams struct {
	WorkOrderID string
	VendorID    string
}

// SetStatusParams drives the generic status setter.
type SetStatusParams struct {
	WorkOrderID string
	Status      Status
	ActorID     string
}

// LockMode selects the row lock taken when loading a work order.
type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockUpdate
)
