package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"repairflow/vendors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) commits() int {
	n := 0
	for _, tx := range f.txs {
		if tx.committed {
			n++
		}
	}
	return n
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

// memRepo keeps payments in memory. Payables are keyed by work order id.
type memRepo struct {
	clock    time.Time
	payables map[string]Payable
	payments map[string]*VendorPayment
	events   map[string]string
	vendors  map[string]vendors.Profile
	outbox   []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		payables: map[string]Payable{},
		payments: map[string]*VendorPayment{},
		events:   map[string]string{},
		vendors:  map[string]vendors.Profile{},
	}
}

func (m *memRepo) addPayable(workOrderID, vendorID, account string, estimate int64) {
	p := Payable{
		WorkOrderID:          workOrderID,
		WorkOrderStatus:      "COMPLETED",
		MaintenanceRequestID: "mr-" + workOrderID,
		VendorID:             vendorID,
		InvoiceCount:         1,
	}
	if account != "" {
		p.PayoutAccountID = &account
	}
	if estimate != 0 {
		p.EstimateCents = &estimate
	}
	m.payables[workOrderID] = p
}

func (m *memRepo) addPayment(workOrderID string, status Status, age time.Duration) *VendorPayment {
	p := &VendorPayment{
		ID:          uuid.NewString(),
		WorkOrderID: workOrderID,
		VendorID:    "vendor-1",
		AmountCents: 10000,
		Currency:    "usd",
		Status:      status,
		CreatedAt:   m.clock.Add(-age),
	}
	m.payments[p.ID] = p
	return p
}

func (m *memRepo) LoadPayable(_ context.Context, _ pgx.Tx, workOrderID string) (Payable, error) {
	p, ok := m.payables[workOrderID]
	if !ok {
		return Payable{}, fmt.Errorf("%w: work order %s", ErrNotFound, workOrderID)
	}
	if p.VendorID == "" {
		return Payable{}, fmt.Errorf("%w: work order %s", ErrNotAssigned, workOrderID)
	}
	return p, nil
}

func (m *memRepo) InsertPending(_ context.Context, _ pgx.Tx, p VendorPayment) (VendorPayment, error) {
	for _, existing := range m.payments {
		if existing.WorkOrderID == p.WorkOrderID && existing.Status != StatusFailed {
			return VendorPayment{}, fmt.Errorf("%w: work order %s", ErrPaymentInProgress, p.WorkOrderID)
		}
	}
	m.clock = m.clock.Add(time.Second)
	p.ID = uuid.NewString()
	p.Status = StatusPending
	p.CreatedAt = m.clock
	p.UpdatedAt = m.clock
	m.payments[p.ID] = &p
	return p, nil
}

func (m *memRepo) LockByID(_ context.Context, _ pgx.Tx, id string) (VendorPayment, error) {
	p, ok := m.payments[id]
	if !ok {
		return VendorPayment{}, fmt.Errorf("%w: vendor payment %s", ErrNotFound, id)
	}
	return *p, nil
}

func (m *memRepo) MarkProcessing(_ context.Context, _ pgx.Tx, id, transactionID string) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status != StatusPending {
		return false, nil
	}
	p.Status = StatusProcessing
	p.TransactionID = &transactionID
	return true, nil
}

func (m *memRepo) MarkPaid(_ context.Context, _ pgx.Tx, id, transactionID string, at time.Time) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status.Terminal() {
		return false, nil
	}
	p.Status = StatusPaid
	if p.TransactionID == nil && transactionID != "" {
		p.TransactionID = &transactionID
	}
	p.ProcessedAt = &at
	return true, nil
}

func (m *memRepo) MarkFailed(_ context.Context, _ pgx.Tx, id, reason string) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status.Terminal() {
		return false, nil
	}
	p.Status = StatusFailed
	p.FailureReason = &reason
	return true, nil
}

func (m *memRepo) RecordEvent(_ context.Context, _ pgx.Tx, eventID, eventType string) (bool, error) {
	if _, ok := m.events[eventID]; ok {
		return false, nil
	}
	m.events[eventID] = eventType
	return true, nil
}

func (m *memRepo) History(_ context.Context, _ pgx.Tx, vendorID string) ([]VendorPayment, error) {
	out := []VendorPayment{}
	for _, p := range m.payments {
		if p.VendorID == vendorID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) StalePending(_ context.Context, _ pgx.Tx, before time.Time, limit int) ([]VendorPayment, error) {
	var out []VendorPayment
	for _, p := range m.payments {
		if p.Status == StatusPending && p.CreatedAt.Before(before) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) VendorProfile(_ context.Context, _ pgx.Tx, vendorID string) (vendors.Profile, error) {
	p, ok := m.vendors[vendorID]
	if !ok {
		return vendors.Profile{}, vendors.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ any) error {
	m.outbox = append(m.outbox, topic)
	return nil
}

var _ Repository = (*memRepo)(nil)

// stubProvider returns a fixed outcome and records requests.
type stubProvider struct {
	result   TransferResult
	err      error
	block    bool
	found    map[string]TransferResult
	requests []TransferRequest
}

func (s *stubProvider) CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	s.requests = append(s.requests, req)
	if s.block {
		<-ctx.Done()
		return TransferResult{}, ctx.Err()
	}
	return s.result, s.err
}

func (s *stubProvider) LookupTransfer(_ context.Context, paymentID string) (TransferResult, bool, error) {
	res, ok := s.found[paymentID]
	return res, ok, nil
}

// hookProvider runs during CreateTransfer, while the caller still waits on
// the provider, and then reports the transfer as created.
type hookProvider struct {
	duringCreate func(ctx context.Context, req TransferRequest)
	requests     []TransferRequest
}

func (h *hookProvider) CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	h.requests = append(h.requests, req)
	if h.duringCreate != nil {
		h.duringCreate(ctx, req)
	}
	return TransferResult{TransactionID: "tr_" + req.PaymentID[:8]}, nil
}

func (h *hookProvider) LookupTransfer(context.Context, string) (TransferResult, bool, error) {
	return TransferResult{}, false, nil
}
