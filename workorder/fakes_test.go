package workorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"repairflow/vendors"

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

func (f *fakePool) last() *fakeTx {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
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

type outboxRow struct {
	topic   string
	payload any
}

// memRepo is an in-memory Repository. It ignores the transaction handle; tests
// assert on commit/rollback through fakeTx.
type memRepo struct {
	seq         int
	clock       time.Time
	orders      map[string]*WorkOrder
	quotes      map[string]*Quote
	assignments []*Assignment
	timeline    []TimelineEntry
	outbox      []outboxRow
	vendors     map[string]vendors.Profile

	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		clock:   time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		orders:  map[string]*WorkOrder{},
		quotes:  map[string]*Quote{},
		vendors: map[string]vendors.Profile{},
	}
}

func (m *memRepo) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memRepo) addOrder(id, requestID string, status Status) *WorkOrder {
	wo := &WorkOrder{ID: id, MaintenanceRequestID: requestID, Status: status, Version: 1}
	m.orders[id] = wo
	return wo
}

func (m *memRepo) addVendor(id, token string) {
	p := vendors.Profile{ID: id, Name: id}
	if token != "" {
		platform := "ios"
		p.ContactDeviceToken = &token
		p.ContactPlatform = &platform
	}
	m.vendors[id] = p
}

func (m *memRepo) addQuote(workOrderID, vendorID string, amount int64) *Quote {
	q := &Quote{
		ID:          m.nextID("quote"),
		WorkOrderID: workOrderID,
		VendorID:    vendorID,
		AmountCents: amount,
		Status:      QuotePending,
		CreatedAt:   m.tick(),
	}
	m.quotes[q.ID] = q
	return q
}

func (m *memRepo) addAssignment(workOrderID, vendorID string, quoteID *string) *Assignment {
	a := &Assignment{ID: m.nextID("assignment"), WorkOrderID: workOrderID, VendorID: vendorID, QuoteID: quoteID, Active: true}
	m.assignments = append(m.assignments, a)
	return a
}

func (m *memRepo) topics() []string {
	out := make([]string, 0, len(m.outbox))
	for _, r := range m.outbox {
		out = append(out, r.topic)
	}
	return out
}

func (m *memRepo) GetWorkOrder(_ context.Context, _ pgx.Tx, id string, _ LockMode) (WorkOrder, error) {
	wo, ok := m.orders[id]
	if !ok {
		return WorkOrder{}, fmt.Errorf("%w: work order %s", ErrNotFound, id)
	}
	return *wo, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, expectedVersion int64, next Status) (WorkOrder, error) {
	if m.updateErr != nil {
		return WorkOrder{}, m.updateErr
	}
	wo := m.orders[id]
	if wo.Version != expectedVersion {
		return WorkOrder{}, errVersionConflict
	}
	wo.Status = next
	wo.Version++
	return *wo, nil
}

func (m *memRepo) GetQuote(_ context.Context, _ pgx.Tx, id string, _ bool) (Quote, error) {
	q, ok := m.quotes[id]
	if !ok {
		return Quote{}, fmt.Errorf("%w: quote %s", ErrNotFound, id)
	}
	return *q, nil
}

func (m *memRepo) ListQuotes(_ context.Context, _ pgx.Tx, workOrderID string) ([]Quote, error) {
	var out []Quote
	for _, q := range m.quotes {
		if q.WorkOrderID == workOrderID {
			out = append(out, *q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) InsertQuote(_ context.Context, _ pgx.Tx, params SubmitQuoteParams) (Quote, error) {
	q := m.addQuote(params.WorkOrderID, params.VendorID, params.AmountCents)
	q.Details = params.Details
	return *q, nil
}

func (m *memRepo) SetQuoteStatus(_ context.Context, _ pgx.Tx, id string, status QuoteStatus) error {
	q, ok := m.quotes[id]
	if !ok {
		return fmt.Errorf("%w: quote %s", ErrNotFound, id)
	}
	if status == QuoteAccepted {
		for _, other := range m.quotes {
			if other.WorkOrderID == q.WorkOrderID && other.ID != id && other.Status == QuoteAccepted {
				return fmt.Errorf("%w: work order already has an accepted quote", ErrInvalidTransition)
			}
		}
	}
	q.Status = status
	return nil
}

func (m *memRepo) RejectPendingQuotes(_ context.Context, _ pgx.Tx, workOrderID, exceptQuoteID string) ([]Quote, error) {
	var out []Quote
	for _, q := range m.quotes {
		if q.WorkOrderID == workOrderID && q.Status == QuotePending && q.ID != exceptQuoteID {
			q.Status = QuoteRejected
			out = append(out, *q)
		}
	}
	return out, nil
}

func (m *memRepo) ActiveAssignment(_ context.Context, _ pgx.Tx, workOrderID string) (Assignment, error) {
	for _, a := range m.assignments {
		if a.WorkOrderID == workOrderID && a.Active {
			return *a, nil
		}
	}
	return Assignment{}, errNoActiveAssignment
}

func (m *memRepo) InsertAssignment(_ context.Context, _ pgx.Tx, workOrderID, vendorID string, quoteID *string) (Assignment, error) {
	if _, err := m.ActiveAssignment(context.Background(), nil, workOrderID); err == nil {
		return Assignment{}, fmt.Errorf("%w: work order %s already has an active assignment", ErrInvalidTransition, workOrderID)
	}
	return *m.addAssignment(workOrderID, vendorID, quoteID), nil
}

func (m *memRepo) DeactivateAssignment(_ context.Context, _ pgx.Tx, assignmentID string) error {
	for _, a := range m.assignments {
		if a.ID == assignmentID {
			a.Active = false
		}
	}
	return nil
}

func (m *memRepo) AppendTimeline(_ context.Context, _ pgx.Tx, entry TimelineEntry) error {
	m.timeline = append(m.timeline, entry)
	return nil
}

func (m *memRepo) Enqueue(_ context.Context, _ pgx.Tx, topic string, payload any) error {
	m.outbox = append(m.outbox, outboxRow{topic: topic, payload: payload})
	return nil
}

func (m *memRepo) VendorProfile(_ context.Context, _ pgx.Tx, vendorID string) (vendors.Profile, error) {
	p, ok := m.vendors[vendorID]
	if !ok {
		return vendors.Profile{}, vendors.ErrNotFound
	}
	return p, nil
}

var _ Repository = (*memRepo)(nil)
