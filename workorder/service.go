package workorder

import (
	"context"
	"errors"
	"fmt"

	"repairflow/logger"
	"repairflow/outbox"
	"repairflow/vendors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a work order, quote or assignment is missing.
	ErrNotFound = errors.New("workorder: not found")
	// ErrInvalidTransition covers illegal state changes, including lost approval races.
	ErrInvalidTransition = errors.New("workorder: invalid transition")
	// ErrNotAssigned is returned when the caller does not hold the active assignment.
	ErrNotAssigned = errors.New("workorder: not assigned")
	// ErrInvalidAmount rejects non-positive quote amounts.
	ErrInvalidAmount = errors.New("workorder: quote amount must be positive")

	errNoActiveAssignment = errors.New("workorder: no active assignment")
	errVersionConflict    = errors.New("workorder: version conflict")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the data access used by Service. Every call runs inside the
// caller's transaction.
type Repository interface {
	GetWorkOrder(ctx context.Context, tx pgx.Tx, id string, lock LockMode) (WorkOrder, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, expectedVersion int64, next Status) (WorkOrder, error)

	GetQuote(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (Quote, error)
	ListQuotes(ctx context.Context, tx pgx.Tx, workOrderID string) ([]Quote, error)
	InsertQuote(ctx context.Context, tx pgx.Tx, params SubmitQuoteParams) (Quote, error)
	SetQuoteStatus(ctx context.Context, tx pgx.Tx, id string, status QuoteStatus) error
	RejectPendingQuotes(ctx context.Context, tx pgx.Tx, workOrderID, exceptQuoteID string) ([]Quote, error)

	ActiveAssignment(ctx context.Context, tx pgx.Tx, workOrderID string) (Assignment, error)
	InsertAssignment(ctx context.Context, tx pgx.Tx, workOrderID, vendorID string, quoteID *string) (Assignment, error)
	DeactivateAssignment(ctx context.Context, tx pgx.Tx, assignmentID string) error

	AppendTimeline(ctx context.Context, tx pgx.Tx, entry TimelineEntry) error
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload any) error
	VendorProfile(ctx context.Context, tx pgx.Tx, vendorID string) (vendors.Profile, error)
}

// Service owns the work order state machine, the quote ledger and vendor
// assignments. Side effects leave through the outbox after commit.
type Service struct {
	pool TxBeginner
	repo Repository
	log  *logger.Logger
}

func NewService(pool TxBeginner, repo Repository, log *logger.Logger) *Service {
	if repo == nil {
		repo = NewStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{pool: pool, repo: repo, log: log}
}

// Get returns the work order with its active assignment and quotes.
func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Detail{}, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	wo, err := s.repo.GetWorkOrder(ctx, tx, id, LockNone)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{WorkOrder: wo}

	switch a, err := s.repo.ActiveAssignment(ctx, tx, id); {
	case err == nil:
		detail.Assignment = &a
	case errors.Is(err, errNoActiveAssignment):
	default:
		return Detail{}, err
	}

	if detail.Quotes, err = s.repo.ListQuotes(ctx, tx, id); err != nil {
		return Detail{}, err
	}
	return detail, nil
}

// transition applies the conditional status write. A zero-row update means
// another writer moved the order first.
func (s *Service) transition(ctx context.Context, tx pgx.Tx, wo WorkOrder, next Status) (WorkOrder, error) {
	if !CanTransition(wo.Status, next) {
		return WorkOrder{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wo.Status, next)
	}
	updated, err := s.repo.UpdateStatus(ctx, tx, wo.ID, wo.Version, next)
	if err != nil {
		if errors.Is(err, errVersionConflict) {
			return WorkOrder{}, fmt.Errorf("%w: work order %s changed concurrently", ErrInvalidTransition, wo.ID)
		}
		return WorkOrder{}, err
	}
	return updated, nil
}

// notifyVendor queues a push notification for the vendor's contact. Vendors
// without a device token are skipped.
func (s *Service) notifyVendor(ctx context.Context, tx pgx.Tx, vendorID, workOrderID, title, body string) error {
	profile, err := s.repo.VendorProfile(ctx, tx, vendorID)
	if err != nil {
		if errors.Is(err, vendors.ErrNotFound) {
			s.log.WithContext(ctx).Warn("notification skipped: vendor missing", "vendor_id", vendorID)
			return nil
		}
		return err
	}
	token, platform, ok := profile.PushTarget()
	if !ok {
		s.log.WithContext(ctx).Debug("notification skipped: no device token", "vendor_id", vendorID)
		return nil
	}
	return s.repo.Enqueue(ctx, tx, outbox.TopicNotification, outbox.NotificationPayload{
		VendorID:    vendorID,
		WorkOrderID: workOrderID,
		Token:       token,
		Platform:    platform,
		Title:       title,
		Body:        body,
	})
}

// notifyManagers queues a push to the managers' gateway topic.
func (s *Service) notifyManagers(ctx context.Context, tx pgx.Tx, workOrderID, title, body string) error {
	return s.repo.Enqueue(ctx, tx, outbox.TopicNotification, outbox.NotificationPayload{
		WorkOrderID: workOrderID,
		PushTopic:   outbox.ManagersPushTopic,
		Title:       title,
		Body:        body,
	})
}

func commit(ctx context.Context, tx pgx.Tx, op string) error {
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workorder: commit %s: %w", op, err)
	}
	return nil
}
