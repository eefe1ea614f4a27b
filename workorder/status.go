package workorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// transitions lists every legal status change. The same table is enforced by
// the work_orders_guard_transition trigger.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusAssigned, StatusInProgress, StatusCancelled},
	StatusAssigned:   {StatusOpen, StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a caller-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s)
	}
}

// Accept moves an OPEN or ASSIGNED work order to IN_PROGRESS. On an ASSIGNED
// order the vendor must hold the active assignment. On an OPEN order the vendor
// claims it directly and becomes the assignee.
func (s *Service) Accept(ctx context.Context, params AcceptParams) (WorkOrder, error) {
	if params.WorkOrderID == "" {
		return WorkOrder{}, fmt.Errorf("workorder: accept missing work order id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	wo, err := s.repo.GetWorkOrder(ctx, tx, params.WorkOrderID, LockUpdate)
	if err != nil {
		return WorkOrder{}, err
	}

	updated, err := s.accept(ctx, tx, wo, params.VendorID, params.VendorID)
	if err != nil {
		return WorkOrder{}, err
	}

	if err := commit(ctx, tx, "accept"); err != nil {
		return WorkOrder{}, err
	}
	return updated, nil
}

func (s *Service) accept(ctx context.Context, tx pgx.Tx, wo WorkOrder, vendorID, actorID string) (WorkOrder, error) {
	var assignee string

	switch wo.Status {
	case StatusAssigned:
		a, err := s.repo.ActiveAssignment(ctx, tx, wo.ID)
		if err != nil {
			if errors.Is(err, errNoActiveAssignment) {
				return WorkOrder{}, fmt.Errorf("%w: work order %s has no active assignment", ErrNotAssigned, wo.ID)
			}
			return WorkOrder{}, err
		}
		if vendorID != "" && a.VendorID != vendorID {
			return WorkOrder{}, fmt.Errorf("%w: vendor %s does not hold work order %s", ErrNotAssigned, vendorID, wo.ID)
		}
		assignee = a.VendorID

	case StatusOpen:
		if vendorID == "" {
			return WorkOrder{}, fmt.Errorf("%w: work order %s is open", ErrNotAssigned, wo.ID)
		}
		if err := s.claim(ctx, tx, wo, vendorID); err != nil {
			return WorkOrder{}, err
		}
		assignee = vendorID

	default:
		return WorkOrder{}, fmt.Errorf("%w: cannot accept work order in %s", ErrInvalidTransition, wo.Status)
	}

	updated, err := s.transition(ctx, tx, wo, StatusInProgress)
	if err != nil {
		return WorkOrder{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, TimelineEntry{
		WorkOrderID: wo.ID,
		Type:        EventWorkOrderAccepted,
		ActorID:     actorID,
		Payload: map[string]any{
			"previous_status": wo.Status,
			"vendor_id":       assignee,
		},
	}); err != nil {
		return WorkOrder{}, err
	}

	if err := s.notifyVendor(ctx, tx, assignee, wo.ID, "Work order started", "You accepted the work order. It is now in progress."); err != nil {
		return WorkOrder{}, err
	}
	return updated, nil
}

// claim assigns an OPEN work order to the accepting vendor. The vendor's most
// recent pending quote, if any, becomes the accepted one and the rest are
// rejected so no stale bid can be approved later.
func (s *Service) claim(ctx context.Context, tx pgx.Tx, wo WorkOrder, vendorID string) error {
	quotes, err := s.repo.ListQuotes(ctx, tx, wo.ID)
	if err != nil {
		return err
	}

	// quotes are newest first
	var quoteID *string
	for i := range quotes {
		if quotes[i].VendorID == vendorID && quotes[i].Status == QuotePending {
			quoteID = &quotes[i].ID
			break
		}
	}

	except := ""
	if quoteID != nil {
		if err := s.repo.SetQuoteStatus(ctx, tx, *quoteID, QuoteAccepted); err != nil {
			return err
		}
		except = *quoteID
	}
	if _, err := s.repo.RejectPendingQuotes(ctx, tx, wo.ID, except); err != nil {
		return err
	}

	_, err = s.repo.InsertAssignment(ctx, tx, wo.ID, vendorID, quoteID)
	return err
}

// SetStatus is the generic setter used by completion and cancellation flows.
// It refuses transitions that would skip a state or bypass the bookkeeping of
// approval: ASSIGNED is only reachable through ApproveQuote.
func (s *Service) SetStatus(ctx context.Context, params SetStatusParams) (WorkOrder, error) {
	next, err := ParseStatus(string(params.Status))
	if err != nil {
		return WorkOrder{}, err
	}
	if next == StatusAssigned {
		return WorkOrder{}, fmt.Errorf("%w: ASSIGNED is set by quote approval", ErrInvalidTransition)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	wo, err := s.repo.GetWorkOrder(ctx, tx, params.WorkOrderID, LockUpdate)
	if err != nil {
		return WorkOrder{}, err
	}
	if !CanTransition(wo.Status, next) {
		return WorkOrder{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wo.Status, next)
	}

	var updated WorkOrder
	switch next {
	case StatusInProgress:
		updated, err = s.accept(ctx, tx, wo, "", params.ActorID)

	case StatusOpen:
		var a Assignment
		a, err = s.repo.ActiveAssignment(ctx, tx, wo.ID)
		if errors.Is(err, errNoActiveAssignment) {
			err = fmt.Errorf("%w: work order %s has no active assignment", ErrNotAssigned, wo.ID)
		}
		if err == nil {
			updated, err = s.release(ctx, tx, wo, a, params.ActorID, EventStatusChanged)
		}

	default:
		updated, err = s.finish(ctx, tx, wo, next, params.ActorID)
	}
	if err != nil {
		return WorkOrder{}, err
	}

	if err := commit(ctx, tx, "set status"); err != nil {
		return WorkOrder{}, err
	}
	return updated, nil
}

// finish handles COMPLETED and CANCELLED. Cancelling ends the active
// assignment; completion keeps it so payment can find the vendor.
func (s *Service) finish(ctx context.Context, tx pgx.Tx, wo WorkOrder, next Status, actorID string) (WorkOrder, error) {
	var vendorID string
	switch a, err := s.repo.ActiveAssignment(ctx, tx, wo.ID); {
	case err == nil:
		vendorID = a.VendorID
		if next == StatusCancelled {
			if err := s.repo.DeactivateAssignment(ctx, tx, a.ID); err != nil {
				return WorkOrder{}, err
			}
		}
	case errors.Is(err, errNoActiveAssignment):
	default:
		return WorkOrder{}, err
	}

	if next == StatusCancelled {
		if _, err := s.repo.RejectPendingQuotes(ctx, tx, wo.ID, ""); err != nil {
			return WorkOrder{}, err
		}
	}

	updated, err := s.transition(ctx, tx, wo, next)
	if err != nil {
		return WorkOrder{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, TimelineEntry{
		WorkOrderID: wo.ID,
		Type:        EventStatusChanged,
		ActorID:     actorID,
		Payload: map[string]any{
			"previous_status": wo.Status,
			"next_status":     next,
		},
	}); err != nil {
		return WorkOrder{}, err
	}

	if vendorID != "" {
		title, body := "Work order completed", "The work order was marked as completed."
		if next == StatusCancelled {
			title, body = "Work order cancelled", "The work order assigned to you was cancelled."
		}
		if err := s.notifyVendor(ctx, tx, vendorID, wo.ID, title, body); err != nil {
			return WorkOrder{}, err
		}
	}
	return updated, nil
}
