package workorder

import (
	"context"
	"errors"
	"fmt"

	"repairflow/outbox"

	"github.com/jackc/pgx/v5"
)

// DeclineAssignment lets the assigned vendor hand the work order back. The
// order returns to OPEN and a re-triage request is queued; the commit does not
// depend on the triage outcome.
func (s *Service) DeclineAssignment(ctx context.Context, workOrderID, vendorID string) (WorkOrder, error) {
	if workOrderID == "" || vendorID == "" {
		return WorkOrder{}, fmt.Errorf("workorder: decline missing work order or vendor id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	wo, err := s.repo.GetWorkOrder(ctx, tx, workOrderID, LockUpdate)
	if err != nil {
		return WorkOrder{}, err
	}

	a, err := s.repo.ActiveAssignment(ctx, tx, wo.ID)
	if err != nil {
		if errors.Is(err, errNoActiveAssignment) {
			return WorkOrder{}, fmt.Errorf("%w: no active assignment for vendor %s on work order %s", ErrNotFound, vendorID, wo.ID)
		}
		return WorkOrder{}, err
	}
	if a.VendorID != vendorID {
		return WorkOrder{}, fmt.Errorf("%w: no active assignment for vendor %s on work order %s", ErrNotFound, vendorID, wo.ID)
	}

	updated, err := s.release(ctx, tx, wo, a, vendorID, EventAssignmentDeclined)
	if err != nil {
		return WorkOrder{}, err
	}

	if err := commit(ctx, tx, "decline assignment"); err != nil {
		return WorkOrder{}, err
	}
	s.log.WithContext(ctx).Info("assignment declined", "work_order_id", wo.ID, "vendor_id", vendorID)
	return updated, nil
}

// release ends the active assignment of an ASSIGNED order, rejects the quote
// it was created from and reopens the order for triage.
func (s *Service) release(ctx context.Context, tx pgx.Tx, wo WorkOrder, a Assignment, actorID, eventType string) (WorkOrder, error) {
	if wo.Status != StatusAssigned {
		return WorkOrder{}, fmt.Errorf("%w: cannot release work order in %s", ErrInvalidTransition, wo.Status)
	}

	if err := s.repo.DeactivateAssignment(ctx, tx, a.ID); err != nil {
		return WorkOrder{}, err
	}
	if a.QuoteID != nil {
		if err := s.repo.SetQuoteStatus(ctx, tx, *a.QuoteID, QuoteRejected); err != nil {
			return WorkOrder{}, err
		}
	}

	updated, err := s.transition(ctx, tx, wo, StatusOpen)
	if err != nil {
		return WorkOrder{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, TimelineEntry{
		WorkOrderID: wo.ID,
		Type:        eventType,
		ActorID:     actorID,
		Payload: map[string]any{
			"previous_status": wo.Status,
			"next_status":     StatusOpen,
			"assignment_id":   a.ID,
			"vendor_id":       a.VendorID,
		},
	}); err != nil {
		return WorkOrder{}, err
	}

	if eventType == EventAssignmentDeclined {
		err = s.notifyManagers(ctx, tx, wo.ID, "Vendor declined work order",
			"The assigned vendor declined. The work order is open again and has been sent back to triage.")
	} else {
		err = s.notifyVendor(ctx, tx, a.VendorID, wo.ID, "Assignment removed",
			"The work order was reopened and is no longer assigned to you.")
	}
	if err != nil {
		return WorkOrder{}, err
	}

	if err := s.repo.Enqueue(ctx, tx, outbox.TopicRetriage, outbox.RetriagePayload{
		WorkOrderID:          wo.ID,
		MaintenanceRequestID: wo.MaintenanceRequestID,
		DeclinedVendorID:     a.VendorID,
	}); err != nil {
		return WorkOrder{}, err
	}
	return updated, nil
}
