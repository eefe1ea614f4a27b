package workorder

import (
	"context"
	"fmt"
)

// SubmitQuote records a PENDING bid on an OPEN work order. Submissions take a
// shared lock so they run concurrently with each other but never interleave
// with an approval of the same order.
func (s *Service) SubmitQuote(ctx context.Context, params SubmitQuoteParams) (Quote, error) {
	if params.AmountCents <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	if params.WorkOrderID == "" || params.VendorID == "" {
		return Quote{}, fmt.Errorf("workorder: submit quote missing work order or vendor id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	wo, err := s.repo.GetWorkOrder(ctx, tx, params.WorkOrderID, LockShare)
	if err != nil {
		return Quote{}, err
	}
	if wo.Status != StatusOpen {
		return Quote{}, fmt.Errorf("%w: work order %s is %s, quotes need OPEN", ErrInvalidTransition, wo.ID, wo.Status)
	}

	q, err := s.repo.InsertQuote(ctx, tx, params)
	if err != nil {
		return Quote{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, TimelineEntry{
		WorkOrderID: wo.ID,
		Type:        EventQuoteSubmitted,
		ActorID:     params.VendorID,
		Payload: map[string]any{
			"quote_id":     q.ID,
			"amount_cents": q.AmountCents,
		},
	}); err != nil {
		return Quote{}, err
	}

	if err := commit(ctx, tx, "submit quote"); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// ApproveQuote accepts one quote and, in the same transaction, rejects every
// sibling, creates the assignment and moves the order to ASSIGNED. The work
// order row lock serializes concurrent approvals; the loser sees
// ErrInvalidTransition.
func (s *Service) ApproveQuote(ctx context.Context, quoteID, actorID string) (Quote, error) {
	if quoteID == "" {
		return Quote{}, fmt.Errorf("workorder: approve missing quote id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetQuote(ctx, tx, quoteID, false)
	if err != nil {
		return Quote{}, err
	}

	wo, err := s.repo.GetWorkOrder(ctx, tx, q.WorkOrderID, LockUpdate)
	if err != nil {
		return Quote{}, err
	}

	// re-read under the order lock; the first read may be stale
	if q, err = s.repo.GetQuote(ctx, tx, quoteID, true); err != nil {
		return Quote{}, err
	}
	if q.Status != QuotePending {
		return Quote{}, fmt.Errorf("%w: quote %s is %s", ErrInvalidTransition, q.ID, q.Status)
	}
	if wo.Status != StatusOpen {
		return Quote{}, fmt.Errorf("%w: work order %s is %s", ErrInvalidTransition, wo.ID, wo.Status)
	}

	if err := s.repo.SetQuoteStatus(ctx, tx, q.ID, QuoteAccepted); err != nil {
		return Quote{}, err
	}
	q.Status = QuoteAccepted

	rejected, err := s.repo.RejectPendingQuotes(ctx, tx, wo.ID, q.ID)
	if err != nil {
		return Quote{}, err
	}

	quoteRef := q.ID
	if _, err := s.repo.InsertAssignment(ctx, tx, wo.ID, q.VendorID, &quoteRef); err != nil {
		return Quote{}, err
	}

	if _, err := s.transition(ctx, tx, wo, StatusAssigned); err != nil {
		return Quote{}, err
	}

	rejectedIDs := make([]string, 0, len(rejected))
	for _, r := range rejected {
		rejectedIDs = append(rejectedIDs, r.ID)
	}
	if err := s.repo.AppendTimeline(ctx, tx, TimelineEntry{
		WorkOrderID: wo.ID,
		Type:        EventQuoteApproved,
		ActorID:     actorID,
		Payload: map[string]any{
			"quote_id":           q.ID,
			"vendor_id":          q.VendorID,
			"amount_cents":       q.AmountCents,
			"rejected_quote_ids": rejectedIDs,
		},
	}); err != nil {
		return Quote{}, err
	}

	if err := s.notifyVendor(ctx, tx, q.VendorID, wo.ID, "Quote approved", "Your quote was approved and the work order is assigned to you."); err != nil {
		return Quote{}, err
	}
	for _, r := range rejected {
		if err := s.notifyVendor(ctx, tx, r.VendorID, wo.ID, "Quote not selected", "Another quote was selected for this work order."); err != nil {
			return Quote{}, err
		}
	}

	if err := commit(ctx, tx, "approve quote"); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// RejectQuote rejects a single quote without touching its siblings or the
// work order. Rejecting an already rejected quote is a no-op.
func (s *Service) RejectQuote(ctx context.Context, quoteID, actorID string) (Quote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetQuote(ctx, tx, quoteID, true)
	if err != nil {
		return Quote{}, err
	}

	switch q.Status {
	case QuoteRejected:
		return q, nil
	case QuoteAccepted:
		return Quote{}, fmt.Errorf("%w: quote %s is already accepted", ErrInvalidTransition, q.ID)
	}

	if err := s.repo.SetQuoteStatus(ctx, tx, q.ID, QuoteRejected); err != nil {
		return Quote{}, err
	}
	q.Status = QuoteRejected

	if err := s.repo.AppendTimeline(ctx, tx, TimelineEntry{
		WorkOrderID: q.WorkOrderID,
		Type:        EventQuoteRejected,
		ActorID:     actorID,
		Payload:     map[string]any{"quote_id": q.ID, "vendor_id": q.VendorID},
	}); err != nil {
		return Quote{}, err
	}

	if err := s.notifyVendor(ctx, tx, q.VendorID, q.WorkOrderID, "Quote rejected", "Your quote was rejected."); err != nil {
		return Quote{}, err
	}

	if err := commit(ctx, tx, "reject quote"); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// ListQuotes returns every quote for the work order, newest first.
func (s *Service) ListQuotes(ctx context.Context, workOrderID string) ([]Quote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetWorkOrder(ctx, tx, workOrderID, LockNone); err != nil {
		return nil, err
	}
	return s.repo.ListQuotes(ctx, tx, workOrderID)
}
