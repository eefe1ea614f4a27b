package main

import (
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"repairflow/auth"
	"repairflow/payment"
	"repairflow/workorder"

	"github.com/gin-gonic/gin"
)

type quoteRequest struct {
	Amount  float64 `json:"amount" binding:"required,gt=0"`
	Details string  `json:"details" binding:"max=4000"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required,workorder_status"`
}

type payoutRequest struct {
	WorkOrderID string `json:"workOrderId" binding:"required,uuid"`
}

type quoteResponse struct {
	ID          string     `json:"id"`
	WorkOrderID string     `json:"workOrderId"`
	VendorID    string     `json:"vendorId"`
	Amount      float64    `json:"amount"`
	AmountCents int64      `json:"amountCents"`
	Details     string     `json:"details"`
	Status      string     `json:"status"`
	CreatedAt   string     `json:"createdAt"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
}

type assignmentResponse struct {
	ID         string  `json:"id"`
	VendorID   string  `json:"vendorId"`
	QuoteID    *string `json:"quoteId,omitempty"`
	AssignedAt string  `json:"assignedAt"`
}

type workOrderResponse struct {
	ID                   string              `json:"id"`
	MaintenanceRequestID string              `json:"maintenanceRequestId"`
	Status               string              `json:"status"`
	Version              int64               `json:"version"`
	UpdatedAt            string              `json:"updatedAt"`
	Assignment           *assignmentResponse `json:"assignment,omitempty"`
	Quotes               []quoteResponse     `json:"quotes,omitempty"`
}

func toQuoteResponse(q workorder.Quote) quoteResponse {
	return quoteResponse{
		ID:          q.ID,
		WorkOrderID: q.WorkOrderID,
		VendorID:    q.VendorID,
		Amount:      float64(q.AmountCents) / 100,
		AmountCents: q.AmountCents,
		Details:     q.Details,
		Status:      string(q.Status),
		CreatedAt:   q.CreatedAt.Format(time.RFC3339),
		DecidedAt:   q.DecidedAt,
	}
}

func toQuoteResponses(qs []workorder.Quote) []quoteResponse {
	out := make([]quoteResponse, 0, len(qs))
	for _, q := range qs {
		out = append(out, toQuoteResponse(q))
	}
	return out
}

func toWorkOrderResponse(wo workorder.WorkOrder) workOrderResponse {
	return workOrderResponse{
		ID:                   wo.ID,
		MaintenanceRequestID: wo.MaintenanceRequestID,
		Status:               string(wo.Status),
		Version:              wo.Version,
		UpdatedAt:            wo.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleGetWorkOrder(c *gin.Context) {
	detail, err := s.workOrders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := toWorkOrderResponse(detail.WorkOrder)
	if a := detail.Assignment; a != nil {
		resp.Assignment = &assignmentResponse{
			ID:         a.ID,
			VendorID:   a.VendorID,
			QuoteID:    a.QuoteID,
			AssignedAt: a.AssignedAt.Format(time.RFC3339),
		}
	}
	// vendors only see their own bids
	p, _ := principalFrom(c)
	for _, q := range detail.Quotes {
		if p.Role == auth.RoleManager || p.IsVendor(q.VendorID) {
			resp.Quotes = append(resp.Quotes, toQuoteResponse(q))
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSubmitQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, _ := principalFrom(c)

	q, err := s.workOrders.SubmitQuote(c.Request.Context(), workorder.SubmitQuoteParams{
		WorkOrderID: c.Param("id"),
		VendorID:    p.SubjectID,
		AmountCents: int64(math.Round(req.Amount * 100)),
		Details:     req.Details,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toQuoteResponse(q))
}

func (s *Server) handleListQuotes(c *gin.Context) {
	qs, err := s.workOrders.ListQuotes(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toQuoteResponses(qs)})
}

func (s *Server) handleApproveQuote(c *gin.Context) {
	p, _ := principalFrom(c)
	q, err := s.workOrders.ApproveQuote(c.Request.Context(), c.Param("id"), p.SubjectID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuoteResponse(q))
}

func (s *Server) handleRejectQuote(c *gin.Context) {
	p, _ := principalFrom(c)
	q, err := s.workOrders.RejectQuote(c.Request.Context(), c.Param("id"), p.SubjectID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuoteResponse(q))
}

func (s *Server) handleDecline(c *gin.Context) {
	p, _ := principalFrom(c)
	wo, err := s.workOrders.DeclineAssignment(c.Request.Context(), c.Param("id"), p.SubjectID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWorkOrderResponse(wo))
}

func (s *Server) handleAccept(c *gin.Context) {
	p, _ := principalFrom(c)
	wo, err := s.workOrders.Accept(c.Request.Context(), workorder.AcceptParams{
		WorkOrderID: c.Param("id"),
		VendorID:    p.SubjectID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWorkOrderResponse(wo))
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, _ := principalFrom(c)

	wo, err := s.workOrders.SetStatus(c.Request.Context(), workorder.SetStatusParams{
		WorkOrderID: c.Param("id"),
		Status:      workorder.Status(req.Status),
		ActorID:     p.SubjectID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWorkOrderResponse(wo))
}

func (s *Server) handlePayout(c *gin.Context) {
	var req payoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	vp, err := s.payments.InitiatePayment(c.Request.Context(), req.WorkOrderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vp)
}

func (s *Server) handlePaymentHistory(c *gin.Context) {
	vendorID := c.Param("vendorId")
	p, _ := principalFrom(c)
	if p.Role != auth.RoleManager && !p.IsVendor(vendorID) {
		c.JSON(http.StatusForbidden, errorBody{Error: "forbidden", Kind: "forbidden"})
		return
	}

	items, err := s.payments.GetPaymentHistory(c.Request.Context(), vendorID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if items == nil {
		items = []payment.VendorPayment{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleStripeWebhook verifies the signature over the raw body. Processing
// errors return 500 so the provider redelivers; everything else is 200.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}

	ev, err := s.webhooks.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid signature", Kind: "invalid_signature"})
			return
		}
		badRequest(c, err.Error())
		return
	}

	if err := s.payments.HandleProviderCallback(c.Request.Context(), ev); err != nil {
		s.log.WithContext(c.Request.Context()).Error("provider callback failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "callback processing failed", Kind: "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
