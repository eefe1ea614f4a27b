package main

import (
	"context"
	"net/http"
	"time"

	"repairflow/auth"
	"repairflow/document"
	"repairflow/logger"
	"repairflow/payment"
	"repairflow/workorder"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

type workOrderService interface {
	Get(ctx context.Context, id string) (workorder.Detail, error)
	SubmitQuote(ctx context.Context, params workorder.SubmitQuoteParams) (workorder.Quote, error)
	ListQuotes(ctx context.Context, workOrderID string) ([]workorder.Quote, error)
	ApproveQuote(ctx context.Context, quoteID, actorID string) (workorder.Quote, error)
	RejectQuote(ctx context.Context, quoteID, actorID string) (workorder.Quote, error)
	DeclineAssignment(ctx context.Context, workOrderID, vendorID string) (workorder.WorkOrder, error)
	Accept(ctx context.Context, params workorder.AcceptParams) (workorder.WorkOrder, error)
	SetStatus(ctx context.Context, params workorder.SetStatusParams) (workorder.WorkOrder, error)
}

type paymentService interface {
	InitiatePayment(ctx context.Context, workOrderID string) (payment.VendorPayment, error)
	HandleProviderCallback(ctx context.Context, ev payment.Event) error
	GetPaymentHistory(ctx context.Context, vendorID string) ([]payment.VendorPayment, error)
}

type documentService interface {
	AttachInvoice(ctx context.Context, params document.AttachParams) (document.Document, error)
	ListInvoices(ctx context.Context, maintenanceRequestID string) ([]document.Document, error)
}

type eventParser interface {
	Parse(payload []byte, signature string) (payment.Event, error)
}

type tokenVerifier interface {
	VerifyToken(token string) (auth.Principal, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP dependencies. A nil documents service disables the
// invoice routes.
type Server struct {
	workOrders workOrderService
	payments   paymentService
	documents  documentService
	webhooks   eventParser
	tokens     tokenVerifier
	db         pinger
	log        *logger.Logger
	limiter    *ipRateLimiter
}

const maxWebhookBody = 64 << 10

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("workorder_status", func(fl validator.FieldLevel) bool {
			switch workorder.Status(fl.Field().String()) {
			case workorder.StatusOpen, workorder.StatusAssigned, workorder.StatusInProgress,
				workorder.StatusCompleted, workorder.StatusCancelled:
				return true
			}
			return false
		})
	}
}

func (s *Server) routes() *gin.Engine {
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.limiter == nil {
		s.limiter = newIPRateLimiter(rate.Limit(20), 40, s.log)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestContext(), requestLogger(s.log))

	r.GET("/health", s.handleHealth)
	r.POST("/vendor-payments/stripe-webhooks", s.handleStripeWebhook)

	api := r.Group("/", s.limiter.middleware(), requireAuth(s.tokens))
	manager := requireRole(auth.RoleManager)
	vendor := requireRole(auth.RoleVendor)

	api.GET("/work-orders/:id", s.handleGetWorkOrder)
	api.POST("/work-orders/:id/quote", vendor, s.handleSubmitQuote)
	api.GET("/work-orders/:id/quotes", manager, s.handleListQuotes)
	api.POST("/quotes/:id/approve", manager, s.handleApproveQuote)
	api.POST("/quotes/:id/reject", manager, s.handleRejectQuote)
	api.POST("/work-orders/:id/decline", vendor, s.handleDecline)
	api.POST("/work-orders/:id/accept", vendor, s.handleAccept)
	api.PUT("/work-orders/:id/status", manager, s.handleSetStatus)

	if s.documents != nil {
		api.POST("/work-orders/:id/invoice", vendor, s.handleAttachInvoice)
		api.GET("/maintenance-requests/:id/invoices", manager, s.handleListInvoices)
	}

	api.POST("/vendor-payments/payout", manager, s.handlePayout)
	api.GET("/vendor-payments/history/:vendorId", requireRole(auth.RoleManager, auth.RoleVendor), s.handlePaymentHistory)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
