package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/agencyhq/backend/internal/middleware"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/services/order"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/services/project"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderHandler handles order and project requests for signed-in users
type OrderHandler struct {
	orders   *order.OrderService
	catalog  *catalog.CatalogService
	projects *project.ProjectService
	log      *zap.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *order.OrderService, catalogService *catalog.CatalogService, projects *project.ProjectService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		catalog:  catalogService,
		projects: projects,
		log:      handlerLogger(log, "orders"),
	}
}

// CreateOrderRequest creates an order either from a checkout session or
// from a selection submitted directly
type CreateOrderRequest struct {
	SessionToken      string              `json:"session_token"`
	ServiceID         uuid.UUID           `json:"service_id"`
	AddOnIDs          []uuid.UUID         `json:"add_on_ids"`
	Contact           *models.ContactData `json:"contact"`
	TotalPrice        models.Money        `json:"total_price"`
	InitializePayment bool                `json:"initialize_payment"`
}

// CreateOrder creates a pending order and optionally starts payment
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var (
		o   *models.Order
		err error
	)
	switch {
	case req.SessionToken != "":
		o, err = h.orders.CreateOrderFromSession(ctx, userID, req.SessionToken)
	case req.ServiceID != uuid.Nil:
		if req.Contact == nil {
			respondError(c, h.log, order.ErrInvalidContact)
			return
		}
		service, addOns, qerr := h.catalog.Quote(ctx, req.ServiceID, req.AddOnIDs)
		if qerr != nil {
			respondError(c, h.log, qerr)
			return
		}
		o, err = h.orders.CreateOrder(ctx, order.CreateOrderInput{
			UserID:     userID,
			Service:    service,
			Contact:    *req.Contact,
			AddOns:     addOns,
			TotalPrice: req.TotalPrice,
		})
	default:
		badRequest(c, "session_token or service_id is required")
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	resp := gin.H{
		"status": "success",
		"order":  o,
	}
	if req.InitializePayment {
		// The order stands even when the gateway fails; the client retries via /pay
		initialized, perr := h.orders.InitializePayment(ctx, o.ID, userID)
		if perr != nil {
			h.log.Warn("payment initialization after order creation failed",
				zap.String("order_id", o.ID.String()), zap.Error(perr))
			resp["payment_error"] = perr.Error()
			resp["retryable"] = errors.Is(perr, payment.ErrGatewayUnavailable)
		} else {
			resp["order"] = initialized
			resp["payment_url"] = initialized.PaymentURL
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// ListOrders lists the user's orders, newest first
func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	orders, err := h.orders.ListUserOrders(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"orders": orders,
	})
}

// GetOrder returns one order owned by the user
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(c.Request.Context(), orderID, userID, middleware.IsAdmin(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"order":  o,
	})
}

// InitializePayment issues the first payment link for a pending order
func (h *OrderHandler) InitializePayment(c *gin.Context) {
	h.issuePayment(c, h.orders.InitializePayment)
}

// ReactivatePayment replaces the payment link of a pending order
func (h *OrderHandler) ReactivatePayment(c *gin.Context) {
	h.issuePayment(c, h.orders.ReactivatePayment)
}

func (h *OrderHandler) issuePayment(c *gin.Context, issue func(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	o, err := issue(c.Request.Context(), orderID, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"order":       o,
		"reference":   o.Reference(),
		"payment_url": o.PaymentURL,
	})
}

// CancelOrder cancels a pending order. DELETE is an alias; orders are never
// removed.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	o, err := h.orders.CancelOrder(c.Request.Context(), orderID, userID, middleware.IsAdmin(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"order":  o,
	})
}

// ListProjects lists the projects provisioned for the user's paid orders
func (h *OrderHandler) ListProjects(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	projects, err := h.projects.ListUserProjects(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"projects": projects,
	})
}
