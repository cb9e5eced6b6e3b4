package handlers

import (
	"net/http"
	"time"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/services/checkout"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutHandler serves the catalog and anonymous checkout sessions
type CheckoutHandler struct {
	catalog  *catalog.CatalogService
	sessions *checkout.Store
	log      *zap.Logger
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(catalogService *catalog.CatalogService, sessions *checkout.Store, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		catalog:  catalogService,
		sessions: sessions,
		log:      handlerLogger(log, "checkout"),
	}
}

// ListServices returns the active catalog
func (h *CheckoutHandler) ListServices(c *gin.Context) {
	services, err := h.catalog.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"services": services,
	})
}

// CreateSessionRequest is a priced selection from an anonymous visitor
type CreateSessionRequest struct {
	ServiceID  uuid.UUID           `json:"service_id" binding:"required"`
	AddOnIDs   []uuid.UUID         `json:"add_on_ids"`
	TotalPrice models.Money        `json:"total_price" binding:"required,gt=0"`
	Contact    *models.ContactData `json:"contact"`
}

// sessionResponse is the public view of a checkout session
type sessionResponse struct {
	SessionToken string                 `json:"session_token"`
	ExpiresAt    time.Time              `json:"expires_at"`
	TotalPrice   models.Money           `json:"total_price"`
	Service      models.ServiceSnapshot `json:"service"`
	AddOns       []models.AddOnSnapshot `json:"add_ons"`
	Contact      *models.ContactData    `json:"contact,omitempty"`
	Claimed      bool                   `json:"claimed"`
}

func newSessionResponse(s *models.CheckoutSession) sessionResponse {
	resp := sessionResponse{
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
		TotalPrice:   s.TotalPrice,
		Service:      s.ServiceSnapshot.Data(),
		AddOns:       s.SelectedAddOns.Data(),
		Claimed:      s.UserID != nil,
	}
	if contact := s.ContactData.Data(); !contact.IsZero() {
		resp.Contact = &contact
	}
	return resp
}

// CreateSession prices the selection against the catalog and opens a session
func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	service, addOns, err := h.catalog.Quote(ctx, req.ServiceID, req.AddOnIDs)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	session, err := h.sessions.Create(ctx, checkout.CreateInput{
		Service:    service,
		AddOns:     addOns,
		TotalPrice: req.TotalPrice,
		Contact:    req.Contact,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, newSessionResponse(session))
}

// GetSession returns an open session
func (h *CheckoutHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if session.IsCompleted {
		respondError(c, h.log, checkout.ErrAlreadyCompleted)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(session))
}

// AttachContact stores the contact form on a session
func (h *CheckoutHandler) AttachContact(c *gin.Context) {
	var contact models.ContactData
	if err := c.ShouldBindJSON(&contact); err != nil {
		badRequest(c, err.Error())
		return
	}

	session, err := h.sessions.AttachContact(c.Request.Context(), c.Param("token"), contact)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(session))
}

// ClaimSession binds a session to the signed-in user
func (h *CheckoutHandler) ClaimSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.sessions.Claim(c.Request.Context(), c.Param("token"), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(session))
}
