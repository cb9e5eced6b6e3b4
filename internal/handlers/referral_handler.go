package handlers

import (
	"net/http"
	"strconv"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/services/referral"
	"github.com/agencyhq/backend/internal/services/withdrawal"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReferralHandler handles referral codes, earnings and withdrawals
type ReferralHandler struct {
	engine      *referral.Engine
	withdrawals *withdrawal.WithdrawalService
	log         *zap.Logger
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(engine *referral.Engine, withdrawals *withdrawal.WithdrawalService, log *zap.Logger) *ReferralHandler {
	return &ReferralHandler{
		engine:      engine,
		withdrawals: withdrawals,
		log:         handlerLogger(log, "referral"),
	}
}

// GenerateCode returns the user's referral code, creating it on first use
func (h *ReferralHandler) GenerateCode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	code, err := h.engine.GenerateCode(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"referral_code": code,
	})
}

// ApplyCodeRequest carries another user's referral code
type ApplyCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// ApplyCode records who referred the user
func (h *ReferralHandler) ApplyCode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ApplyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.engine.ApplyCode(c.Request.Context(), userID, req.Code); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// MyData returns the referral dashboard
func (h *ReferralHandler) MyData(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	data, err := h.engine.MyData(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   data,
	})
}

// WithdrawalRequestBody is a payout request
type WithdrawalRequestBody struct {
	Amount         models.Money           `json:"amount" binding:"required"`
	PaymentMethod  string                 `json:"payment_method" binding:"required"`
	PaymentDetails map[string]interface{} `json:"payment_details" binding:"required"`
}

// RequestWithdrawal reserves earnings for a payout
func (h *ReferralHandler) RequestWithdrawal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req WithdrawalRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	w, err := h.withdrawals.RequestWithdrawal(c.Request.Context(), withdrawal.RequestInput{
		UserID:         userID,
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":     "success",
		"withdrawal": w,
	})
}

// ListWithdrawals lists the user's withdrawal requests
func (h *ReferralHandler) ListWithdrawals(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	list, err := h.withdrawals.ListUserWithdrawals(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"withdrawals": list,
	})
}

// AdminHandler handles the withdrawal queue, program settings and webhook
// history
type AdminHandler struct {
	engine      *referral.Engine
	withdrawals *withdrawal.WithdrawalService
	webhooks    *payment.WebhookLog
	log         *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(engine *referral.Engine, withdrawals *withdrawal.WithdrawalService, webhooks *payment.WebhookLog, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		engine:      engine,
		withdrawals: withdrawals,
		webhooks:    webhooks,
		log:         handlerLogger(log, "admin"),
	}
}

// ListWithdrawals lists requests by status, pending by default
func (h *AdminHandler) ListWithdrawals(c *gin.Context) {
	status := models.WithdrawalStatus(c.DefaultQuery("status", string(models.WithdrawalStatusPending)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	list, err := h.withdrawals.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"withdrawals": list,
		"limit":       limit,
		"offset":      offset,
	})
}

// GetWithdrawal returns one withdrawal request
func (h *AdminHandler) GetWithdrawal(c *gin.Context) {
	requestID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	w, err := h.withdrawals.GetWithdrawal(c.Request.Context(), requestID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"withdrawal": w,
	})
}

// ListWebhooks lists every stored gateway delivery for a payment reference
func (h *AdminHandler) ListWebhooks(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		badRequest(c, "reference is required")
		return
	}

	hooks, err := h.webhooks.ForReference(c.Request.Context(), reference)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"webhooks": hooks,
	})
}

// ProcessWithdrawalRequest is an admin decision on a pending request
type ProcessWithdrawalRequest struct {
	Decision withdrawal.Decision `json:"decision" binding:"required"`
	Notes    string              `json:"notes"`
}

// ProcessWithdrawal approves, completes or rejects a pending request
func (h *AdminHandler) ProcessWithdrawal(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	requestID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req ProcessWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	w, err := h.withdrawals.ProcessWithdrawal(c.Request.Context(), requestID, adminID, req.Decision, req.Notes)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"withdrawal": w,
	})
}

// CompleteWithdrawalRequest carries optional payout notes
type CompleteWithdrawalRequest struct {
	Notes string `json:"notes"`
}

// CompleteWithdrawal marks an approved request as paid out
func (h *AdminHandler) CompleteWithdrawal(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	requestID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req CompleteWithdrawalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	w, err := h.withdrawals.CompleteWithdrawal(c.Request.Context(), requestID, adminID, req.Notes)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"withdrawal": w,
	})
}

// GetSettings returns the referral program settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.engine.GetSettings(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"settings": settings,
	})
}

// UpdateSettings changes the referral program settings
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var req referral.SettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	settings, err := h.engine.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"settings": settings,
	})
}
