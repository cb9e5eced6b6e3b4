package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/agencyhq/backend/internal/middleware"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/services/checkout"
	"github.com/agencyhq/backend/internal/services/ledger"
	"github.com/agencyhq/backend/internal/services/order"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/services/referral"
	"github.com/agencyhq/backend/internal/services/withdrawal"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{catalog.ErrPriceMismatch, http.StatusBadRequest},
	{catalog.ErrInvalidService, http.StatusBadRequest},
	{checkout.ErrInvalidContact, http.StatusBadRequest},
	{order.ErrInvalidContact, http.StatusBadRequest},
	{withdrawal.ErrBelowMinimum, http.StatusBadRequest},
	{withdrawal.ErrInvalidAmount, http.StatusBadRequest},
	{withdrawal.ErrInvalidPayment, http.StatusBadRequest},
	{withdrawal.ErrInvalidDecision, http.StatusBadRequest},
	{ledger.ErrInsufficientBalance, http.StatusBadRequest},
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{referral.ErrInvalidCode, http.StatusBadRequest},
	{referral.ErrSelfReferral, http.StatusBadRequest},
	{referral.ErrInvalidSettings, http.StatusBadRequest},

	{checkout.ErrNotFound, http.StatusNotFound},
	{order.ErrNotFound, http.StatusNotFound},
	{order.ErrUnknownReference, http.StatusNotFound},
	{withdrawal.ErrNotFound, http.StatusNotFound},
	{referral.ErrUserNotFound, http.StatusNotFound},

	{checkout.ErrExpired, http.StatusGone},

	{order.ErrForbidden, http.StatusForbidden},

	{order.ErrInvalidState, http.StatusConflict},
	{order.ErrPaymentInProgress, http.StatusConflict},
	{order.ErrStaleCallback, http.StatusConflict},
	{checkout.ErrAlreadyCompleted, http.StatusConflict},
	{checkout.ErrConflict, http.StatusConflict},
	{withdrawal.ErrInvalidState, http.StatusConflict},
	{referral.ErrAlreadyReferred, http.StatusConflict},

	{order.ErrAmountMismatch, http.StatusUnprocessableEntity},
	{order.ErrTooManyAttempts, http.StatusTooManyRequests},
	{payment.ErrGatewayRejected, http.StatusBadGateway},
	{payment.ErrGatewayUnavailable, http.StatusServiceUnavailable},
}

// statusFor maps a service error to its HTTP status
func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body for err. Unmapped errors are
// logged and hidden behind a generic message.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	_ = c.Error(err)
	status := statusFor(err)

	body := gin.H{"error": err.Error()}
	switch status {
	case http.StatusInternalServerError:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body["error"] = "internal server error"
	case http.StatusTooManyRequests:
		var cooldown *order.CooldownError
		if errors.As(err, &cooldown) {
			seconds := cooldown.RetryAfterSeconds()
			c.Header("Retry-After", strconv.Itoa(seconds))
			body["retry_after_seconds"] = seconds
		}
	case http.StatusServiceUnavailable:
		log.Warn("payment gateway unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		body["error"] = "payment gateway is temporarily unavailable, please try again"
		body["retryable"] = true
	case http.StatusBadGateway:
		log.Warn("payment gateway rejected request", zap.Error(err))
	}

	c.JSON(status, body)
}

// badRequest reports a malformed request body or parameter
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

// paramUUID parses a UUID path parameter, writing a 400 when it is malformed
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// currentUser returns the authenticated user or writes a 401
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, false
	}
	return userID, true
}

func handlerLogger(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return log.Named(name)
}
