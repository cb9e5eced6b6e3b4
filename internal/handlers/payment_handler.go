package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/agencyhq/backend/internal/metrics"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/services/order"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the raw body read before signature verification
const maxWebhookBody = 1 << 20

// Reconciler queues a gateway lookup for a reference
type Reconciler interface {
	Reconcile(ctx context.Context, reference string) error
}

// PaymentHandler handles gateway webhooks and the post-payment redirect
type PaymentHandler struct {
	payments   *payment.PaymentService
	orders     *order.OrderService
	webhooks   *payment.WebhookLog
	audit      *audit.Logger
	reconciler Reconciler
	log        *zap.Logger
}

// NewPaymentHandler creates a new payment handler. reconciler may be nil.
func NewPaymentHandler(
	payments *payment.PaymentService,
	orders *order.OrderService,
	webhooks *payment.WebhookLog,
	auditLogger *audit.Logger,
	reconciler Reconciler,
	log *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		payments:   payments,
		orders:     orders,
		webhooks:   webhooks,
		audit:      auditLogger,
		reconciler: reconciler,
		log:        handlerLogger(log, "payments"),
	}
}

// PaystackWebhook handles webhooks from Paystack
func (h *PaymentHandler) PaystackWebhook(c *gin.Context) {
	h.processWebhook(c, models.PaymentProviderPaystack)
}

func (h *PaymentHandler) processWebhook(c *gin.Context, name models.PaymentProvider) {
	ctx := c.Request.Context()
	log := h.log.With(zap.String("provider", string(name)))

	provider, err := h.payments.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment provider"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}

	if !provider.VerifySignature(body, c.GetHeader(provider.SignatureHeader())) {
		metrics.WebhookEvents.WithLabelValues(string(name), string(models.WebhookOutcomeRejected)).Inc()
		log.Error("webhook signature verification failed", zap.String("ip", c.ClientIP()))
		h.audit.Record(ctx, audit.Event{
			Type:        audit.EventTypeIntegrity,
			Severity:    audit.SeverityCritical,
			Description: "Webhook signature verification failed",
			Success:     false,
			Metadata:    map[string]interface{}{"provider": name, "body_bytes": len(body)},
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := provider.ParseWebhook(body)
	if err != nil {
		log.Warn("malformed webhook payload", zap.Error(err))
		badRequest(c, "invalid webhook payload")
		return
	}
	log = log.With(zap.String("event", event.Event), zap.String("reference", event.Reference))

	hook, err := h.webhooks.Record(ctx, name, event)
	if err != nil {
		// Non-2xx makes the gateway redeliver
		log.Error("failed to store webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if !event.Actionable {
		h.finishWebhook(c, log, name, hook, models.WebhookOutcomeIgnored, nil)
		return
	}

	result, err := h.orders.ConfirmPayment(ctx, order.Confirmation{
		Reference: event.Reference,
		Status:    event.Status,
		Amount:    event.Amount,
		Source:    "webhook",
	})
	switch {
	case err == nil:
		h.finishWebhook(c, log, name, hook, models.WebhookOutcome(result.Outcome), nil)
	case errors.Is(err, order.ErrUnknownReference):
		h.finishWebhook(c, log, name, hook, models.WebhookOutcomeUnknown, nil)
	case errors.Is(err, order.ErrStaleCallback):
		h.finishWebhook(c, log, name, hook, models.WebhookOutcomeStale, nil)
	case errors.Is(err, order.ErrAmountMismatch):
		h.markProcessed(ctx, log, hook, models.WebhookOutcomeRejected, err)
		metrics.WebhookEvents.WithLabelValues(string(name), string(models.WebhookOutcomeRejected)).Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "outcome": models.WebhookOutcomeRejected})
	default:
		h.markProcessed(ctx, log, hook, "", err)
		log.Error("webhook processing failed", zap.Error(err))
		respondError(c, h.log, err)
	}
}

func (h *PaymentHandler) finishWebhook(c *gin.Context, log *zap.Logger, name models.PaymentProvider, hook *models.PaymentWebhook, outcome models.WebhookOutcome, procErr error) {
	h.markProcessed(c.Request.Context(), log, hook, outcome, procErr)
	metrics.WebhookEvents.WithLabelValues(string(name), string(outcome)).Inc()
	log.Info("webhook processed", zap.String("outcome", string(outcome)))

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"outcome": outcome,
	})
}

// markProcessed stores the outcome on the webhook row. A storage failure is
// logged only; the order side effects have already been applied.
func (h *PaymentHandler) markProcessed(ctx context.Context, log *zap.Logger, hook *models.PaymentWebhook, outcome models.WebhookOutcome, procErr error) {
	if err := h.webhooks.MarkProcessed(ctx, hook.ID, outcome, procErr); err != nil {
		log.Warn("failed to mark webhook processed", zap.Error(err))
	}
}

// PaymentSuccess reports the state of the order behind a gateway redirect.
// It never changes the order; a pending order gets a reconciliation queued.
func (h *PaymentHandler) PaymentSuccess(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		reference = c.Query("trxref")
	}
	if reference == "" {
		badRequest(c, "reference is required")
		return
	}

	ctx := c.Request.Context()
	o, err := h.orders.OrderForReference(ctx, reference)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	current := o.Reference() == reference
	if o.Status == models.OrderStatusPending && current && h.reconciler != nil {
		if err := h.reconciler.Reconcile(ctx, reference); err != nil {
			h.log.Warn("failed to queue reconciliation", zap.String("reference", reference), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"order_id":     o.ID,
		"order_status": o.Status,
		"service":      o.ServiceSnapshot.Data().Name,
		"total_price":  o.TotalPrice,
		"currency":     o.Currency,
		"paid_at":      o.PaidAt,
		"superseded":   !current,
	})
}
