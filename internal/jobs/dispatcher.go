package jobs

import (
	"context"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderPaidPayload is the payload of an order paid notification
type OrderPaidPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

// WithdrawalPayload is the payload of a withdrawal notification
type WithdrawalPayload struct {
	RequestID uuid.UUID `json:"request_id"`
}

// ReconcilePayload is the payload of a payment reconciliation job
type ReconcilePayload struct {
	Reference string `json:"reference"`
}

// Enqueuer is the part of the queue the dispatcher needs
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...queue.EnqueueOption) (string, error)
}

// Dispatcher turns committed domain events into background jobs. A failed
// enqueue is logged and never fails the request that caused it.
type Dispatcher struct {
	q   Enqueuer
	log *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(q Enqueuer, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{q: q, log: log}
}

// OrderPaid queues the payment confirmation email
func (d *Dispatcher) OrderPaid(ctx context.Context, o *models.Order) {
	d.enqueue(ctx, QueueOrderPaidNotification, OrderPaidPayload{OrderID: o.ID})
}

// WithdrawalProcessed queues the decision email
func (d *Dispatcher) WithdrawalProcessed(ctx context.Context, req *models.WithdrawalRequest) {
	d.enqueue(ctx, QueueWithdrawalNotification, WithdrawalPayload{RequestID: req.ID})
}

// Reconcile queues a gateway status check for reference
func (d *Dispatcher) Reconcile(ctx context.Context, reference string) error {
	_, err := d.q.Enqueue(context.WithoutCancel(ctx), QueuePaymentReconcile, ReconcilePayload{Reference: reference})
	return err
}

func (d *Dispatcher) enqueue(ctx context.Context, queueName string, payload interface{}) {
	if _, err := d.q.Enqueue(context.WithoutCancel(ctx), queueName, payload); err != nil {
		d.log.Error("failed to enqueue job", zap.String("queue", queueName), zap.Any("payload", payload), zap.Error(err))
	}
}
