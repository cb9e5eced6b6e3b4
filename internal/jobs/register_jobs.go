package jobs

import (
	"context"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/queue"
	"github.com/agencyhq/backend/internal/services/order"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	QueueOrderPaidNotification  = "order_paid_notification"
	QueueWithdrawalNotification = "withdrawal_processed_notification"
	QueuePaymentReconcile       = "payment_reconcile"
)

// Mailer sends the transactional emails
type Mailer interface {
	Enabled() bool
	SendOrderPaid(toEmail, name string, order *models.Order) error
	SendWithdrawalProcessed(toEmail, name string, req *models.WithdrawalRequest) error
}

// Reconciler re-checks a payment reference with the gateway
type Reconciler interface {
	ReconcilePayment(ctx context.Context, reference string) (*order.ConfirmResult, error)
}

// RegisterAllJobHandlers registers all job handlers with the processor
func RegisterAllJobHandlers(p *queue.JobProcessor, db *gorm.DB, mailer Mailer, reconciler Reconciler, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	notifications := NewNotificationJob(db, mailer, log)
	p.RegisterHandler(QueueOrderPaidNotification, notifications.HandleOrderPaid)
	p.RegisterHandler(QueueWithdrawalNotification, notifications.HandleWithdrawalProcessed)

	reconcile := NewReconcileJob(reconciler, log)
	p.RegisterHandler(QueuePaymentReconcile, reconcile.Handle)
}
