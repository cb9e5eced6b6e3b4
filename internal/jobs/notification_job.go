package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotificationJob sends the emails queued by the dispatcher
type NotificationJob struct {
	db     *gorm.DB
	mailer Mailer
	log    *zap.Logger
}

// NewNotificationJob creates a new notification job handler
func NewNotificationJob(db *gorm.DB, mailer Mailer, log *zap.Logger) *NotificationJob {
	return &NotificationJob{db: db, mailer: mailer, log: log}
}

// HandleOrderPaid emails the client of a paid order
func (j *NotificationJob) HandleOrderPaid(ctx context.Context, job *queue.Job) error {
	var payload OrderPaidPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	var o models.Order
	if err := j.db.WithContext(ctx).Where("id = ?", payload.OrderID).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			j.log.Warn("order for notification not found", zap.String("order_id", payload.OrderID.String()))
			return nil
		}
		return err
	}

	email, name := o.ContactSnapshot.Data().Email, o.ContactSnapshot.Data().FullName
	if email == "" {
		user, err := j.user(ctx, o.UserID.String())
		if err != nil {
			return err
		}
		email, name = user.Email, user.Name
	}

	if !j.mailer.Enabled() {
		j.log.Info("email disabled, skipping order paid notification", zap.String("order_id", o.ID.String()))
		return nil
	}
	return j.mailer.SendOrderPaid(email, name, &o)
}

// HandleWithdrawalProcessed emails a referrer about a withdrawal decision
func (j *NotificationJob) HandleWithdrawalProcessed(ctx context.Context, job *queue.Job) error {
	var payload WithdrawalPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	var req models.WithdrawalRequest
	if err := j.db.WithContext(ctx).Where("id = ?", payload.RequestID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			j.log.Warn("withdrawal for notification not found", zap.String("request_id", payload.RequestID.String()))
			return nil
		}
		return err
	}

	user, err := j.user(ctx, req.UserID.String())
	if err != nil {
		return err
	}

	if !j.mailer.Enabled() {
		j.log.Info("email disabled, skipping withdrawal notification", zap.String("request_id", req.ID.String()))
		return nil
	}
	return j.mailer.SendWithdrawalProcessed(user.Email, user.Name, &req)
}

func (j *NotificationJob) user(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := j.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, fmt.Errorf("error loading user %s: %w", id, err)
	}
	return &user, nil
}
