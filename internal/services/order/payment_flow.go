package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencyhq/backend/internal/metrics"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InitializePayment issues the first payment link for a pending order, or a
// fresh one once the previous reference has outlived ReferenceTTL.
func (s *OrderService) InitializePayment(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	o, err := s.owned(ctx, orderID, userID, pendingOnly)
	if err != nil {
		return nil, err
	}

	stamp := s.stamp()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Where("(payment_reference IS NULL OR last_payment_attempt_at IS NULL OR last_payment_attempt_at <= ?)", stamp.Add(-s.cfg.ReferenceTTL)).
		Update("last_payment_attempt_at", stamp)
	if res.Error != nil {
		return nil, fmt.Errorf("error claiming payment attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.load(ctx, s.db, orderID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.OrderStatusPending {
			return nil, ErrInvalidState
		}
		return nil, ErrPaymentInProgress
	}

	return s.issueReference(ctx, o, pendingOnly, o.LastPaymentAttemptAt, stamp)
}

// ReactivatePayment replaces the order's payment link. A cancelled order is
// restarted: it returns to pending with the new reference, and every earlier
// reference stays stale. Calls closer together than ReactivateCooldown fail
// with *CooldownError.
func (s *OrderService) ReactivatePayment(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	o, err := s.owned(ctx, orderID, userID, restartable)
	if err != nil {
		return nil, err
	}

	stamp := s.stamp()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, restartable).
		Where("(last_payment_attempt_at IS NULL OR last_payment_attempt_at <= ?)", stamp.Add(-s.cfg.ReactivateCooldown)).
		Update("last_payment_attempt_at", stamp)
	if res.Error != nil {
		return nil, fmt.Errorf("error claiming payment attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.load(ctx, s.db, orderID)
		if err != nil {
			return nil, err
		}
		if !current.Status.In(restartable) {
			return nil, ErrInvalidState
		}
		retry := s.cfg.ReactivateCooldown
		if current.LastPaymentAttemptAt != nil {
			retry = current.LastPaymentAttemptAt.Add(s.cfg.ReactivateCooldown).Sub(stamp)
		}
		return nil, &CooldownError{RetryAfter: retry}
	}

	return s.issueReference(ctx, o, restartable, o.LastPaymentAttemptAt, stamp)
}

// issueReference asks the gateway for a new hosted page and makes it the
// order's only live reference, moving the order from one of the from
// statuses back to pending. The attempt slot claimed at stamp is given back
// if the gateway call fails.
func (s *OrderService) issueReference(ctx context.Context, o *models.Order, from []models.OrderStatus, prev *time.Time, stamp time.Time) (*models.Order, error) {
	reference, err := utils.OrderPaymentReference(o.ID)
	if err != nil {
		s.restoreAttempt(ctx, o.ID, prev, stamp)
		return nil, err
	}

	email, err := s.payerEmail(ctx, o)
	if err != nil {
		s.restoreAttempt(ctx, o.ID, prev, stamp)
		return nil, err
	}

	result, err := s.gateway.Initialize(ctx, payment.InitializeRequest{
		Reference:   reference,
		Email:       email,
		Amount:      o.TotalPrice,
		Currency:    o.Currency,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    map[string]string{"order_id": o.ID.String()},
	})
	if err != nil {
		s.restoreAttempt(ctx, o.ID, prev, stamp)
		s.log.Warn("payment initialization failed",
			zap.String("order_id", o.ID.String()),
			zap.Bool("retryable", errors.Is(err, payment.ErrGatewayUnavailable)),
			zap.Error(err))
		return nil, err
	}

	previous := o.Reference()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.PaymentAttempt{}).
			Where("order_id = ? AND status = ?", o.ID, models.PaymentAttemptInitialized).
			Update("status", models.PaymentAttemptSuperseded).Error
		if err != nil {
			return err
		}

		attempt := models.PaymentAttempt{
			OrderID:          o.ID,
			Reference:        reference,
			Provider:         s.gateway.Provider(),
			Amount:           o.TotalPrice,
			Status:           models.PaymentAttemptInitialized,
			AuthorizationURL: result.AuthorizationURL,
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status IN ?", o.ID, from).
			Updates(map[string]interface{}{
				"status":                  models.OrderStatusPending,
				"cancelled_at":            nil,
				"payment_reference":       reference,
				"payment_url":             result.AuthorizationURL,
				"last_payment_attempt_at": stamp,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	restarted := o.Status == models.OrderStatusCancelled
	description := "Payment reference issued"
	if restarted {
		description = "Cancelled order restarted with a new payment reference"
		metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusPending)).Inc()
	}

	s.log.Info("payment reference issued",
		zap.String("order_id", o.ID.String()),
		zap.String("reference", reference),
		zap.String("previous_reference", previous),
		zap.Bool("restarted", restarted))
	s.audit.Record(ctx, audit.Event{
		Type:        audit.EventTypePayment,
		Severity:    audit.SeverityInfo,
		Description: description,
		UserID:      &o.UserID,
		TargetID:    &o.ID,
		Success:     true,
		Metadata:    map[string]interface{}{"reference": reference, "previous_reference": previous},
	})
	return s.load(ctx, s.db, o.ID)
}

// restoreAttempt undoes a claimed attempt slot unless another request has
// claimed a newer one since
func (s *OrderService) restoreAttempt(ctx context.Context, orderID uuid.UUID, prev *time.Time, stamp time.Time) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.Order{}).
		Where("id = ? AND last_payment_attempt_at = ?", orderID, stamp).
		Update("last_payment_attempt_at", prev).Error
	if err != nil {
		s.log.Error("failed to restore payment attempt time", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

func (s *OrderService) payerEmail(ctx context.Context, o *models.Order) (string, error) {
	if email := o.ContactSnapshot.Data().Email; email != "" {
		return email, nil
	}
	var user models.User
	if err := s.db.WithContext(ctx).Select("email").Where("id = ?", o.UserID).First(&user).Error; err != nil {
		return "", fmt.Errorf("error loading payer email: %w", err)
	}
	return user.Email, nil
}

var (
	pendingOnly = []models.OrderStatus{models.OrderStatusPending}
	restartable = []models.OrderStatus{models.OrderStatusPending, models.OrderStatusCancelled}
)

// owned loads an order of userID whose status is one of allowed
func (s *OrderService) owned(ctx context.Context, orderID, userID uuid.UUID, allowed []models.OrderStatus) (*models.Order, error) {
	o, err := s.load(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	if !o.Status.In(allowed) {
		return nil, ErrInvalidState
	}
	return o, nil
}

// stamp is the current time at the precision databases keep
func (s *OrderService) stamp() time.Time {
	return s.now().Truncate(time.Microsecond)
}
