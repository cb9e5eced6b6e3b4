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
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome is what a confirmation did to the order
type Outcome string

const (
	OutcomeConfirmed    Outcome = "confirmed"
	OutcomeAlreadyPaid  Outcome = "already_paid"
	OutcomeStillPending Outcome = "still_pending"
)

// Confirmation is the gateway's verdict on a reference. Amount is in minor
// units; zero means the source did not report one.
type Confirmation struct {
	Reference string
	Status    payment.Status
	Amount    models.Money
	Source    string
}

// ConfirmResult is returned by ConfirmPayment
type ConfirmResult struct {
	Outcome  Outcome
	Order    *models.Order
	Project  *models.Project
	Referral *models.Referral
}

// ConfirmPayment is the only path from pending to paid. It may be called any
// number of times for the same reference: the order is marked paid, its
// project provisioned and the referral commission credited exactly once.
func (s *OrderService) ConfirmPayment(ctx context.Context, c Confirmation) (*ConfirmResult, error) {
	if c.Reference == "" {
		return nil, ErrUnknownReference
	}
	log := s.log.With(zap.String("reference", c.Reference), zap.String("source", c.Source))

	o, attempt, err := s.findByReference(ctx, c.Reference)
	if err != nil {
		if errors.Is(err, ErrUnknownReference) {
			log.Warn("payment callback for unknown reference")
		}
		return nil, err
	}

	switch {
	case o.Status == models.OrderStatusPaid:
		if o.Reference() != c.Reference && c.Status == payment.StatusSuccess {
			// A second reference was charged for an already paid order
			s.auditStale(ctx, o, c, "Payment succeeded on a superseded reference of a paid order", audit.SeverityError)
		}
		return &ConfirmResult{Outcome: OutcomeAlreadyPaid, Order: o}, nil
	case o.Status == models.OrderStatusCancelled:
		s.auditStale(ctx, o, c, "Payment callback for a cancelled order", severityFor(c.Status))
		log.Warn("stale payment callback: order cancelled", zap.String("order_id", o.ID.String()))
		return nil, ErrStaleCallback
	case o.Reference() != c.Reference || (attempt != nil && attempt.Status == models.PaymentAttemptSuperseded):
		s.auditStale(ctx, o, c, "Payment callback for a superseded reference", severityFor(c.Status))
		log.Warn("stale payment callback: reference superseded", zap.String("order_id", o.ID.String()))
		return nil, ErrStaleCallback
	}

	switch c.Status {
	case payment.StatusSuccess:
	case payment.StatusFailed:
		if err := s.markAttempt(ctx, c.Reference, models.PaymentAttemptFailed); err != nil {
			return nil, err
		}
		log.Info("payment failed, order stays pending", zap.String("order_id", o.ID.String()))
		return &ConfirmResult{Outcome: OutcomeStillPending, Order: o}, nil
	default:
		return &ConfirmResult{Outcome: OutcomeStillPending, Order: o}, nil
	}

	if c.Amount != 0 && c.Amount != o.TotalPrice {
		s.audit.Record(ctx, audit.Event{
			Type:        audit.EventTypeIntegrity,
			Severity:    audit.SeverityCritical,
			Description: "Paid amount does not match order total",
			UserID:      &o.UserID,
			TargetID:    &o.ID,
			Success:     false,
			Metadata: map[string]interface{}{
				"reference": c.Reference,
				"expected":  o.TotalPrice,
				"paid":      c.Amount,
				"source":    c.Source,
			},
		})
		log.Error("paid amount does not match order total",
			zap.String("order_id", o.ID.String()),
			zap.Int64("expected", o.TotalPrice),
			zap.Int64("paid", c.Amount))
		return nil, fmt.Errorf("%w: expected %d, paid %d", ErrAmountMismatch, o.TotalPrice, c.Amount)
	}

	result := &ConfirmResult{Outcome: OutcomeConfirmed}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.stamp()
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND payment_reference = ?", o.ID, models.OrderStatusPending, c.Reference).
			Updates(map[string]interface{}{"status": models.OrderStatusPaid, "paid_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}

		err := tx.Model(&models.PaymentAttempt{}).
			Where("reference = ?", c.Reference).
			Update("status", models.PaymentAttemptSucceeded).Error
		if err != nil {
			return err
		}

		paid, err := s.load(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		result.Order = paid

		if s.provisioner != nil {
			if result.Project, err = s.provisioner.ProvisionProject(ctx, tx, paid); err != nil {
				return err
			}
		}
		if s.commissions != nil {
			if result.Referral, err = s.commissions.OnOrderPaid(ctx, tx, paid); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		// Another confirmation or a cancel committed first
		return s.ConfirmPayment(ctx, c)
	}
	if err != nil {
		log.Error("payment confirmation failed", zap.String("order_id", o.ID.String()), zap.Error(err))
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusPaid)).Inc()
	log.Info("order paid",
		zap.String("order_id", o.ID.String()),
		zap.Int64("amount", o.TotalPrice))
	s.audit.Record(ctx, audit.Event{
		Type:        audit.EventTypePayment,
		Severity:    audit.SeverityInfo,
		Description: "Order paid",
		UserID:      &o.UserID,
		TargetID:    &o.ID,
		Success:     true,
		Metadata:    map[string]interface{}{"reference": c.Reference, "amount": o.TotalPrice, "source": c.Source},
	})
	if s.notifier != nil {
		s.notifier.OrderPaid(ctx, result.Order)
	}
	return result, nil
}

var errLostRace = errors.New("order changed during confirmation")

// ReconcilePayment asks the gateway for the status of reference and applies it
func (s *OrderService) ReconcilePayment(ctx context.Context, reference string) (*ConfirmResult, error) {
	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.ConfirmPayment(ctx, Confirmation{
		Reference: reference,
		Status:    v.Status,
		Amount:    v.Amount,
		Source:    "reconcile",
	})
}

// StalePendingReferences lists live references of pending orders issued
// more than olderThan ago but within the last day
func (s *OrderService) StalePendingReferences(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	now := s.now()
	var refs []string
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("status = ? AND payment_reference IS NOT NULL", models.OrderStatusPending).
		Where("last_payment_attempt_at <= ? AND last_payment_attempt_at > ?", now.Add(-olderThan), now.Add(-24*time.Hour)).
		Order("last_payment_attempt_at ASC").
		Limit(limit).
		Pluck("payment_reference", &refs).Error
	if err != nil {
		return nil, fmt.Errorf("error listing pending references: %w", err)
	}
	return refs, nil
}

// OrderForReference resolves any reference ever issued for an order,
// including superseded ones
func (s *OrderService) OrderForReference(ctx context.Context, reference string) (*models.Order, error) {
	o, _, err := s.findByReference(ctx, reference)
	return o, err
}

// findByReference resolves a reference through the attempt history, falling
// back to the order's current reference
func (s *OrderService) findByReference(ctx context.Context, reference string) (*models.Order, *models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&attempt).Error
	switch {
	case err == nil:
		o, err := s.load(ctx, s.db, attempt.OrderID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrUnknownReference
		}
		return o, &attempt, err
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil, fmt.Errorf("error loading payment attempt: %w", err)
	}

	o, err := s.GetByReference(ctx, reference)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrUnknownReference
	}
	return o, nil, err
}

func (s *OrderService) markAttempt(ctx context.Context, reference string, status models.PaymentAttemptStatus) error {
	err := s.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("reference = ? AND status = ?", reference, models.PaymentAttemptInitialized).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("error updating payment attempt: %w", err)
	}
	return nil
}

func (s *OrderService) auditStale(ctx context.Context, o *models.Order, c Confirmation, description string, severity audit.EventSeverity) {
	s.audit.Record(ctx, audit.Event{
		Type:        audit.EventTypePayment,
		Severity:    severity,
		Description: description,
		UserID:      &o.UserID,
		TargetID:    &o.ID,
		Success:     false,
		Metadata: map[string]interface{}{
			"reference":         c.Reference,
			"current_reference": o.Reference(),
			"gateway_status":    string(c.Status),
			"order_status":      string(o.Status),
			"source":            c.Source,
		},
	})
}

// severityFor escalates stale callbacks that carried money
func severityFor(status payment.Status) audit.EventSeverity {
	if status == payment.StatusSuccess {
		return audit.SeverityError
	}
	return audit.SeverityWarning
}
