package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agencyhq/backend/internal/metrics"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/services/ledger"
	"github.com/agencyhq/backend/internal/services/referral"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount       = errors.New("withdrawal amount must be positive")
	ErrBelowMinimum        = errors.New("withdrawal amount is below the minimum")
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrInvalidPayment      = errors.New("payment method and details are required")
	ErrNotFound            = errors.New("withdrawal request not found")
	ErrInvalidState        = errors.New("withdrawal request cannot make this transition")
	ErrInvalidDecision     = errors.New("decision must be approve, complete or reject")
)

// Decision is an admin action on a pending request
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionComplete Decision = "complete"
	DecisionReject   Decision = "reject"
)

// Notifier is told about decisions after they commit
type Notifier interface {
	WithdrawalProcessed(ctx context.Context, request *models.WithdrawalRequest)
}

// RequestInput is a referrer's payout request
type RequestInput struct {
	UserID         uuid.UUID
	Amount         models.Money
	PaymentMethod  string
	PaymentDetails map[string]interface{}
}

// WithdrawalService turns referral balance into payouts.
// pending reserves the amount; approve or complete debits it; reject releases it.
type WithdrawalService struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	referral *referral.Engine
	audit    *audit.Logger
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewWithdrawalService creates a new withdrawal service
func NewWithdrawalService(db *gorm.DB, l *ledger.Ledger, engine *referral.Engine, auditLogger *audit.Logger, log *zap.Logger) *WithdrawalService {
	if log == nil {
		log = zap.NewNop()
	}
	return &WithdrawalService{
		db:       db,
		ledger:   l,
		referral: engine,
		audit:    auditLogger,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier registers the post-commit notifier
func (s *WithdrawalService) SetNotifier(n Notifier) {
	s.notifier = n
}

// RequestWithdrawal reserves amount from the available balance and opens a
// pending request. Concurrent requests can never reserve more than is available.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, in RequestInput) (*models.WithdrawalRequest, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	method := strings.TrimSpace(in.PaymentMethod)
	if method == "" || len(in.PaymentDetails) == 0 {
		return nil, ErrInvalidPayment
	}

	var req models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.referral.SettingsTx(ctx, tx)
		if err != nil {
			return err
		}
		if in.Amount < settings.MinimumWithdrawal {
			return fmt.Errorf("%w of %d", ErrBelowMinimum, settings.MinimumWithdrawal)
		}

		if err := s.ledger.WithTx(tx).Reserve(ctx, in.UserID, in.Amount); err != nil {
			return err
		}

		req = models.WithdrawalRequest{
			UserID:         in.UserID,
			Amount:         in.Amount,
			PaymentMethod:  method,
			PaymentDetails: datatypes.JSONMap(in.PaymentDetails),
			Status:         models.WithdrawalStatusPending,
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrBelowMinimum) {
			result = "rejected_input"
		}
		metrics.WithdrawalRequests.WithLabelValues(result).Inc()
		return nil, err
	}

	metrics.WithdrawalRequests.WithLabelValues("requested").Inc()
	s.log.Info("withdrawal requested",
		zap.String("request_id", req.ID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.Int64("amount", in.Amount))
	s.audit.Record(ctx, audit.Event{
		Type:        audit.EventTypeWithdrawal,
		Severity:    audit.SeverityInfo,
		Description: "Withdrawal requested",
		UserID:      &in.UserID,
		TargetID:    &req.ID,
		Success:     true,
		Metadata:    map[string]interface{}{"amount": in.Amount, "payment_method": method},
	})
	return &req, nil
}

// ProcessWithdrawal applies an admin decision to a pending request
func (s *WithdrawalService) ProcessWithdrawal(ctx context.Context, requestID, adminID uuid.UUID, decision Decision, notes string) (*models.WithdrawalRequest, error) {
	var to models.WithdrawalStatus
	switch decision {
	case DecisionApprove:
		to = models.WithdrawalStatusApproved
	case DecisionComplete:
		to = models.WithdrawalStatusCompleted
	case DecisionReject:
		to = models.WithdrawalStatusRejected
	default:
		return nil, ErrInvalidDecision
	}
	return s.transition(ctx, requestID, adminID, models.WithdrawalStatusPending, to, notes)
}

// CompleteWithdrawal marks an approved request as paid out. The ledger was
// already debited on approval.
func (s *WithdrawalService) CompleteWithdrawal(ctx context.Context, requestID, adminID uuid.UUID, notes string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, requestID, adminID, models.WithdrawalStatusApproved, models.WithdrawalStatusCompleted, notes)
}

func (s *WithdrawalService) transition(ctx context.Context, requestID, adminID uuid.UUID, from, to models.WithdrawalStatus, notes string) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", requestID).First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if req.Status != from {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, req.Status, to)
		}

		now := s.now()
		updates := map[string]interface{}{
			"status":       to,
			"processed_by": adminID,
		}
		if notes != "" {
			updates["admin_notes"] = notes
		}
		if from == models.WithdrawalStatusPending {
			updates["processed_at"] = now
		}
		if to == models.WithdrawalStatusCompleted {
			updates["completed_at"] = now
		}

		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", requestID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: request changed concurrently", ErrInvalidState)
		}

		l := s.ledger.WithTx(tx)
		switch {
		case from == models.WithdrawalStatusPending && to == models.WithdrawalStatusRejected:
			if err := l.ReleaseReservation(ctx, req.UserID, req.Amount); err != nil {
				return err
			}
		case from == models.WithdrawalStatusPending:
			if err := l.ConsumeReservation(ctx, req.UserID, req.Amount); err != nil {
				return err
			}
		}
		if to == models.WithdrawalStatusCompleted {
			if _, err := s.referral.MarkPaid(ctx, tx, req.UserID); err != nil {
				return err
			}
		}

		return tx.Where("id = ?", requestID).First(&req).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalRequests.WithLabelValues(string(to)).Inc()
	s.log.Info("withdrawal processed",
		zap.String("request_id", req.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("admin_id", adminID.String()))
	s.audit.Record(ctx, audit.Event{
		Type:        audit.EventTypeWithdrawal,
		Severity:    audit.SeverityInfo,
		Description: fmt.Sprintf("Withdrawal %s", to),
		UserID:      &adminID,
		TargetID:    &req.ID,
		Success:     true,
		Metadata:    map[string]interface{}{"amount": req.Amount, "owner_id": req.UserID.String()},
	})
	if s.notifier != nil {
		s.notifier.WithdrawalProcessed(ctx, &req)
	}
	return &req, nil
}

// GetWithdrawal loads a single request
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.db.WithContext(ctx).Where("id = ?", requestID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading withdrawal: %w", err)
	}
	return &req, nil
}

// ListUserWithdrawals returns the requests of userID, newest first
func (s *WithdrawalService) ListUserWithdrawals(ctx context.Context, userID uuid.UUID) ([]models.WithdrawalRequest, error) {
	var reqs []models.WithdrawalRequest
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("error listing withdrawals: %w", err)
	}
	return reqs, nil
}

// ListByStatus returns requests for the admin queue. An empty status lists all.
func (s *WithdrawalService) ListByStatus(ctx context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at ASC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reqs []models.WithdrawalRequest
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("error listing withdrawals: %w", err)
	}
	return reqs, nil
}
