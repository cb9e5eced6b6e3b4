// Package referral computes commissions for paid orders and manages
// referral codes and program settings.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agencyhq/backend/internal/metrics"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/ledger"
	"github.com/agencyhq/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidCode      = errors.New("referral code not found")
	ErrSelfReferral     = errors.New("cannot apply your own referral code")
	ErrAlreadyReferred  = errors.New("a referral code has already been applied")
	ErrInvalidSettings  = errors.New("invalid referral settings")
	ErrUserNotFound     = errors.New("user not found")
	errCodeGenExhausted = errors.New("could not generate a unique referral code")
)

const (
	codeLength       = 8
	codeAttempts     = 5
	confirmBatchSize = 500
)

var hundred = decimal.NewFromInt(100)

// Defaults seed the settings row when none exists
type Defaults struct {
	CommissionPercentage decimal.Decimal
	MinimumWithdrawal    models.Money
}

// Engine owns referral attribution and commission crediting
type Engine struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	defaults Defaults
	log      *zap.Logger
	now      func() time.Time
}

// NewEngine creates a referral engine
func NewEngine(db *gorm.DB, l *ledger.Ledger, defaults Defaults, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		db:       db,
		ledger:   l,
		defaults: defaults,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CalculateCommission is round_half_up(amount * percentage / 100) in minor units
func CalculateCommission(amount models.Money, percentage decimal.Decimal) models.Money {
	if amount <= 0 || !percentage.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percentage).Div(hundred).Round(0).IntPart()
}

// OnOrderPaid credits the referrer of the order's buyer. It must run inside
// the transaction that marks the order paid. A second call for the same
// order returns the existing referral without touching the ledger.
func (e *Engine) OnOrderPaid(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.Referral, error) {
	settings, err := e.settings(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !settings.IsActive {
		return nil, nil
	}

	var buyer models.User
	if err := tx.WithContext(ctx).Select("id", "referred_by").Where("id = ?", order.UserID).First(&buyer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error loading buyer: %w", err)
	}
	if buyer.ReferredBy == nil || *buyer.ReferredBy == buyer.ID {
		return nil, nil
	}

	commission := CalculateCommission(order.TotalPrice, settings.CommissionPercentage)
	if commission <= 0 {
		return nil, nil
	}

	r := models.Referral{
		ReferrerID:           *buyer.ReferredBy,
		ReferredUserID:       buyer.ID,
		OrderID:              order.ID,
		OrderAmount:          order.TotalPrice,
		CommissionAmount:     commission,
		CommissionPercentage: settings.CommissionPercentage,
		Status:               models.ReferralStatusConfirmed,
	}
	if settings.HoldDays > 0 {
		confirmAt := e.now().AddDate(0, 0, settings.HoldDays)
		r.Status = models.ReferralStatusPending
		r.ConfirmAt = &confirmAt
	}

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&r)
	if res.Error != nil {
		return nil, fmt.Errorf("error recording referral: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.Referral
		if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("error loading existing referral: %w", err)
		}
		return &existing, nil
	}

	l := e.ledger.WithTx(tx)
	if r.Status == models.ReferralStatusPending {
		err = l.CreditPending(ctx, r.ReferrerID, commission)
	} else {
		err = l.Credit(ctx, r.ReferrerID, commission)
	}
	if err != nil {
		return nil, err
	}

	metrics.CommissionsCredited.Inc()
	metrics.CommissionAmount.Add(float64(commission))
	e.log.Info("referral commission credited",
		zap.String("referrer_id", r.ReferrerID.String()),
		zap.String("order_id", order.ID.String()),
		zap.Int64("commission", commission),
		zap.String("status", string(r.Status)))
	return &r, nil
}

// ConfirmMatured moves held commissions whose hold period has passed into
// the available balance. It returns the number confirmed.
func (e *Engine) ConfirmMatured(ctx context.Context) (int, error) {
	var due []models.Referral
	err := e.db.WithContext(ctx).
		Where("status = ? AND confirm_at <= ?", models.ReferralStatusPending, e.now()).
		Order("confirm_at ASC").
		Limit(confirmBatchSize).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("error loading matured referrals: %w", err)
	}

	confirmed := 0
	for _, r := range due {
		claimed := false
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Referral{}).
				Where("id = ? AND status = ?", r.ID, models.ReferralStatusPending).
				Update("status", models.ReferralStatusConfirmed)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			claimed = true
			return e.ledger.WithTx(tx).ConfirmPending(ctx, r.ReferrerID, r.CommissionAmount)
		})
		if err != nil {
			e.log.Error("failed to confirm referral", zap.String("referral_id", r.ID.String()), zap.Error(err))
			return confirmed, err
		}
		if claimed {
			confirmed++
		}
	}
	return confirmed, nil
}

// MarkPaid flags the referrer's oldest confirmed commissions as paid while
// their sum stays within what has actually been withdrawn.
func (e *Engine) MarkPaid(ctx context.Context, tx *gorm.DB, referrerID uuid.UUID) (int, error) {
	var earning models.ReferralEarning
	if err := tx.WithContext(ctx).Where("user_id = ?", referrerID).First(&earning).Error; err != nil {
		return 0, fmt.Errorf("error loading earnings: %w", err)
	}

	var alreadyPaid int64
	err := tx.WithContext(ctx).Model(&models.Referral{}).
		Select("COALESCE(SUM(commission_amount), 0)").
		Where("referrer_id = ? AND status = ?", referrerID, models.ReferralStatusPaid).
		Scan(&alreadyPaid).Error
	if err != nil {
		return 0, fmt.Errorf("error summing paid referrals: %w", err)
	}

	budget := earning.TotalWithdrawn - alreadyPaid
	if budget <= 0 {
		return 0, nil
	}

	var confirmed []models.Referral
	err = tx.WithContext(ctx).
		Where("referrer_id = ? AND status = ?", referrerID, models.ReferralStatusConfirmed).
		Order("created_at ASC").
		Find(&confirmed).Error
	if err != nil {
		return 0, fmt.Errorf("error loading confirmed referrals: %w", err)
	}

	now := e.now()
	marked := 0
	for _, r := range confirmed {
		if r.CommissionAmount > budget {
			break
		}
		err := tx.WithContext(ctx).Model(&models.Referral{}).
			Where("id = ? AND status = ?", r.ID, models.ReferralStatusConfirmed).
			Updates(map[string]interface{}{"status": models.ReferralStatusPaid, "paid_at": now}).Error
		if err != nil {
			return marked, fmt.Errorf("error marking referral paid: %w", err)
		}
		budget -= r.CommissionAmount
		marked++
	}
	return marked, nil
}

// GenerateCode returns the user's referral code, creating one on first use
func (e *Engine) GenerateCode(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := e.user(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.ReferralCode != nil && *user.ReferralCode != "" {
		return *user.ReferralCode, nil
	}

	for i := 0; i < codeAttempts; i++ {
		code, err := utils.GenerateReferralCode(codeLength)
		if err != nil {
			return "", err
		}

		var taken int64
		if err := e.db.WithContext(ctx).Model(&models.User{}).Where("referral_code = ?", code).Count(&taken).Error; err != nil {
			return "", fmt.Errorf("error checking referral code: %w", err)
		}
		if taken > 0 {
			continue
		}

		res := e.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND referral_code IS NULL", userID).
			Update("referral_code", code)
		if res.Error != nil {
			e.log.Warn("referral code collision", zap.String("user_id", userID.String()), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			// Another request assigned a code first
			user, err := e.user(ctx, userID)
			if err != nil {
				return "", err
			}
			if user.ReferralCode != nil {
				return *user.ReferralCode, nil
			}
			continue
		}
		return code, nil
	}
	return "", errCodeGenExhausted
}

// ApplyCode records that userID was referred by the owner of code
func (e *Engine) ApplyCode(ctx context.Context, userID uuid.UUID, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ErrInvalidCode
	}

	var referrer models.User
	err := e.db.WithContext(ctx).Where("referral_code = ?", code).First(&referrer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("error finding referrer: %w", err)
	}
	if referrer.ID == userID {
		return ErrSelfReferral
	}

	res := e.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND referred_by IS NULL", userID).
		Update("referred_by", referrer.ID)
	if res.Error != nil {
		return fmt.Errorf("error applying referral code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := e.user(ctx, userID); err != nil {
			return err
		}
		return ErrAlreadyReferred
	}

	e.log.Info("referral code applied",
		zap.String("user_id", userID.String()),
		zap.String("referrer_id", referrer.ID.String()))
	return nil
}

// Dashboard is the referral summary shown to a referrer
type Dashboard struct {
	ReferralCode         string                  `json:"referral_code"`
	Earnings             *models.ReferralEarning `json:"earnings"`
	ReferredUsers        int64                   `json:"referred_users"`
	Referrals            []models.Referral       `json:"referrals"`
	CommissionPercentage decimal.Decimal         `json:"commission_percentage"`
	MinimumWithdrawal    models.Money            `json:"minimum_withdrawal"`
}

// MyData assembles the dashboard of userID
func (e *Engine) MyData(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	earnings, err := e.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	settings, err := e.settings(ctx, e.db)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Earnings:             earnings,
		CommissionPercentage: settings.CommissionPercentage,
		MinimumWithdrawal:    settings.MinimumWithdrawal,
	}
	if user.ReferralCode != nil {
		d.ReferralCode = *user.ReferralCode
	}
	if err := e.db.WithContext(ctx).Model(&models.User{}).Where("referred_by = ?", userID).Count(&d.ReferredUsers).Error; err != nil {
		return nil, fmt.Errorf("error counting referred users: %w", err)
	}
	if err := e.db.WithContext(ctx).Where("referrer_id = ?", userID).Order("created_at DESC").Limit(50).Find(&d.Referrals).Error; err != nil {
		return nil, fmt.Errorf("error listing referrals: %w", err)
	}
	return d, nil
}

func (e *Engine) user(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := e.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return &user, nil
}
