package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencyhq/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsUpdate changes only the fields that are set
type SettingsUpdate struct {
	CommissionPercentage *decimal.Decimal `json:"commission_percentage"`
	MinimumWithdrawal    *models.Money    `json:"minimum_withdrawal"`
	HoldDays             *int             `json:"hold_days"`
	IsActive             *bool            `json:"is_active"`
}

// EnsureSettings writes the default settings row if it is missing
func (e *Engine) EnsureSettings(ctx context.Context) error {
	s := e.defaultSettings()
	err := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&s).Error
	if err != nil {
		return fmt.Errorf("error seeding referral settings: %w", err)
	}
	return nil
}

// GetSettings returns the current program settings
func (e *Engine) GetSettings(ctx context.Context) (*models.ReferralSettings, error) {
	return e.settings(ctx, e.db)
}

// SettingsTx reads the settings through tx
func (e *Engine) SettingsTx(ctx context.Context, tx *gorm.DB) (*models.ReferralSettings, error) {
	return e.settings(ctx, tx)
}

// UpdateSettings validates and stores new settings. They apply to the next
// paid order; existing referrals keep the percentage they were created with.
func (e *Engine) UpdateSettings(ctx context.Context, update SettingsUpdate) (*models.ReferralSettings, error) {
	s, err := e.settings(ctx, e.db)
	if err != nil {
		return nil, err
	}

	if p := update.CommissionPercentage; p != nil {
		if p.IsNegative() || p.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: commission percentage must be between 0 and 100", ErrInvalidSettings)
		}
		s.CommissionPercentage = p.Round(2)
	}
	if m := update.MinimumWithdrawal; m != nil {
		if *m < 0 {
			return nil, fmt.Errorf("%w: minimum withdrawal cannot be negative", ErrInvalidSettings)
		}
		s.MinimumWithdrawal = *m
	}
	if h := update.HoldDays; h != nil {
		if *h < 0 {
			return nil, fmt.Errorf("%w: hold days cannot be negative", ErrInvalidSettings)
		}
		s.HoldDays = *h
	}
	if a := update.IsActive; a != nil {
		s.IsActive = *a
	}

	s.ID = models.ReferralSettingsID
	if err := e.db.WithContext(ctx).Save(s).Error; err != nil {
		return nil, fmt.Errorf("error saving referral settings: %w", err)
	}

	e.log.Info("referral settings updated",
		zap.String("commission_percentage", s.CommissionPercentage.String()),
		zap.Int64("minimum_withdrawal", s.MinimumWithdrawal),
		zap.Int("hold_days", s.HoldDays),
		zap.Bool("is_active", s.IsActive))
	return s, nil
}

func (e *Engine) settings(ctx context.Context, db *gorm.DB) (*models.ReferralSettings, error) {
	var s models.ReferralSettings
	err := db.WithContext(ctx).Where("id = ?", models.ReferralSettingsID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		d := e.defaultSettings()
		return &d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading referral settings: %w", err)
	}
	return &s, nil
}

func (e *Engine) defaultSettings() models.ReferralSettings {
	return models.ReferralSettings{
		ID:                   models.ReferralSettingsID,
		CommissionPercentage: e.defaults.CommissionPercentage,
		MinimumWithdrawal:    e.defaults.MinimumWithdrawal,
		IsActive:             true,
	}
}
