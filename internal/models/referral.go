package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralStatus is the confirmation state of a commission
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusConfirmed ReferralStatus = "confirmed"
	ReferralStatusPaid      ReferralStatus = "paid"
)

// ReferralSettingsID is the primary key of the single settings row
const ReferralSettingsID = 1

// ReferralSettings configures the referral program. It is read on every
// commission so an update applies to the next paid order.
type ReferralSettings struct {
	ID                   uint            `gorm:"primaryKey" json:"-"`
	CommissionPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"commission_percentage"`
	MinimumWithdrawal    Money           `gorm:"not null" json:"minimum_withdrawal"`
	HoldDays             int             `gorm:"not null;default:0" json:"hold_days"`
	IsActive             bool            `gorm:"not null" json:"is_active"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ReferralEarning is the running ledger of one referrer.
// AvailableBalance = TotalEarned - TotalWithdrawn - PendingEarnings.
type ReferralEarning struct {
	Base
	UserID           uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	TotalEarned      Money     `gorm:"not null;default:0" json:"total_earned"`
	TotalWithdrawn   Money     `gorm:"not null;default:0" json:"total_withdrawn"`
	PendingEarnings  Money     `gorm:"not null;default:0;check:chk_referral_earnings_pending,pending_earnings >= 0" json:"pending_earnings"`
	AvailableBalance Money     `gorm:"not null;default:0;check:chk_referral_earnings_available,available_balance >= 0" json:"available_balance"`
}

// Balanced reports whether the ledger identity holds
func (e *ReferralEarning) Balanced() bool {
	return e.AvailableBalance == e.TotalEarned-e.TotalWithdrawn-e.PendingEarnings && e.AvailableBalance >= 0
}

// Referral is the single commission earned from one paid order
type Referral struct {
	Base
	ReferrerID           uuid.UUID       `gorm:"type:uuid;index;not null" json:"referrer_id"`
	ReferredUserID       uuid.UUID       `gorm:"type:uuid;index;not null" json:"referred_user_id"`
	OrderID              uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	OrderAmount          Money           `gorm:"not null" json:"order_amount"`
	CommissionAmount     Money           `gorm:"not null" json:"commission_amount"`
	CommissionPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"commission_percentage"`
	Status               ReferralStatus  `gorm:"type:varchar(20);index;not null" json:"status"`
	ConfirmAt            *time.Time      `gorm:"index" json:"confirm_at,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
}
