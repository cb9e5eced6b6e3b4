package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WithdrawalStatus is the state of a payout request
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
)

// WithdrawalRequest converts available referral balance into a payout
type WithdrawalRequest struct {
	Base
	UserID         uuid.UUID         `gorm:"type:uuid;index;not null" json:"user_id"`
	Amount         Money             `gorm:"not null" json:"amount"`
	PaymentMethod  string            `gorm:"type:varchar(50);not null" json:"payment_method"`
	PaymentDetails datatypes.JSONMap `json:"payment_details"`
	Status         WithdrawalStatus  `gorm:"type:varchar(20);index;not null" json:"status"`
	AdminNotes     string            `gorm:"type:text" json:"admin_notes,omitempty"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
	ProcessedBy    *uuid.UUID        `gorm:"type:uuid" json:"processed_by,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}
