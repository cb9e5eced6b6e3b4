package models

import (
	"github.com/google/uuid"
)

// User is owned by the authentication service. Only the columns the order and
// referral flows depend on are mapped here.
type User struct {
	Base
	Email        string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name         string     `gorm:"type:varchar(255)" json:"name"`
	IsAdmin      bool       `gorm:"default:false" json:"is_admin"`
	ReferralCode *string    `gorm:"type:varchar(20);uniqueIndex" json:"referral_code,omitempty"`
	ReferredBy   *uuid.UUID `gorm:"type:uuid;index" json:"referred_by,omitempty"`
}
