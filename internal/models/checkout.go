package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContactData is the contact form captured during checkout
type ContactData struct {
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	Company        string `json:"company,omitempty"`
	ProjectDetails string `json:"project_details,omitempty"`
}

// IsZero reports whether the contact form was never submitted
func (c ContactData) IsZero() bool {
	return c == ContactData{}
}

// Valid reports whether the required contact fields are present
func (c ContactData) Valid() bool {
	return strings.TrimSpace(c.FullName) != "" && strings.Contains(c.Email, "@")
}

// CheckoutSession is a server-held draft of an order created before the
// visitor has an account
type CheckoutSession struct {
	Base
	Token           string                              `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_token"`
	ServiceSnapshot datatypes.JSONType[ServiceSnapshot] `json:"service"`
	ContactData     datatypes.JSONType[ContactData]     `json:"contact"`
	SelectedAddOns  datatypes.JSONType[[]AddOnSnapshot] `json:"add_ons"`
	TotalPrice      Money                               `gorm:"not null" json:"total_price"`
	UserID          *uuid.UUID                          `gorm:"type:uuid;index" json:"user_id,omitempty"`
	ExpiresAt       time.Time                           `gorm:"index;not null" json:"expires_at"`
	IsCompleted     bool                                `gorm:"default:false;not null" json:"is_completed"`
	CompletedAt     *time.Time                          `json:"completed_at,omitempty"`
}

// Expired reports whether the session is past its expiry at t
func (s *CheckoutSession) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
