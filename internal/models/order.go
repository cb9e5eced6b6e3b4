package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a priced request for a service. Service, contact and add-ons are
// snapshots so later catalog changes do not rewrite history.
type Order struct {
	Base
	UserID               uuid.UUID                           `gorm:"type:uuid;index;not null" json:"user_id"`
	ServiceID            uuid.UUID                           `gorm:"type:uuid;index;not null" json:"service_id"`
	ServiceSnapshot      datatypes.JSONType[ServiceSnapshot] `json:"service"`
	ContactSnapshot      datatypes.JSONType[ContactData]     `json:"contact"`
	SelectedAddOns       datatypes.JSONType[[]AddOnSnapshot] `json:"add_ons"`
	TotalPrice           Money                               `gorm:"not null" json:"total_price"`
	Currency             Currency                            `gorm:"type:varchar(3);not null" json:"currency"`
	Status               OrderStatus                         `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentReference     *string                             `gorm:"type:varchar(100);uniqueIndex" json:"payment_reference,omitempty"`
	PaymentURL           string                              `gorm:"type:text" json:"payment_url,omitempty"`
	LastPaymentAttemptAt *time.Time                          `json:"last_payment_attempt_at,omitempty"`
	CheckoutSessionToken *string                             `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	PaidAt               *time.Time                          `json:"paid_at,omitempty"`
	CancelledAt          *time.Time                          `json:"cancelled_at,omitempty"`
}

// In reports whether s is one of statuses
func (s OrderStatus) In(statuses []OrderStatus) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Reference returns the current payment reference or an empty string
func (o *Order) Reference() string {
	if o.PaymentReference == nil {
		return ""
	}
	return *o.PaymentReference
}

// PaymentAttemptStatus tracks a single gateway reference
type PaymentAttemptStatus string

const (
	PaymentAttemptInitialized PaymentAttemptStatus = "initialized"
	PaymentAttemptSuperseded  PaymentAttemptStatus = "superseded"
	PaymentAttemptSucceeded   PaymentAttemptStatus = "succeeded"
	PaymentAttemptFailed      PaymentAttemptStatus = "failed"
)

// PaymentAttempt records every reference issued for an order. Only the
// attempt matching Order.PaymentReference may confirm the order.
type PaymentAttempt struct {
	Base
	OrderID          uuid.UUID            `gorm:"type:uuid;index;not null" json:"order_id"`
	Reference        string               `gorm:"type:varchar(100);uniqueIndex;not null" json:"reference"`
	Provider         PaymentProvider      `gorm:"type:varchar(20);not null" json:"provider"`
	Amount           Money                `gorm:"not null" json:"amount"`
	Status           PaymentAttemptStatus `gorm:"type:varchar(20);not null" json:"status"`
	AuthorizationURL string               `gorm:"type:text" json:"authorization_url"`
}
