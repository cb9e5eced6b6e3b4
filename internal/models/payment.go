package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookOutcome is what the order engine did with a delivered webhook
type WebhookOutcome string

const (
	WebhookOutcomeConfirmed    WebhookOutcome = "confirmed"
	WebhookOutcomeAlreadyPaid  WebhookOutcome = "already_paid"
	WebhookOutcomeStillPending WebhookOutcome = "still_pending"
	WebhookOutcomeStale        WebhookOutcome = "stale"
	WebhookOutcomeUnknown      WebhookOutcome = "unknown_reference"
	WebhookOutcomeIgnored      WebhookOutcome = "ignored"
	WebhookOutcomeRejected     WebhookOutcome = "rejected"
)

// PaymentWebhook represents a webhook received from a payment provider
type PaymentWebhook struct {
	Base
	Provider    PaymentProvider `gorm:"type:varchar(20);not null" json:"provider"`
	Event       string          `gorm:"type:varchar(100)" json:"event"`
	Reference   string          `gorm:"type:varchar(100);index" json:"reference"`
	RawData     datatypes.JSON  `json:"raw_data"`
	Processed   bool            `gorm:"default:false" json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at"`
	Outcome     WebhookOutcome  `gorm:"type:varchar(30)" json:"outcome"`
	Error       string          `gorm:"type:text" json:"error,omitempty"`
}
