package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/agencyhq/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookLog stores every verified webhook delivery with its outcome
type WebhookLog struct {
	db *gorm.DB
}

// NewWebhookLog creates a new webhook log
func NewWebhookLog(db *gorm.DB) *WebhookLog {
	return &WebhookLog{db: db}
}

// Record stores a delivery before it is processed
func (w *WebhookLog) Record(ctx context.Context, provider models.PaymentProvider, event *WebhookEvent) (*models.PaymentWebhook, error) {
	hook := models.PaymentWebhook{
		Provider:  provider,
		Event:     event.Event,
		Reference: event.Reference,
		RawData:   datatypes.JSON(event.Raw),
	}
	if err := w.db.WithContext(ctx).Create(&hook).Error; err != nil {
		return nil, fmt.Errorf("error storing webhook: %w", err)
	}
	return &hook, nil
}

// MarkProcessed stores what the order engine did with a delivery
func (w *WebhookLog) MarkProcessed(ctx context.Context, id uuid.UUID, outcome models.WebhookOutcome, procErr error) error {
	updates := map[string]interface{}{
		"processed":    procErr == nil,
		"processed_at": time.Now().UTC(),
		"outcome":      outcome,
	}
	if procErr != nil {
		updates["error"] = procErr.Error()
	}
	return w.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.PaymentWebhook{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ForReference lists deliveries for a reference, oldest first
func (w *WebhookLog) ForReference(ctx context.Context, reference string) ([]models.PaymentWebhook, error) {
	var hooks []models.PaymentWebhook
	err := w.db.WithContext(ctx).Where("reference = ?", reference).Order("created_at ASC").Find(&hooks).Error
	return hooks, err
}
