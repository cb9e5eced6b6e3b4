package migrations

import (
	"github.com/agencyhq/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createOrders creates orders with their payment attempts and the webhook
// delivery log
func createOrders() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_orders",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Order{}, &models.PaymentAttempt{}, &models.PaymentWebhook{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.PaymentWebhook{}, &models.PaymentAttempt{}, &models.Order{})
		},
	}
}

func init() {
	register(createOrders())
}
