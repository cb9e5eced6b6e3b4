package migrations

import (
	"github.com/agencyhq/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createCheckoutSessions() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_checkout_sessions",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.CheckoutSession{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.CheckoutSession{})
		},
	}
}

func init() {
	register(createCheckoutSessions())
}
