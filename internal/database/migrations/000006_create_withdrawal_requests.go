package migrations

import (
	"github.com/agencyhq/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createWithdrawalRequests() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_create_withdrawal_requests",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.WithdrawalRequest{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.WithdrawalRequest{})
		},
	}
}

func init() {
	register(createWithdrawalRequests())
}
