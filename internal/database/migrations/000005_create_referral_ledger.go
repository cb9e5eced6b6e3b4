package migrations

import (
	"github.com/agencyhq/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createReferralLedger creates the referral settings row, the per-referrer
// ledger and the one-commission-per-order table
func createReferralLedger() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_referral_ledger",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.ReferralSettings{}, &models.ReferralEarning{}, &models.Referral{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.Referral{}, &models.ReferralEarning{}, &models.ReferralSettings{})
		},
	}
}

func init() {
	register(createReferralLedger())
}
