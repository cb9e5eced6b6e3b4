package migrations

import (
	"github.com/agencyhq/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createCatalogTables creates users and the service catalog
func createCatalogTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_catalog_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.User{}, &models.Service{}, &models.AddOn{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.AddOn{}, &models.Service{}, &models.User{})
		},
	}
}

func init() {
	register(createCatalogTables())
}
