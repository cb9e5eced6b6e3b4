package migrations

import (
	"github.com/agencyhq/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createProjects() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_projects",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Project{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.Project{})
		},
	}
}

func init() {
	register(createProjects())
}
