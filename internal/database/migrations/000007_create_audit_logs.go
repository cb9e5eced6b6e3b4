package migrations

import (
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createAuditLogs() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000007_create_audit_logs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&audit.AuditLog{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&audit.AuditLog{})
		},
	}
}

func init() {
	register(createAuditLogs())
}
