package migrations

import (
	"sort"

	"github.com/agencyhq/backend/internal/logging"
	"github.com/go-gormigrate/gormigrate/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationsList holds all migrations
var migrationsList []*gormigrate.Migration

func register(m *gormigrate.Migration) {
	migrationsList = append(migrationsList, m)
}

// List returns the registered migrations ordered by ID
func List() []*gormigrate.Migration {
	out := make([]*gormigrate.Migration, len(migrationsList))
	copy(out, migrationsList)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, List())

	if err := m.Migrate(); err != nil {
		logging.Logger.Error("could not migrate", zap.Error(err))
		return err
	}
	logging.Logger.Info("migrations ran successfully", zap.Int("count", len(migrationsList)))
	return nil
}

// RollbackLast reverts the most recently applied migration
func RollbackLast(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, List())
	return m.RollbackLast()
}
