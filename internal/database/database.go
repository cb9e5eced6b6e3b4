package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/agencyhq/backend/internal/config"
	"github.com/agencyhq/backend/internal/database/migrations"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite://"

// InitDB initializes the database connection with configuration and brings
// the schema up to date
func InitDB(dbConfig config.DatabaseConfig) (*gorm.DB, error) {
	db, err := Open(dbConfig)
	if err != nil {
		return nil, err
	}

	if err := migrations.RunMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Open connects without migrating. A URL starting with sqlite:// opens a
// local SQLite file, which is handy for development and the operator CLI.
func Open(dbConfig config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel(dbConfig.LogLevel)),
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dbConfig.URL, sqlitePrefix) {
		dialector = sqlite.Open(strings.TrimPrefix(dbConfig.URL, sqlitePrefix))
	} else {
		dialector = postgres.Open(dbConfig.URL)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if strings.HasPrefix(dbConfig.URL, sqlitePrefix) {
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdle)
		sqlDB.SetMaxOpenConns(dbConfig.MaxConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
