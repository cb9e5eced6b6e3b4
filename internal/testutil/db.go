// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/agencyhq/backend/internal/database/migrations"
	"github.com/agencyhq/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory SQLite database with the full schema
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.NewString(), "-", ""))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrations.RunMigrations(db))
	return db
}

// CreateUser inserts a user, optionally referred by another user
func CreateUser(t *testing.T, db *gorm.DB, email string, referredBy *uuid.UUID) models.User {
	t.Helper()

	u := models.User{Email: email, Name: strings.Split(email, "@")[0], ReferredBy: referredBy}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// CreateService inserts an active service with the given add-on prices
func CreateService(t *testing.T, db *gorm.DB, name string, price int64, addOnPrices ...int64) models.Service {
	t.Helper()

	s := models.Service{
		Name:     name,
		Slug:     strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + uuid.NewString()[:8],
		Price:    price,
		Currency: models.CurrencyNGN,
		IsActive: true,
	}
	for i, p := range addOnPrices {
		s.AddOns = append(s.AddOns, models.AddOn{Name: fmt.Sprintf("Add-on %d", i+1), Price: p, IsActive: true})
	}
	require.NoError(t, db.Create(&s).Error)
	return s
}

// SetReferralSettings writes the single settings row
func SetReferralSettings(t *testing.T, db *gorm.DB, percent string, minimum int64, holdDays int) {
	t.Helper()

	s := models.ReferralSettings{
		ID:                   models.ReferralSettingsID,
		CommissionPercentage: decimal.RequireFromString(percent),
		MinimumWithdrawal:    minimum,
		HoldDays:             holdDays,
		IsActive:             true,
	}
	require.NoError(t, db.Save(&s).Error)
}

// Fund seeds a referrer ledger with confirmed, withdrawable earnings
func Fund(t *testing.T, db *gorm.DB, userID uuid.UUID, amount int64) {
	t.Helper()

	e := models.ReferralEarning{UserID: userID, TotalEarned: amount, AvailableBalance: amount}
	require.NoError(t, db.Create(&e).Error)
}

// Earnings loads a referrer ledger
func Earnings(t *testing.T, db *gorm.DB, userID uuid.UUID) models.ReferralEarning {
	t.Helper()

	var e models.ReferralEarning
	require.NoError(t, db.Where("user_id = ?", userID).First(&e).Error)
	return e
}
