package migrations_test

import (
	"testing"

	"github.com/agencyhq/backend/internal/database/migrations"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreOrdered(t *testing.T) {
	list := migrations.List()
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestRunMigrationsCreatesSchema(t *testing.T) {
	db := testutil.NewDB(t)

	for _, table := range []interface{}{
		&models.User{}, &models.Service{}, &models.AddOn{},
		&models.CheckoutSession{}, &models.Order{}, &models.PaymentAttempt{}, &models.PaymentWebhook{},
		&models.Project{}, &models.ReferralSettings{}, &models.ReferralEarning{}, &models.Referral{},
		&models.WithdrawalRequest{}, &audit.AuditLog{},
	} {
		assert.True(t, db.Migrator().HasTable(table), "%T", table)
	}

	// Running again is a no-op
	require.NoError(t, migrations.RunMigrations(db))
}

func TestReferralOrderIDIsUnique(t *testing.T) {
	db := testutil.NewDB(t)
	orderID := uuid.New()

	first := models.Referral{ReferrerID: uuid.New(), ReferredUserID: uuid.New(), OrderID: orderID, Status: models.ReferralStatusConfirmed}
	require.NoError(t, db.Create(&first).Error)

	second := models.Referral{ReferrerID: uuid.New(), ReferredUserID: uuid.New(), OrderID: orderID, Status: models.ReferralStatusConfirmed}
	assert.Error(t, db.Create(&second).Error)
}

func TestLedgerRejectsNegativeAvailableBalance(t *testing.T) {
	db := testutil.NewDB(t)

	e := models.ReferralEarning{UserID: uuid.New(), AvailableBalance: -1, TotalEarned: -1}
	assert.Error(t, db.Create(&e).Error)
}

func TestRollbackLast(t *testing.T) {
	db := testutil.NewDB(t)

	require.NoError(t, migrations.RollbackLast(db))
	assert.False(t, db.Migrator().HasTable(&audit.AuditLog{}))
	assert.True(t, db.Migrator().HasTable(&models.WithdrawalRequest{}))
}
