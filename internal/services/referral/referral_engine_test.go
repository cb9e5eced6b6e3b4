package referral_test

import (
	"context"
	"testing"
	"time"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/ledger"
	"github.com/agencyhq/backend/internal/services/referral"
	"github.com/agencyhq/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newEngine(db *gorm.DB) *referral.Engine {
	return referral.NewEngine(db, ledger.New(db), referral.Defaults{
		CommissionPercentage: decimal.NewFromInt(10),
		MinimumWithdrawal:    500000,
	}, nil)
}

func paidOrder(t *testing.T, db *gorm.DB, buyer uuid.UUID, total int64) *models.Order {
	t.Helper()
	o := &models.Order{
		UserID:     buyer,
		ServiceID:  uuid.New(),
		TotalPrice: total,
		Currency:   models.CurrencyNGN,
		Status:     models.OrderStatusPaid,
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

func TestCalculateCommission(t *testing.T) {
	cases := []struct {
		amount  int64
		percent string
		want    int64
	}{
		{1000000, "10", 100000},
		{15, "10", 2},
		{14, "10", 1},
		{999, "12.5", 125},
		{100000, "0", 0},
		{0, "10", 0},
	}
	for _, c := range cases {
		got := referral.CalculateCommission(c.amount, decimal.RequireFromString(c.percent))
		assert.Equal(t, c.want, got, "amount=%d percent=%s", c.amount, c.percent)
	}
}

func TestOnOrderPaidCreditsReferrerOnce(t *testing.T) {
	db := testutil.NewDB(t)
	engine := newEngine(db)
	ctx := context.Background()

	testutil.SetReferralSettings(t, db, "10", 500000, 0)
	referrer := testutil.CreateUser(t, db, "ref@example.com", nil)
	buyer := testutil.CreateUser(t, db, "buyer@example.com", &referrer.ID)
	order := paidOrder(t, db, buyer.ID, 1000000)

	r, err := engine.OnOrderPaid(ctx, db, order)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(100000), r.CommissionAmount)
	assert.Equal(t, models.ReferralStatusConfirmed, r.Status)

	again, err := engine.OnOrderPaid(ctx, db, order)
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)

	e := testutil.Earnings(t, db, referrer.ID)
	assert.Equal(t, int64(100000), e.TotalEarned)
	assert.Equal(t, int64(100000), e.AvailableBalance)
	assert.True(t, e.Balanced())

	var count int64
	db.Model(&models.Referral{}).Where("order_id = ?", order.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOnOrderPaidSkipsUnreferredAndInactive(t *testing.T) {
	db := testutil.NewDB(t)
	engine := newEngine(db)
	ctx := context.Background()

	buyer := testutil.CreateUser(t, db, "solo@example.com", nil)
	r, err := engine.OnOrderPaid(ctx, db, paidOrder(t, db, buyer.ID, 50000))
	require.NoError(t, err)
	assert.Nil(t, r)

	referrer := testutil.CreateUser(t, db, "ref@example.com", nil)
	referred := testutil.CreateUser(t, db, "buyer@example.com", &referrer.ID)
	active := false
	_, err = engine.UpdateSettings(ctx, referral.SettingsUpdate{IsActive: &active})
	require.NoError(t, err)

	r, err = engine.OnOrderPaid(ctx, db, paidOrder(t, db, referred.ID, 50000))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestHeldCommissionConfirmsAfterHoldPeriod(t *testing.T) {
	db := testutil.NewDB(t)
	engine := newEngine(db)
	ctx := context.Background()

	testutil.SetReferralSettings(t, db, "5", 1000, 7)
	referrer := testutil.CreateUser(t, db, "ref@example.com", nil)
	buyer := testutil.CreateUser(t, db, "buyer@example.com", &referrer.ID)

	r, err := engine.OnOrderPaid(ctx, db, paidOrder(t, db, buyer.ID, 200000))
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusPending, r.Status)
	require.NotNil(t, r.ConfirmAt)

	e := testutil.Earnings(t, db, referrer.ID)
	assert.Equal(t, int64(10000), e.PendingEarnings)
	assert.Zero(t, e.AvailableBalance)

	n, err := engine.ConfirmMatured(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	engine.SetClock(func() time.Time { return time.Now().UTC().AddDate(0, 0, 8) })
	n, err = engine.ConfirmMatured(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e = testutil.Earnings(t, db, referrer.ID)
	assert.Zero(t, e.PendingEarnings)
	assert.Equal(t, int64(10000), e.AvailableBalance)
	assert.True(t, e.Balanced())

	n, err = engine.ConfirmMatured(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConfirmMaturedCountsOnlyCommittedConfirmations(t *testing.T) {
	db := testutil.NewDB(t)
	engine := newEngine(db)
	ctx := context.Background()

	testutil.SetReferralSettings(t, db, "10", 1000, 7)
	healthy := testutil.CreateUser(t, db, "healthy@example.com", nil)
	broken := testutil.CreateUser(t, db, "broken@example.com", nil)
	first := testutil.CreateUser(t, db, "first@example.com", &healthy.ID)
	second := testutil.CreateUser(t, db, "second@example.com", &broken.ID)

	start := time.Now().UTC()
	engine.SetClock(func() time.Time { return start })
	_, err := engine.OnOrderPaid(ctx, db, paidOrder(t, db, first.ID, 100000))
	require.NoError(t, err)
	engine.SetClock(func() time.Time { return start.Add(time.Hour) })
	held, err := engine.OnOrderPaid(ctx, db, paidOrder(t, db, second.ID, 100000))
	require.NoError(t, err)

	// the second referrer's pending balance no longer covers the held commission
	require.NoError(t, db.Model(&models.ReferralEarning{}).
		Where("user_id = ?", broken.ID).
		Update("pending_earnings", 0).Error)

	engine.SetClock(func() time.Time { return start.AddDate(0, 0, 8) })
	n, err := engine.ConfirmMatured(ctx)
	assert.ErrorIs(t, err, ledger.ErrInvariant)
	assert.Equal(t, 1, n)

	var reloaded models.Referral
	require.NoError(t, db.First(&reloaded, "id = ?", held.ID).Error)
	assert.Equal(t, models.ReferralStatusPending, reloaded.Status)
	assert.Equal(t, int64(10000), testutil.Earnings(t, db, healthy.ID).AvailableBalance)
}

func TestGenerateAndApplyCode(t *testing.T) {
	db := testutil.NewDB(t)
	engine := newEngine(db)
	ctx := context.Background()

	referrer := testutil.CreateUser(t, db, "ref@example.com", nil)
	buyer := testutil.CreateUser(t, db, "buyer@example.com", nil)

	code, err := engine.GenerateCode(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Len(t, code, 8)

	same, err := engine.GenerateCode(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, code, same)

	assert.ErrorIs(t, engine.ApplyCode(ctx, referrer.ID, code), referral.ErrSelfReferral)
	assert.ErrorIs(t, engine.ApplyCode(ctx, buyer.ID, "NOPE1234"), referral.ErrInvalidCode)
	require.NoError(t, engine.ApplyCode(ctx, buyer.ID, " "+code+" "))
	assert.ErrorIs(t, engine.ApplyCode(ctx, buyer.ID, code), referral.ErrAlreadyReferred)

	data, err := engine.MyData(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, code, data.ReferralCode)
	assert.Equal(t, int64(1), data.ReferredUsers)
	assert.True(t, data.CommissionPercentage.Equal(decimal.NewFromInt(10)))
}

func TestUpdateSettingsValidation(t *testing.T) {
	db := testutil.NewDB(t)
	engine := newEngine(db)
	ctx := context.Background()
	require.NoError(t, engine.EnsureSettings(ctx))

	tooHigh := decimal.NewFromInt(101)
	_, err := engine.UpdateSettings(ctx, referral.SettingsUpdate{CommissionPercentage: &tooHigh})
	assert.ErrorIs(t, err, referral.ErrInvalidSettings)

	negative := int64(-1)
	_, err = engine.UpdateSettings(ctx, referral.SettingsUpdate{MinimumWithdrawal: &negative})
	assert.ErrorIs(t, err, referral.ErrInvalidSettings)

	pct := decimal.RequireFromString("12.5")
	hold := 3
	s, err := engine.UpdateSettings(ctx, referral.SettingsUpdate{CommissionPercentage: &pct, HoldDays: &hold})
	require.NoError(t, err)
	assert.True(t, s.CommissionPercentage.Equal(pct))

	got, err := engine.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.CommissionPercentage.Equal(pct))
	assert.Equal(t, 3, got.HoldDays)
	assert.Equal(t, int64(500000), got.MinimumWithdrawal)
}

func TestMarkPaidStaysWithinWithdrawn(t *testing.T) {
	db := testutil.NewDB(t)
	engine := newEngine(db)
	ctx := context.Background()

	testutil.SetReferralSettings(t, db, "10", 0, 0)
	referrer := testutil.CreateUser(t, db, "ref@example.com", nil)
	buyer := testutil.CreateUser(t, db, "buyer@example.com", &referrer.ID)

	_, err := engine.OnOrderPaid(ctx, db, paidOrder(t, db, buyer.ID, 100000))
	require.NoError(t, err)
	_, err = engine.OnOrderPaid(ctx, db, paidOrder(t, db, buyer.ID, 300000))
	require.NoError(t, err)

	l := ledger.New(db)
	require.NoError(t, l.Reserve(ctx, referrer.ID, 15000))
	require.NoError(t, l.ConsumeReservation(ctx, referrer.ID, 15000))

	n, err := engine.MarkPaid(ctx, db, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var paid int64
	db.Model(&models.Referral{}).Where("referrer_id = ? AND status = ?", referrer.ID, models.ReferralStatusPaid).Count(&paid)
	assert.Equal(t, int64(1), paid)
}
