// Package ledger applies balance movements to referral earnings accounts.
// Every movement is a single conditional UPDATE so concurrent callers can
// never drive a balance negative.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencyhq/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientBalance is returned when available balance cannot cover a reservation
	ErrInsufficientBalance = errors.New("insufficient available balance")
	// ErrInvariant is returned when a movement would break the ledger identity
	ErrInvariant = errors.New("ledger invariant violated")
	// ErrInvalidAmount is returned for non-positive amounts
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Ledger moves money between the buckets of a ReferralEarning row
type Ledger struct {
	db *gorm.DB
}

// New creates a ledger over db
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger that writes through tx
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// EnsureAccount creates an empty account for userID if none exists
func (l *Ledger) EnsureAccount(ctx context.Context, userID uuid.UUID) error {
	account := models.ReferralEarning{UserID: userID}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return fmt.Errorf("error creating earnings account: %w", err)
	}
	return nil
}

// Get returns the account of userID, or an empty one if it has never earned
func (l *Ledger) Get(ctx context.Context, userID uuid.UUID) (*models.ReferralEarning, error) {
	var account models.ReferralEarning
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.ReferralEarning{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading earnings account: %w", err)
	}
	return &account, nil
}

// Credit records a confirmed commission: earned and available both grow
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount models.Money) error {
	if err := l.EnsureAccount(ctx, userID); err != nil {
		return err
	}
	return l.apply(ctx, userID, amount, "", map[string]interface{}{
		"total_earned":      gorm.Expr("total_earned + ?", amount),
		"available_balance": gorm.Expr("available_balance + ?", amount),
	}, ErrInvariant)
}

// CreditPending records a commission still inside its hold period
func (l *Ledger) CreditPending(ctx context.Context, userID uuid.UUID, amount models.Money) error {
	if err := l.EnsureAccount(ctx, userID); err != nil {
		return err
	}
	return l.apply(ctx, userID, amount, "", map[string]interface{}{
		"total_earned":     gorm.Expr("total_earned + ?", amount),
		"pending_earnings": gorm.Expr("pending_earnings + ?", amount),
	}, ErrInvariant)
}

// ConfirmPending releases a held commission into the available balance
func (l *Ledger) ConfirmPending(ctx context.Context, userID uuid.UUID, amount models.Money) error {
	return l.apply(ctx, userID, amount, "pending_earnings >= ?", map[string]interface{}{
		"pending_earnings":  gorm.Expr("pending_earnings - ?", amount),
		"available_balance": gorm.Expr("available_balance + ?", amount),
	}, ErrInvariant)
}

// Reserve moves amount from available into pending for a withdrawal
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, amount models.Money) error {
	return l.apply(ctx, userID, amount, "available_balance >= ?", map[string]interface{}{
		"available_balance": gorm.Expr("available_balance - ?", amount),
		"pending_earnings":  gorm.Expr("pending_earnings + ?", amount),
	}, ErrInsufficientBalance)
}

// ConsumeReservation pays out a reserved amount
func (l *Ledger) ConsumeReservation(ctx context.Context, userID uuid.UUID, amount models.Money) error {
	return l.apply(ctx, userID, amount, "pending_earnings >= ?", map[string]interface{}{
		"pending_earnings": gorm.Expr("pending_earnings - ?", amount),
		"total_withdrawn":  gorm.Expr("total_withdrawn + ?", amount),
	}, ErrInvariant)
}

// ReleaseReservation returns a reserved amount to the available balance
func (l *Ledger) ReleaseReservation(ctx context.Context, userID uuid.UUID, amount models.Money) error {
	return l.apply(ctx, userID, amount, "pending_earnings >= ?", map[string]interface{}{
		"pending_earnings":  gorm.Expr("pending_earnings - ?", amount),
		"available_balance": gorm.Expr("available_balance + ?", amount),
	}, ErrInvariant)
}

// apply runs one guarded update. guard, when set, takes amount as its only
// argument; missErr is returned when no row matched.
func (l *Ledger) apply(ctx context.Context, userID uuid.UUID, amount models.Money, guard string, updates map[string]interface{}, missErr error) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	q := l.db.WithContext(ctx).Model(&models.ReferralEarning{}).Where("user_id = ?", userID)
	if guard != "" {
		q = q.Where(guard, amount)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("error updating earnings account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return missErr
	}
	return nil
}
