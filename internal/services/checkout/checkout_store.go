// Package checkout keeps anonymous checkout sessions until a signed-in user
// turns one into an order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("checkout session not found")
	ErrExpired          = errors.New("checkout session has expired")
	ErrAlreadyCompleted = errors.New("checkout session has already been used")
	ErrConflict         = errors.New("checkout session belongs to another user")
	ErrInvalidContact   = errors.New("contact requires a full name and a valid email")
)

// tokenBytes gives a 43 character URL-safe token
const tokenBytes = 32

// CreateInput is a priced selection submitted by an anonymous visitor
type CreateInput struct {
	Service    models.ServiceSnapshot
	AddOns     []models.AddOnSnapshot
	TotalPrice models.Money
	Contact    *models.ContactData
}

// Store persists checkout sessions
type Store struct {
	db      *gorm.DB
	catalog *catalog.CatalogService
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewStore creates a session store whose sessions live for ttl
func NewStore(db *gorm.DB, catalogService *catalog.CatalogService, ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:      db,
		catalog: catalogService,
		ttl:     ttl,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a copy of the store bound to tx
func (s *Store) WithTx(tx *gorm.DB) *Store {
	c := *s
	c.db = tx
	return &c
}

// SetClock overrides the time source
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Create opens a new session. The total must equal the snapshot prices.
func (s *Store) Create(ctx context.Context, in CreateInput) (*models.CheckoutSession, error) {
	if s.catalog != nil {
		if err := s.catalog.EnsureActive(ctx, in.Service.ServiceID); err != nil {
			return nil, err
		}
	}
	if err := catalog.ValidateTotal(in.Service, in.AddOns, in.TotalPrice); err != nil {
		return nil, err
	}

	token, err := utils.GenerateSecureToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("error generating session token: %w", err)
	}

	addOns := in.AddOns
	if addOns == nil {
		addOns = []models.AddOnSnapshot{}
	}
	session := models.CheckoutSession{
		Token:           token,
		ServiceSnapshot: datatypes.NewJSONType(in.Service),
		SelectedAddOns:  datatypes.NewJSONType(addOns),
		TotalPrice:      in.TotalPrice,
		ExpiresAt:       s.now().Add(s.ttl),
	}
	if in.Contact != nil && !in.Contact.IsZero() {
		if !in.Contact.Valid() {
			return nil, ErrInvalidContact
		}
		session.ContactData = datatypes.NewJSONType(*in.Contact)
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("error creating checkout session: %w", err)
	}

	s.log.Info("checkout session created",
		zap.String("service_id", in.Service.ServiceID.String()),
		zap.Int64("total_price", in.TotalPrice),
		zap.Time("expires_at", session.ExpiresAt))
	return &session, nil
}

// Get returns a live session. Expired sessions are reported as ErrExpired.
func (s *Store) Get(ctx context.Context, token string) (*models.CheckoutSession, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, ErrExpired
	}
	return session, nil
}

// AttachContact stores the contact form on an open session
func (s *Store) AttachContact(ctx context.Context, token string, contact models.ContactData) (*models.CheckoutSession, error) {
	if !contact.Valid() {
		return nil, ErrInvalidContact
	}

	res := s.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("token = ? AND is_completed = ? AND expires_at > ?", token, false, s.now()).
		Update("contact_data", datatypes.NewJSONType(contact))
	if res.Error != nil {
		return nil, fmt.Errorf("error attaching contact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.classify(ctx, token, nil)
	}
	return s.load(ctx, token)
}

// Claim binds the session to userID. Claiming again as the same user is a no-op.
func (s *Store) Claim(ctx context.Context, token string, userID uuid.UUID) (*models.CheckoutSession, error) {
	res := s.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("token = ? AND user_id IS NULL AND is_completed = ? AND expires_at > ?", token, false, s.now()).
		Update("user_id", userID)
	if res.Error != nil {
		return nil, fmt.Errorf("error claiming checkout session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.classify(ctx, token, &userID); err != nil {
			return nil, err
		}
	}
	return s.load(ctx, token)
}

// Consume marks the session completed and returns its snapshot. Exactly one
// concurrent caller succeeds; the rest get ErrAlreadyCompleted.
func (s *Store) Consume(ctx context.Context, token string) (*models.CheckoutSession, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("token = ? AND is_completed = ? AND expires_at > ?", token, false, now).
		Updates(map[string]interface{}{"is_completed": true, "completed_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("error consuming checkout session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.classify(ctx, token, nil)
	}
	return s.load(ctx, token)
}

// PurgeExpired deletes sessions that expired before now
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.CheckoutSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("error purging checkout sessions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Info("purged expired checkout sessions", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *Store) load(ctx context.Context, token string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading checkout session: %w", err)
	}
	return &session, nil
}

// classify explains why a conditional update matched nothing. A nil return
// means claimant already owns the open session.
func (s *Store) classify(ctx context.Context, token string, claimant *uuid.UUID) error {
	session, err := s.load(ctx, token)
	if err != nil {
		return err
	}
	switch {
	case session.IsCompleted:
		return ErrAlreadyCompleted
	case session.Expired(s.now()):
		return ErrExpired
	case claimant != nil && session.UserID != nil && *session.UserID == *claimant:
		return nil
	case claimant != nil && session.UserID != nil:
		return ErrConflict
	}
	return fmt.Errorf("checkout session %s changed concurrently", token)
}
