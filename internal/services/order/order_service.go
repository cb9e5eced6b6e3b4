// Package order owns the order lifecycle: creation from a priced selection,
// payment initialization against the gateway, and the single confirmation
// path that marks an order paid.
package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/agencyhq/backend/internal/metrics"
	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/services/checkout"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrForbidden         = errors.New("order belongs to another user")
	ErrInvalidState      = errors.New("order status does not allow this action")
	ErrInvalidContact    = errors.New("order requires contact details with a full name and email")
	ErrPaymentInProgress = errors.New("a payment for this order is already in progress")
	ErrTooManyAttempts   = errors.New("too many payment attempts")
	ErrUnknownReference  = errors.New("unknown payment reference")
	ErrStaleCallback     = errors.New("payment callback for a superseded reference or cancelled order")
	ErrAmountMismatch    = errors.New("paid amount does not match order total")
)

// CooldownError is returned when a payment link is requested again too soon
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %ds", ErrTooManyAttempts, e.RetryAfterSeconds())
}

// Is makes errors.Is(err, ErrTooManyAttempts) hold
func (e *CooldownError) Is(target error) bool {
	return target == ErrTooManyAttempts
}

// RetryAfterSeconds rounds the wait up to whole seconds
func (e *CooldownError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// CommissionEngine credits referral commission for a paid order inside the
// confirming transaction
type CommissionEngine interface {
	OnOrderPaid(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.Referral, error)
}

// Provisioner creates the delivery project inside the confirming transaction
type Provisioner interface {
	ProvisionProject(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.Project, error)
}

// Notifier is told about paid orders after the transaction commits
type Notifier interface {
	OrderPaid(ctx context.Context, order *models.Order)
}

// Config holds the payment timing rules
type Config struct {
	ReferenceTTL       time.Duration
	ReactivateCooldown time.Duration
	CallbackURL        string
}

// CreateOrderInput is a priced selection submitted by a signed-in user
type CreateOrderInput struct {
	UserID     uuid.UUID
	Service    models.ServiceSnapshot
	Contact    models.ContactData
	AddOns     []models.AddOnSnapshot
	TotalPrice models.Money
}

// OrderService drives orders from pending to paid or cancelled
type OrderService struct {
	db          *gorm.DB
	gateway     payment.Gateway
	sessions    *checkout.Store
	provisioner Provisioner
	commissions CommissionEngine
	audit       *audit.Logger
	notifier    Notifier
	cfg         Config
	log         *zap.Logger
	now         func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	db *gorm.DB,
	gateway payment.Gateway,
	sessions *checkout.Store,
	provisioner Provisioner,
	commissions CommissionEngine,
	cfg Config,
	log *zap.Logger,
) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{
		db:          db,
		gateway:     gateway,
		sessions:    sessions,
		provisioner: provisioner,
		commissions: commissions,
		cfg:         cfg,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetAuditLogger enables audit records for payment events
func (s *OrderService) SetAuditLogger(l *audit.Logger) {
	s.audit = l
}

// SetNotifier registers the post-commit notifier
func (s *OrderService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetClock overrides the time source
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateOrder creates a pending order from a selection priced by the client
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if !in.Contact.Valid() {
		return nil, ErrInvalidContact
	}
	if err := catalog.ValidateTotal(in.Service, in.AddOns, in.TotalPrice); err != nil {
		return nil, err
	}

	o := newOrder(in.UserID, in.Service, in.Contact, in.AddOns, in.TotalPrice)
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, fmt.Errorf("error creating order: %w", err)
	}

	metrics.OrdersCreated.WithLabelValues("cart").Inc()
	s.log.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.Int64("total_price", in.TotalPrice))
	return o, nil
}

// CreateOrderFromSession claims and consumes a checkout session and creates
// the order from its snapshots in one transaction. Any failure leaves the
// session open.
func (s *OrderService) CreateOrderFromSession(ctx context.Context, userID uuid.UUID, token string) (*models.Order, error) {
	var o *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)

		if _, err := sessions.Claim(ctx, token, userID); err != nil {
			return err
		}
		session, err := sessions.Consume(ctx, token)
		if err != nil {
			return err
		}

		contact := session.ContactData.Data()
		if !contact.Valid() {
			return ErrInvalidContact
		}
		service := session.ServiceSnapshot.Data()
		addOns := session.SelectedAddOns.Data()
		if err := catalog.ValidateTotal(service, addOns, session.TotalPrice); err != nil {
			return err
		}

		o = newOrder(userID, service, contact, addOns, session.TotalPrice)
		o.CheckoutSessionToken = &session.Token
		return tx.Create(o).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersCreated.WithLabelValues("session").Inc()
	s.log.Info("order created from checkout session",
		zap.String("order_id", o.ID.String()),
		zap.String("user_id", userID.String()))
	return o, nil
}

func newOrder(userID uuid.UUID, service models.ServiceSnapshot, contact models.ContactData, addOns []models.AddOnSnapshot, total models.Money) *models.Order {
	if addOns == nil {
		addOns = []models.AddOnSnapshot{}
	}
	return &models.Order{
		UserID:          userID,
		ServiceID:       service.ServiceID,
		ServiceSnapshot: datatypes.NewJSONType(service),
		ContactSnapshot: datatypes.NewJSONType(contact),
		SelectedAddOns:  datatypes.NewJSONType(addOns),
		TotalPrice:      total,
		Currency:        service.Currency,
		Status:          models.OrderStatusPending,
	}
}

// GetOrder loads an order visible to userID. Admins see every order.
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*models.Order, error) {
	o, err := s.load(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != userID {
		return nil, ErrForbidden
	}
	return o, nil
}

// GetByReference loads the order that currently owns reference
func (s *OrderService) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading order: %w", err)
	}
	return &o, nil
}

// ListUserOrders returns the orders of userID, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("error listing orders: %w", err)
	}
	return orders, nil
}

// CancelOrder cancels a pending order. Late callbacks for its reference are
// treated as stale from then on.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, byUserID uuid.UUID, isAdmin bool) (*models.Order, error) {
	o, err := s.load(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != byUserID {
		return nil, ErrForbidden
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Updates(map[string]interface{}{"status": models.OrderStatusCancelled, "cancelled_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("error cancelling order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidState
	}

	metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusCancelled)).Inc()
	s.log.Info("order cancelled",
		zap.String("order_id", orderID.String()),
		zap.String("by_user_id", byUserID.String()),
		zap.Bool("admin", isAdmin))
	s.audit.Record(ctx, audit.Event{
		Type:        audit.EventTypeOrder,
		Severity:    audit.SeverityInfo,
		Description: "Order cancelled",
		UserID:      &byUserID,
		TargetID:    &orderID,
		Success:     true,
	})
	return s.load(ctx, s.db, orderID)
}

func (s *OrderService) load(ctx context.Context, db *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading order: %w", err)
	}
	return &o, nil
}
