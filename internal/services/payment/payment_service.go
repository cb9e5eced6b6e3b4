package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencyhq/backend/internal/metrics"
	"github.com/agencyhq/backend/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrGatewayUnavailable marks timeouts, transport failures and 5xx
	// responses. The caller may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected marks a request the gateway refused
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	// ErrProviderNotFound is returned for an unregistered provider
	ErrProviderNotFound = errors.New("payment provider not registered")
)

// Status is a gateway's verdict on a reference
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// InitializeRequest asks the gateway for a hosted payment page
type InitializeRequest struct {
	Reference   string
	Email       string
	Amount      models.Money
	Currency    models.Currency
	CallbackURL string
	Metadata    map[string]string
}

// InitializeResult is the hosted page the customer is redirected to
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// Verification is the gateway's current view of a reference
type Verification struct {
	Reference string
	Status    Status
	Amount    models.Money
	Currency  models.Currency
	Channel   string
	PaidAt    *time.Time
}

// WebhookEvent is a decoded, signature-verified webhook delivery.
// Actionable is false for events that carry no payment verdict.
type WebhookEvent struct {
	Event      string
	Reference  string
	Status     Status
	Amount     models.Money
	Currency   models.Currency
	Actionable bool
	Raw        []byte
}

// PaymentProvider interface for different payment providers
type PaymentProvider interface {
	Name() models.PaymentProvider
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
	SignatureHeader() string
	VerifySignature(body []byte, signature string) bool
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// Gateway is what the order engine needs from a payment processor
type Gateway interface {
	Provider() models.PaymentProvider
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
}

// PaymentService routes gateway calls to the registered providers
type PaymentService struct {
	providers       map[models.PaymentProvider]PaymentProvider
	defaultProvider models.PaymentProvider
	log             *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{
		providers: make(map[models.PaymentProvider]PaymentProvider),
		log:       log.Named("payment"),
	}
}

// RegisterProvider registers a payment provider. The first registered
// provider is used for new payments.
func (s *PaymentService) RegisterProvider(provider PaymentProvider) {
	s.providers[provider.Name()] = provider
	if s.defaultProvider == "" {
		s.defaultProvider = provider.Name()
	}
}

// Get returns a registered provider
func (s *PaymentService) Get(name models.PaymentProvider) (PaymentProvider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Provider implements Gateway
func (s *PaymentService) Provider() models.PaymentProvider {
	return s.defaultProvider
}

// Initialize implements Gateway
func (s *PaymentService) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	p, err := s.Get(s.defaultProvider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := p.Initialize(ctx, req)
	metrics.ObserveGateway("initialize", start, err)
	if err != nil {
		s.log.Warn("initialize failed",
			zap.String("provider", string(p.Name())),
			zap.String("reference", req.Reference),
			zap.Error(err))
		return nil, err
	}
	return res, nil
}

// Verify implements Gateway
func (s *PaymentService) Verify(ctx context.Context, reference string) (*Verification, error) {
	p, err := s.Get(s.defaultProvider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	v, err := p.Verify(ctx, reference)
	metrics.ObserveGateway("verify", start, err)
	if err != nil {
		s.log.Warn("verify failed",
			zap.String("provider", string(p.Name())),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, err
	}
	return v, nil
}
