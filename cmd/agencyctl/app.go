package main

import (
	"fmt"
	"time"

	"github.com/agencyhq/backend/internal/config"
	"github.com/agencyhq/backend/internal/database"
	"github.com/agencyhq/backend/internal/logging"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/services/checkout"
	"github.com/agencyhq/backend/internal/services/ledger"
	"github.com/agencyhq/backend/internal/services/order"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/services/payment/providers/paystack"
	"github.com/agencyhq/backend/internal/services/project"
	"github.com/agencyhq/backend/internal/services/referral"
	"github.com/shopspring/decimal"
)

// app is the subset of the service graph the operator tasks need. Order
// notifications are not queued from here.
type app struct {
	catalog  *catalog.CatalogService
	sessions *checkout.Store
	engine   *referral.Engine
	orders   *order.OrderService
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	percent, err := decimal.NewFromString(cfg.Referral.DefaultCommissionPercent)
	if err != nil {
		return nil, fmt.Errorf("invalid REFERRAL_COMMISSION_PERCENT: %w", err)
	}

	log := logging.Named("agencyctl")
	catalogService := catalog.NewCatalogService(db)
	sessions := checkout.NewStore(db, catalogService, cfg.Checkout.SessionTTL, log)
	engine := referral.NewEngine(db, ledger.New(db), referral.Defaults{
		CommissionPercentage: percent,
		MinimumWithdrawal:    cfg.Referral.DefaultMinimumWithdrawal,
	}, log)

	payments := payment.NewPaymentService(log)
	payments.RegisterProvider(paystack.NewPaystackProvider(paystack.PaystackConfig{
		SecretKey: cfg.Paystack.SecretKey,
		PublicKey: cfg.Paystack.PublicKey,
		BaseURL:   cfg.Paystack.BaseURL,
		Timeout:   time.Duration(cfg.Paystack.TimeoutSeconds) * time.Second,
	}))

	orders := order.NewOrderService(db, payments, sessions, project.NewProjectService(db, log), engine, order.Config{
		ReferenceTTL:       cfg.Payment.ReferenceTTL,
		ReactivateCooldown: cfg.Payment.ReactivateCooldown,
		CallbackURL:        cfg.Paystack.CallbackURL,
	}, log)
	orders.SetAuditLogger(audit.NewLogger(db, log))

	return &app{
		catalog:  catalogService,
		sessions: sessions,
		engine:   engine,
		orders:   orders,
	}, nil
}
