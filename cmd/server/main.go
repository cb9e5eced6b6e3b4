package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agencyhq/backend/internal/config"
	"github.com/agencyhq/backend/internal/database"
	"github.com/agencyhq/backend/internal/handlers"
	"github.com/agencyhq/backend/internal/jobs"
	"github.com/agencyhq/backend/internal/logging"
	"github.com/agencyhq/backend/internal/middleware"
	"github.com/agencyhq/backend/internal/queue"
	"github.com/agencyhq/backend/internal/routes"
	"github.com/agencyhq/backend/internal/security/audit"
	"github.com/agencyhq/backend/internal/services/catalog"
	"github.com/agencyhq/backend/internal/services/checkout"
	"github.com/agencyhq/backend/internal/services/email"
	"github.com/agencyhq/backend/internal/services/ledger"
	"github.com/agencyhq/backend/internal/services/order"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/services/payment/providers/paystack"
	"github.com/agencyhq/backend/internal/services/project"
	"github.com/agencyhq/backend/internal/services/referral"
	"github.com/agencyhq/backend/internal/services/withdrawal"
	"github.com/agencyhq/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	if err := logging.InitLogger(cfg.IsProduction()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := logging.Logger
	defer func() { _ = logger.Sync() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Paystack.SecretKey == "" {
		logger.Warn("PAYSTACK_SECRET_KEY is not set, payments and webhooks will fail")
	}

	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	// Initialize Redis client
	ctx := context.Background()
	redisClient, err := queue.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	auditLogger := audit.NewLogger(db, logger)

	// Initialize services
	catalogService := catalog.NewCatalogService(db)
	sessions := checkout.NewStore(db, catalogService, cfg.Checkout.SessionTTL, logger.Named("checkout"))
	earnings := ledger.New(db)

	percent, err := decimal.NewFromString(cfg.Referral.DefaultCommissionPercent)
	if err != nil {
		logger.Fatal("invalid REFERRAL_COMMISSION_PERCENT", zap.Error(err))
	}
	engine := referral.NewEngine(db, earnings, referral.Defaults{
		CommissionPercentage: percent,
		MinimumWithdrawal:    cfg.Referral.DefaultMinimumWithdrawal,
	}, logger.Named("referral"))
	if err := engine.EnsureSettings(ctx); err != nil {
		logger.Fatal("failed to seed referral settings", zap.Error(err))
	}

	projects := project.NewProjectService(db, logger.Named("project"))

	// Initialize payment providers
	payments := payment.NewPaymentService(logger.Named("payment"))
	payments.RegisterProvider(paystack.NewPaystackProvider(paystack.PaystackConfig{
		SecretKey: cfg.Paystack.SecretKey,
		PublicKey: cfg.Paystack.PublicKey,
		BaseURL:   cfg.Paystack.BaseURL,
		Timeout:   time.Duration(cfg.Paystack.TimeoutSeconds) * time.Second,
	}))

	orders := order.NewOrderService(db, payments, sessions, projects, engine, order.Config{
		ReferenceTTL:       cfg.Payment.ReferenceTTL,
		ReactivateCooldown: cfg.Payment.ReactivateCooldown,
		CallbackURL:        callbackURL(cfg),
	}, logger.Named("order"))
	orders.SetAuditLogger(auditLogger)

	withdrawals := withdrawal.NewWithdrawalService(db, earnings, engine, auditLogger, logger.Named("withdrawal"))

	// Background jobs
	redisQueue := queue.NewRedisQueue(redisClient, logger.Named("queue"))
	dispatcher := jobs.NewDispatcher(redisQueue, logger.Named("dispatcher"))
	orders.SetNotifier(dispatcher)
	withdrawals.SetNotifier(dispatcher)

	mailer := email.NewEmailService(cfg.SMTP, cfg.FrontendURL, logger.Named("email"))
	if !mailer.Enabled() {
		logger.Warn("SMTP_HOST is not set, notification emails are logged instead of sent")
	}

	jobProcessor := queue.NewJobProcessor(redisQueue, cfg.Workers.Count, logger.Named("jobs"))
	jobs.RegisterAllJobHandlers(jobProcessor, db, mailer, orders, logger.Named("jobs"))
	jobProcessor.Start()

	var scheduler *jobs.Scheduler
	if cfg.Workers.RunScheduler {
		scheduler = jobs.NewScheduler(sessions, orders, engine, dispatcher,
			jobs.DefaultScheduleConfig(cfg.Payment.ReconcileAfter), logger.Named("scheduler"))
		if err := scheduler.Start(); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
	}

	// Initialize handlers
	webhooks := payment.NewWebhookLog(db)
	rateLimiter := middleware.NewRateLimiter(10, 30, 20, 10)
	defer rateLimiter.Stop()

	router := routes.NewRouter(routes.Handlers{
		Checkout: handlers.NewCheckoutHandler(catalogService, sessions, logger),
		Orders:   handlers.NewOrderHandler(orders, catalogService, projects, logger),
		Payments: handlers.NewPaymentHandler(payments, orders, webhooks, auditLogger, dispatcher, logger),
		Referral: handlers.NewReferralHandler(engine, withdrawals, logger),
		Admin:    handlers.NewAdminHandler(engine, withdrawals, webhooks, logger),
	}, routes.Options{
		CORSOrigins: cfg.CORSOrigins,
		Production:  cfg.IsProduction(),
		DB:          db,
		RateLimiter: rateLimiter,
		Log:         logger.Named("http"),
	})

	// Start server
	srv := startServer(router, cfg.Server, logger)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	jobProcessor.Stop()

	logger.Info("server exiting")
}

// callbackURL is where Paystack sends the customer after checkout
func callbackURL(cfg *config.Config) string {
	if cfg.Paystack.CallbackURL != "" {
		return cfg.Paystack.CallbackURL
	}
	return strings.TrimRight(cfg.FrontendURL, "/") + "/payment-success"
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:       time.Minute,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.Port))
	return srv
}
