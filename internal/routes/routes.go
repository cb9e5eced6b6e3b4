package routes

import (
	"net/http"
	"time"

	"github.com/agencyhq/backend/internal/handlers"
	"github.com/agencyhq/backend/internal/logging"
	"github.com/agencyhq/backend/internal/metrics"
	"github.com/agencyhq/backend/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handlers groups every HTTP handler the router serves
type Handlers struct {
	Checkout *handlers.CheckoutHandler
	Orders   *handlers.OrderHandler
	Payments *handlers.PaymentHandler
	Referral *handlers.ReferralHandler
	Admin    *handlers.AdminHandler
}

// Options configures the router
type Options struct {
	CORSOrigins []string
	Production  bool
	DB          *gorm.DB
	RateLimiter *middleware.RateLimiter
	Log         *zap.Logger
}

// NewRouter builds the gin engine with all routes registered
func NewRouter(h Handlers, opts Options) *gin.Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = middleware.NewRateLimiter(10, 30, 20, 10)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinLogger(opts.Log))
	router.Use(metrics.GinMiddleware())
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(opts.Production)))

	router.Use(cors.New(corsConfig(opts.CORSOrigins)))

	router.GET("/healthz", healthCheck(opts.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterCheckoutRoutes(router, h.Checkout, opts.RateLimiter)
	SetupPaymentRoutes(router, h.Orders, h.Payments, opts.RateLimiter)
	SetupWebhookRoutes(router, h.Payments, opts.RateLimiter)
	RegisterReferralRoutes(router, h.Referral, opts.RateLimiter)
	RegisterAdminRoutes(router, h.Admin)

	return router
}

// RegisterCheckoutRoutes registers the catalog and anonymous checkout routes
func RegisterCheckoutRoutes(router *gin.Engine, checkoutHandler *handlers.CheckoutHandler, rateLimiter *middleware.RateLimiter) {
	router.GET("/api/services", checkoutHandler.ListServices)

	sessions := router.Group("/api/checkout-sessions")
	{
		sessions.POST("", rateLimiter.IPRateLimiterMiddleware(), checkoutHandler.CreateSession)
		sessions.GET("/:token", checkoutHandler.GetSession)
		sessions.PUT("/:token/contact", rateLimiter.IPRateLimiterMiddleware(), checkoutHandler.AttachContact)
		sessions.POST("/:token/claim", middleware.AuthMiddleware(), checkoutHandler.ClaimSession)
	}
}

// RegisterReferralRoutes registers the referral program routes
func RegisterReferralRoutes(router *gin.Engine, referralHandler *handlers.ReferralHandler, rateLimiter *middleware.RateLimiter) {
	referrals := router.Group("/api/referrals")
	referrals.Use(middleware.AuthMiddleware())
	{
		referrals.POST("/generate-code", referralHandler.GenerateCode)
		referrals.POST("/apply-code", referralHandler.ApplyCode)
		referrals.GET("/my-data", referralHandler.MyData)
		referrals.POST("/request-withdrawal", rateLimiter.UserRateLimiterMiddleware(), referralHandler.RequestWithdrawal)
		referrals.GET("/withdrawals", referralHandler.ListWithdrawals)
	}
}

// RegisterAdminRoutes registers the admin-only routes
func RegisterAdminRoutes(router *gin.Engine, adminHandler *handlers.AdminHandler) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("/withdrawals", adminHandler.ListWithdrawals)
		admin.GET("/withdrawals/:id", adminHandler.GetWithdrawal)
		admin.POST("/withdrawals/:id/process", adminHandler.ProcessWithdrawal)
		admin.POST("/withdrawals/:id/complete", adminHandler.CompleteWithdrawal)
		admin.GET("/referral-settings", adminHandler.GetSettings)
		admin.PUT("/referral-settings", adminHandler.UpdateSettings)
		admin.GET("/webhooks", adminHandler.ListWebhooks)
	}
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOrigins = nil
		config.AllowAllOrigins = true
		config.AllowCredentials = false
	}
	return config
}

func healthCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
