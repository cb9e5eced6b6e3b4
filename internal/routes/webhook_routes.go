package routes

import (
	"github.com/agencyhq/backend/internal/handlers"
	"github.com/agencyhq/backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

// SetupWebhookRoutes configures routes for webhook endpoints. They are
// authenticated by the provider signature, not by a user token.
func SetupWebhookRoutes(router *gin.Engine, paymentHandler *handlers.PaymentHandler, rateLimiter *middleware.RateLimiter) {
	webhooks := router.Group("/api/webhooks")
	webhooks.Use(rateLimiter.IPRateLimiterMiddleware())
	{
		webhooks.POST("/paystack", paymentHandler.PaystackWebhook)
	}
}
