package routes

import (
	"github.com/agencyhq/backend/internal/handlers"
	"github.com/agencyhq/backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

// SetupPaymentRoutes sets up order, project and payment redirect routes
func SetupPaymentRoutes(router *gin.Engine, orderHandler *handlers.OrderHandler, paymentHandler *handlers.PaymentHandler, rateLimiter *middleware.RateLimiter) {
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware())
	{
		orders := api.Group("/orders")
		{
			orders.POST("", orderHandler.CreateOrder)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.POST("/:id/pay", rateLimiter.UserRateLimiterMiddleware(), orderHandler.InitializePayment)
			orders.POST("/:id/reactivate-payment", rateLimiter.UserRateLimiterMiddleware(), orderHandler.ReactivatePayment)
			orders.POST("/:id/cancel", orderHandler.CancelOrder)
			orders.DELETE("/:id", orderHandler.CancelOrder)
		}

		api.GET("/projects", orderHandler.ListProjects)
	}

	// Gateway redirect target
	router.GET("/payment-success", paymentHandler.PaymentSuccess)
}
