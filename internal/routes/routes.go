package routes

import (
	"github.com/labstack/echo/v4"
	limiterpkg "github.com/ulule/limiter/v3"

	"deskwire/internal/auth"
	"deskwire/internal/handlers"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth          *handlers.AuthHandler
	Notifications *handlers.NotificationHandler
	Push          *handlers.PushHandler
	Stream        *handlers.StreamHandler
}

// Setup mounts the API under the given group.
func Setup(api *echo.Group, h Handlers, jwtSecret string, pushLimiter *limiterpkg.Limiter) {
	// Public routes
	api.GET("/health", handlers.HealthCheck)

	authGroup := api.Group("/auth")
	authGroup.POST("/signup", h.Auth.Signup)
	authGroup.POST("/login", h.Auth.Login)

	// Protected routes
	api.Use(auth.JWTMiddleware(jwtSecret))

	notifications := api.Group("/notifications")
	notifications.GET("", h.Notifications.List)
	notifications.GET("/unread-count", h.Notifications.UnreadCount)
	notifications.PATCH("/:id/read", h.Notifications.MarkRead)
	notifications.PATCH("/read-all", h.Notifications.MarkAllRead)
	notifications.DELETE("/:id", h.Notifications.Delete)
	notifications.DELETE("", h.Notifications.DeleteBatch)
	notifications.GET("/stream", h.Stream.Stream)

	push := notifications.Group("/push", auth.RateLimitMiddleware(pushLimiter))
	push.POST("/subscribe", h.Push.Subscribe)
	push.POST("/unsubscribe", h.Push.Unsubscribe)
	push.GET("/public-key", h.Push.PublicKey)

	// Internal trigger surface: workflow components record events here.
	internal := api.Group("/internal")
	internal.POST("/notifications", h.Notifications.Record)
}
