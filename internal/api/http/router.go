package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/realtime-gateway/internal/api/http/handlers"
	"github.com/spec-kit/realtime-gateway/internal/auth"
	"github.com/spec-kit/realtime-gateway/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Gateway        *handlers.GatewayHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/otp/request", cfg.Auth.RequestOtp)
	authGroup.Post("/otp/verify", cfg.Auth.VerifyOtp)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin))
	admin.Get("/gateway/stats", cfg.Gateway.Stats)
	admin.Get("/gateway/users/:id", cfg.Gateway.UserStatus)
	admin.Delete("/gateway/users/:id", cfg.Gateway.DisconnectUser)
	admin.Delete("/gateway/sockets/:id", cfg.Gateway.DisconnectSocket)
}
