package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/realtime-gateway/internal/gateway"
	"github.com/spec-kit/realtime-gateway/internal/observability"
	"github.com/spec-kit/realtime-gateway/internal/service"
)

// GatewayHandler exposes administrative visibility into the realtime layer.
type GatewayHandler struct {
	gw      *gateway.Gateway
	auth    *service.AuthService
	metrics *observability.Metrics
}

// NewGatewayHandler returns a new handler instance.
func NewGatewayHandler(gw *gateway.Gateway, authService *service.AuthService, metrics *observability.Metrics) *GatewayHandler {
	return &GatewayHandler{gw: gw, auth: authService, metrics: metrics}
}

// Stats handles GET /admin/gateway/stats.
func (h *GatewayHandler) Stats(c *fiber.Ctx) error {
	records := h.gw.ConnectedRecords()
	connections := make([]fiber.Map, 0, len(records))
	for _, rec := range records {
		connections = append(connections, fiber.Map{
			"connection_id":    rec.ConnectionID,
			"user_id":          rec.UserID,
			"connected_at":     rec.ConnectedAt,
			"last_activity_at": rec.LastActivityAt,
		})
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"connected":   h.gw.ConnectedCount(),
			"connections": connections,
			"counters":    h.metrics.GatewaySnapshot(),
		},
	})
}

// UserStatus handles GET /admin/gateway/users/:id.
func (h *GatewayHandler) UserStatus(c *fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user id required")
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user_id": userID,
			"online":  h.gw.IsUserOnline(userID),
			"sockets": h.gw.UserSockets(userID),
		},
	})
}

// DisconnectUser handles DELETE /admin/gateway/users/:id. It drops every
// connection the user holds and revokes their refresh tokens.
func (h *GatewayHandler) DisconnectUser(c *fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user id required")
	}

	if err := h.auth.RevokeAllSessions(c.Context(), userID); err != nil {
		return err
	}
	if err := h.gw.DisconnectUser(userID); err != nil {
		if errors.Is(err, gateway.ErrNotInitialized) {
			return fiber.NewError(http.StatusServiceUnavailable, "gateway unavailable")
		}
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"disconnected": true}})
}

// DisconnectSocket handles DELETE /admin/gateway/sockets/:id.
func (h *GatewayHandler) DisconnectSocket(c *fiber.Ctx) error {
	connectionID := c.Params("id")
	if connectionID == "" {
		return fiber.NewError(http.StatusBadRequest, "connection id required")
	}

	if err := h.gw.DisconnectSocket(connectionID); err != nil {
		switch {
		case errors.Is(err, gateway.ErrNotInitialized):
			return fiber.NewError(http.StatusServiceUnavailable, "gateway unavailable")
		case errors.Is(err, gateway.ErrConnectionNotFound):
			return fiber.NewError(http.StatusNotFound, "connection not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"disconnected": true}})
}
