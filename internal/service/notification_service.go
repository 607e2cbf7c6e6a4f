package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/realtime-gateway/internal/events"
	"github.com/spec-kit/realtime-gateway/internal/gateway"
)

// NotificationService pushes session lifecycle events to users over the
// gateway, so every device a user holds sees logins and revocations.
type NotificationService struct {
	dispatcher events.Dispatcher
	gw         *gateway.Gateway
	logger     *zap.Logger
}

// NewNotificationService builds the service.
func NewNotificationService(dispatcher events.Dispatcher, gw *gateway.Gateway, logger *zap.Logger) *NotificationService {
	return &NotificationService{dispatcher: dispatcher, gw: gw, logger: logger}
}

// RegisterHandlers subscribes to the session events worth pushing.
func (s *NotificationService) RegisterHandlers() {
	s.dispatcher.Subscribe(events.EventUserLoggedIn, s.forward("session:login"))
	s.dispatcher.Subscribe(events.EventUserLoggedOut, s.forward("session:logout"))
	s.dispatcher.Subscribe(events.EventSessionRevoked, s.forward("session:revoked"))
}

func (s *NotificationService) forward(wireEvent string) events.EventHandler {
	return func(_ context.Context, event events.Event) error {
		if event.UserID == "" {
			return nil
		}
		if err := s.gw.EmitUser(event.UserID, wireEvent, event.Payload); err != nil {
			if errors.Is(err, gateway.ErrNotInitialized) {
				s.logger.Warn("dropping push, gateway not initialized", zap.String("event", wireEvent))
				return nil
			}
			return err
		}
		return nil
	}
}
