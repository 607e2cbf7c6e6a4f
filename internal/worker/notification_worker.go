package worker

import (
	"github.com/spec-kit/realtime-gateway/internal/service"
)

// StartNotificationWorker registers session push handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
