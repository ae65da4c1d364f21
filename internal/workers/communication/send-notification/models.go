// internal/workers/communication/send-notification/models.go
package sendnotification

import "companion-workers/internal/models"

type Input struct {
	models.NotificationRequest
}

type Output struct {
	NotificationID string   `json:"notificationId"`
	Status         string   `json:"status"`
	Channels       []string `json:"channels"`
}
