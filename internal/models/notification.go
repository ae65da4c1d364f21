// internal/models/notification.go
package models

import "time"

// NotificationType classifies a user-facing notification.
type NotificationType string

const (
	NotificationNewInterest       NotificationType = "new_interest"
	NotificationInterestAccepted  NotificationType = "interest_accepted"
	NotificationInterestDeclined  NotificationType = "interest_declined"
	NotificationApplicationQueued NotificationType = "application_submitted"
	NotificationInfoRequested     NotificationType = "info_requested"
	NotificationApplicationReview NotificationType = "application_reviewed"
	NotificationMatchAccepted     NotificationType = "match_accepted"
	NotificationMatchDeclined     NotificationType = "match_declined"
	NotificationPreMatchEnded     NotificationType = "pre_match_ended"
	NotificationDecisionRequired  NotificationType = "decision_required"
	NotificationStageAdvanced     NotificationType = "stage_advanced"
	NotificationJourneyComplete   NotificationType = "journey_complete"
	NotificationWithdrawal        NotificationType = "withdrawal_requested"
	NotificationCoolingEnded      NotificationType = "cooling_ended"
	NotificationEndResolved       NotificationType = "end_request_resolved"
)

// NotificationRequest is what engines hand to the dispatcher.
type NotificationRequest struct {
	UserID      string           `json:"userId" validate:"required"`
	Type        NotificationType `json:"type" validate:"required"`
	Title       string           `json:"title" validate:"required"`
	Message     string           `json:"message"`
	ReferenceID string           `json:"referenceId,omitempty"`
}

// Notification is a persisted notification row.
type Notification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	ReferenceID string           `json:"referenceId,omitempty"`
	Channels    []string         `json:"channels,omitempty"` // "push", "email"
	Status      string           `json:"status"`             // "created", "delivered", "failed"
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"createdAt"`
	DeliveredAt *time.Time       `json:"deliveredAt,omitempty"`
}
