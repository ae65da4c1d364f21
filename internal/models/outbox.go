// internal/models/outbox.go
package models

import (
	"encoding/json"
	"time"
)

// SideEffectKind names a deferred side effect.
type SideEffectKind string

const (
	SideEffectNotification   SideEffectKind = "notification"
	SideEffectWelcomeMessage SideEffectKind = "welcome_message"
)

// SideEffect is a parked side effect waiting for replay.
type SideEffect struct {
	ID          string          `json:"id"`
	Kind        SideEffectKind  `json:"kind"`
	ReferenceID string          `json:"referenceId"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	NextAttempt time.Time       `json:"nextAttempt"`
}

// WelcomeMessagePayload is the payload of a parked welcome message.
type WelcomeMessagePayload struct {
	ApplicationID string `json:"applicationId"`
	YouthID       string `json:"youthId"`
	ElderlyID     string `json:"elderlyId"`
}

// StageTransition is the idempotency record for one stage advance.
type StageTransition struct {
	RelationshipID string    `json:"relationshipId"`
	FromStage      Stage     `json:"fromStage"`
	ToStage        Stage     `json:"toStage"`
	CreatedAt      time.Time `json:"createdAt"`
}
