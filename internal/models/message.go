// internal/models/message.go
package models

import "time"

// SystemSenderID marks messages authored by the platform rather than a party.
const SystemSenderID = "system"

// WelcomeText opens every new pre-match chat.
const WelcomeText = "You are now connected. Take your time getting to know each other."

// Message is one chat message in a pre-match or relationship channel.
type Message struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	SenderID      string    `json:"senderId"`
	Content       string    `json:"content"`
	IsSystem      bool      `json:"isSystem"`
	CreatedAt     time.Time `json:"createdAt"`
}
