// internal/workers/interest/close-application/models.go
package closeapplication

import "companion-workers/internal/models"

const (
	ActionWithdraw         = "withdraw"
	ActionEndPreMatch      = "end_pre_match"
	ActionConfirmRejection = "confirm_rejection"
	ActionDelete           = "delete"
)

type Input struct {
	Actor      models.Actor `json:"actor" validate:"required"`
	InterestID string       `json:"interestId" validate:"required"`
	Action     string       `json:"action" validate:"required,oneof=withdraw end_pre_match confirm_rejection delete"`
	Reason     string       `json:"reason,omitempty" validate:"max=1000"`
}

type Output struct {
	InterestID string `json:"interestId"`
	Status     string `json:"status,omitempty"`
	Deleted    bool   `json:"deleted"`
}
