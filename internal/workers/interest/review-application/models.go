// internal/workers/interest/review-application/models.go
package reviewapplication

import "companion-workers/internal/models"

// Actions accepted by the review task.
const (
	ActionRequestInfo = "request_info"
	ActionReview      = "review"
	ActionDecide      = "decide"
)

type Input struct {
	Actor      models.Actor `json:"actor" validate:"required"`
	InterestID string       `json:"interestId" validate:"required"`
	Action     string       `json:"action" validate:"required,oneof=request_info review decide"`
	// Approve is the admin verdict for review and the elderly answer for decide.
	Approve *bool  `json:"approve" validate:"required_unless=Action request_info"`
	Reason  string `json:"reason,omitempty" validate:"max=1000"`
}

type Output struct {
	InterestID     string `json:"interestId"`
	Status         string `json:"status"`
	Matched        bool   `json:"matched"`
	RelationshipID string `json:"relationshipId,omitempty"`
}
