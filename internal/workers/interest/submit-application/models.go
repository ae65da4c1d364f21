// internal/workers/interest/submit-application/models.go
package submitapplication

import "companion-workers/internal/models"

type Input struct {
	Actor            models.Actor `json:"actor" validate:"required"`
	InterestID       string       `json:"interestId" validate:"required"`
	MotivationLetter string       `json:"motivationLetter" validate:"required"`
}

type Output struct {
	InterestID string `json:"interestId"`
	Status     string `json:"status"`
}
