// internal/workers/interest/respond-to-interest/models.go
package respondtointerest

import "companion-workers/internal/models"

type Input struct {
	Actor      models.Actor `json:"actor" validate:"required"`
	InterestID string       `json:"interestId" validate:"required"`
	Accept     *bool        `json:"accept" validate:"required"`
}

type Output struct {
	InterestID     string `json:"interestId"`
	Status         string `json:"status"`
	PreMatchActive bool   `json:"preMatchActive"`
}
