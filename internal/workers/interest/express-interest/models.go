// internal/workers/interest/express-interest/models.go
package expressinterest

import "time"

type Input struct {
	YouthID   string `json:"youthId" validate:"required"`
	ElderlyID string `json:"elderlyId" validate:"required,nefield=YouthID"`
}

type Output struct {
	InterestID string    `json:"interestId"`
	Status     string    `json:"status"`
	AppliedAt  time.Time `json:"appliedAt"`
}
