// internal/workers/relationship/withdrawal/models.go
package withdrawal

import (
	"time"

	"companion-workers/internal/models"
)

const (
	ActionRequest = "request"
	ActionCancel  = "cancel"
	ActionResolve = "resolve"
)

type Input struct {
	Actor          models.Actor `json:"actor" validate:"required"`
	RelationshipID string       `json:"relationshipId" validate:"required"`
	Action         string       `json:"action" validate:"required,oneof=request cancel resolve"`
	Reason         string       `json:"reason,omitempty" validate:"max=1000"`
	Approve        *bool        `json:"approve,omitempty" validate:"required_if=Action resolve"`
}

type Output struct {
	RelationshipID   string     `json:"relationshipId"`
	Status           string     `json:"status"`
	EndRequestStatus string     `json:"endRequestStatus"`
	CoolingEndsAt    *time.Time `json:"coolingEndsAt,omitempty"`
}
