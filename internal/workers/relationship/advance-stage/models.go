// internal/workers/relationship/advance-stage/models.go
package advancestage

const (
	ActionAdvance        = "advance"
	ActionRecordActivity = "record_activity"
	ActionSignOff        = "sign_off"
)

type Input struct {
	Action string `json:"action" validate:"required,oneof=advance record_activity sign_off"`
	// UserID selects the relationship for advance; the other actions name it directly.
	UserID         string `json:"userId" validate:"required_if=Action advance,required_if=Action sign_off"`
	RelationshipID string `json:"relationshipId" validate:"required_unless=Action advance"`
	Metric         string `json:"metric,omitempty" validate:"omitempty,metric"`
	Delta          int    `json:"delta,omitempty"`
	RequirementID  string `json:"requirementId,omitempty" validate:"required_if=Action sign_off"`
}

type Output struct {
	RelationshipID     string `json:"relationshipId"`
	CurrentStage       string `json:"currentStage"`
	Advanced           bool   `json:"advanced"`
	From               string `json:"from,omitempty"`
	To                 string `json:"to,omitempty"`
	Reason             string `json:"reason,omitempty"`
	ProgressPercentage int    `json:"progressPercentage"`
	RequirementsMet    bool   `json:"requirementsMet"`
}
