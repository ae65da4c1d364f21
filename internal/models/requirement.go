// internal/models/requirement.go
package models

import "time"

// RequirementKind says how a requirement gets satisfied.
type RequirementKind string

const (
	RequirementCounted RequirementKind = "counted"
	RequirementManual  RequirementKind = "manual"
)

// StageRequirement is one checklist item gating advancement out of a stage.
type StageRequirement struct {
	ID             string          `json:"id"`
	RelationshipID string          `json:"relationshipId"`
	Stage          Stage           `json:"stage"`
	Key            string          `json:"key"`
	Title          string          `json:"title"`
	Kind           RequirementKind `json:"kind"`
	Metric         Metric          `json:"metric,omitempty"`
	Target         int             `json:"target,omitempty"`
	Completed      bool            `json:"completed"`
	CompletedBy    string          `json:"completedBy,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// SatisfiedBy reports whether a counted requirement is met by metrics.
// Manual requirements are only satisfied by sign-off.
func (r *StageRequirement) SatisfiedBy(metrics StageMetrics) bool {
	if r.Kind != RequirementCounted {
		return r.Completed
	}
	return metrics.Value(r.Metric) >= r.Target
}
