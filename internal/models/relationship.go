// internal/models/relationship.go
package models

import "time"

// Stage is one of the ordered phases of an established Relationship.
type Stage string

const (
	StageGettingToKnow    Stage = "getting_to_know"
	StageTrialPeriod      Stage = "trial_period"
	StageOfficialCeremony Stage = "official_ceremony"
	StageFamilyLife       Stage = "family_life"
)

// StageOrder is the fixed progression order.
var StageOrder = []Stage{
	StageGettingToKnow,
	StageTrialPeriod,
	StageOfficialCeremony,
	StageFamilyLife,
}

var stageDisplayNames = map[Stage]string{
	StageGettingToKnow:    "Getting to Know",
	StageTrialPeriod:      "Trial Period",
	StageOfficialCeremony: "Official Ceremony",
	StageFamilyLife:       "Family Life",
}

// Index returns the position of s in StageOrder, or -1.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool { return s.Index() >= 0 }

// IsLast reports whether s is the final stage.
func (s Stage) IsLast() bool { return s.Index() == len(StageOrder)-1 }

// Next returns the stage after s. ok is false on the last stage.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx >= len(StageOrder)-1 {
		return "", false
	}
	return StageOrder[idx+1], true
}

// Previous returns the stage before s. ok is false on the first stage.
func (s Stage) Previous() (Stage, bool) {
	idx := s.Index()
	if idx <= 0 {
		return "", false
	}
	return StageOrder[idx-1], true
}

// DisplayName is the human label for s.
func (s Stage) DisplayName() string {
	if name, ok := stageDisplayNames[s]; ok {
		return name
	}
	return string(s)
}

// RelationshipStatus is the coarse status of a Relationship.
type RelationshipStatus string

const (
	RelationshipActive RelationshipStatus = "active"
	RelationshipPaused RelationshipStatus = "paused"
	RelationshipEnded  RelationshipStatus = "ended"
)

// EndRequestStatus tracks the withdrawal sub-protocol.
type EndRequestStatus string

const (
	EndRequestNone            EndRequestStatus = "none"
	EndRequestPendingCooldown EndRequestStatus = "pending_cooldown"
	EndRequestUnderReview     EndRequestStatus = "under_review"
	EndRequestApproved        EndRequestStatus = "approved"
	EndRequestRejected        EndRequestStatus = "rejected"
)

// Metric names a counted activity.
type Metric string

const (
	MetricMeetings   Metric = "meetings"
	MetricActiveDays Metric = "active_days"
	MetricVideoCalls Metric = "video_calls"
	MetricMessages   Metric = "messages"
)

// IsValid reports whether m is a known metric.
func (m Metric) IsValid() bool {
	switch m {
	case MetricMeetings, MetricActiveDays, MetricVideoCalls, MetricMessages:
		return true
	default:
		return false
	}
}

// StageMetrics are the activity counters for the current stage.
type StageMetrics struct {
	Meetings           int  `json:"meetings"`
	ActiveDays         int  `json:"activeDays"`
	VideoCalls         int  `json:"videoCalls"`
	MessageCount       int  `json:"messageCount"`
	ProgressPercentage int  `json:"progressPercentage"`
	RequirementsMet    bool `json:"requirementsMet"`
}

// Value returns the counter for m.
func (sm StageMetrics) Value(m Metric) int {
	switch m {
	case MetricMeetings:
		return sm.Meetings
	case MetricActiveDays:
		return sm.ActiveDays
	case MetricVideoCalls:
		return sm.VideoCalls
	case MetricMessages:
		return sm.MessageCount
	default:
		return 0
	}
}

// Add returns a copy of sm with delta applied to m. Counters never drop below zero.
func (sm StageMetrics) Add(m Metric, delta int) StageMetrics {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		return v
	}
	switch m {
	case MetricMeetings:
		sm.Meetings = clamp(sm.Meetings + delta)
	case MetricActiveDays:
		sm.ActiveDays = clamp(sm.ActiveDays + delta)
	case MetricVideoCalls:
		sm.VideoCalls = clamp(sm.VideoCalls + delta)
	case MetricMessages:
		sm.MessageCount = clamp(sm.MessageCount + delta)
	}
	return sm
}

// Relationship is an accepted, ongoing companionship.
type Relationship struct {
	ID               string             `json:"id"`
	YouthID          string             `json:"youthId"`
	ElderlyID        string             `json:"elderlyId"`
	ApplicationID    string             `json:"applicationId"`
	CurrentStage     Stage              `json:"currentStage"`
	StageStartDate   time.Time          `json:"stageStartDate"`
	Metrics          StageMetrics       `json:"stageMetrics"`
	Status           RelationshipStatus `json:"status"`
	EndRequestStatus EndRequestStatus   `json:"endRequestStatus"`
	EndRequestBy     string             `json:"endRequestBy,omitempty"`
	EndRequestReason string             `json:"endRequestReason,omitempty"`
	EndRequestAt     *time.Time         `json:"endRequestAt,omitempty"`
	CoolingEndsAt    *time.Time         `json:"coolingEndsAt,omitempty"`
	ProgressFrozenAt *int               `json:"progressFrozenAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// IsParty reports whether userID is one of the two parties.
func (r *Relationship) IsParty(userID string) bool {
	return userID != "" && (r.YouthID == userID || r.ElderlyID == userID)
}

// Counterpart returns the other party's id.
func (r *Relationship) Counterpart(userID string) string {
	if userID == r.YouthID {
		return r.ElderlyID
	}
	return r.YouthID
}

// DisplayedProgress is the progress shown to users: the frozen value while paused.
func (r *Relationship) DisplayedProgress() int {
	if r.Status == RelationshipPaused && r.ProgressFrozenAt != nil {
		return *r.ProgressFrozenAt
	}
	return r.Metrics.ProgressPercentage
}
