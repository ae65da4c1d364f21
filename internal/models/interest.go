// internal/models/interest.go
package models

import "time"

// InterestStatus is the lifecycle status of an Interest/Application record.
type InterestStatus string

const (
	StatusPendingInterest InterestStatus = "pending_interest"
	StatusPreChatActive   InterestStatus = "pre_chat_active"
	StatusRejected        InterestStatus = "rejected"
	StatusPendingReview   InterestStatus = "pending_review"
	StatusApproved        InterestStatus = "approved"
	StatusBothAccepted    InterestStatus = "both_accepted"
	StatusInfoRequested   InterestStatus = "info_requested"
)

// Decision is one party's answer on an Interest.
type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// EndReason records why an Interest landed in rejected.
type EndReason string

const (
	EndReasonNone             EndReason = ""
	EndReasonInterestDeclined EndReason = "interest_declined"
	EndReasonPreMatchEnded    EndReason = "pre_match_ended"
	EndReasonReviewRejected   EndReason = "review_rejected"
	EndReasonElderlyDeclined  EndReason = "elderly_declined"
	EndReasonWithdrawn        EndReason = "withdrawn"
)

// Interest tracks one youth-elderly pairing from first contact through the formal decision.
type Interest struct {
	ID               string         `json:"id"`
	YouthID          string         `json:"youthId"`
	ElderlyID        string         `json:"elderlyId"`
	Status           InterestStatus `json:"status"`
	YouthDecision    Decision       `json:"youthDecision"`
	ElderlyDecision  Decision       `json:"elderlyDecision"`
	MotivationLetter string         `json:"motivationLetter,omitempty"`
	RejectionReason  string         `json:"rejectionReason,omitempty"`
	EndReason        EndReason      `json:"endReason,omitempty"`
	AppliedAt        time.Time      `json:"appliedAt"`
	ReviewedAt       *time.Time     `json:"reviewedAt,omitempty"`
	ReminderSentAt   *time.Time     `json:"reminderSentAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// BlockingStatuses are the statuses that occupy a (youth, elderly) pair.
// Only rejected frees the pair for a new Interest.
var BlockingStatuses = []InterestStatus{
	StatusPendingInterest,
	StatusPreChatActive,
	StatusPendingReview,
	StatusInfoRequested,
	StatusApproved,
	StatusBothAccepted,
}

// IsBlocking reports whether s occupies the pair.
func (s InterestStatus) IsBlocking() bool {
	for _, b := range BlockingStatuses {
		if b == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status transition is possible.
func (s InterestStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusBothAccepted
}

// IsParty reports whether userID is one of the two parties.
func (i *Interest) IsParty(userID string) bool {
	return userID != "" && (i.YouthID == userID || i.ElderlyID == userID)
}

// PartyRole returns the role userID plays on this Interest.
func (i *Interest) PartyRole(userID string) (Role, bool) {
	switch userID {
	case i.YouthID:
		return RoleYouth, true
	case i.ElderlyID:
		return RoleElderly, true
	default:
		return "", false
	}
}

// Counterpart returns the other party's id.
func (i *Interest) Counterpart(userID string) string {
	if userID == i.YouthID {
		return i.ElderlyID
	}
	return i.YouthID
}
