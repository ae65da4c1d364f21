// Package store declares the persistence contracts the matching engines depend on.
package store

import (
	"context"
	"errors"
	"time"

	"companion-workers/internal/models"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDuplicate          = errors.New("duplicate record")
)

// InterestFilter selects interests. Zero fields do not filter.
type InterestFilter struct {
	YouthID        string
	ElderlyID      string
	Statuses       []models.InterestStatus
	AppliedBefore  time.Time
	ReminderUnsent bool
	Limit          int
}

// Admission decides, under the store's admission lock, whether a pending
// interest may become active given each party's current active pre-match count.
type Admission func(youthActive, elderlyActive int) error

// InterestStore persists Interest records.
type InterestStore interface {
	GetInterest(ctx context.Context, id string) (*models.Interest, error)
	ListInterests(ctx context.Context, f InterestFilter) ([]*models.Interest, error)
	CountActivePreMatches(ctx context.Context, userID string, role models.Role) (int, error)

	// CreateInterest inserts in unless the pair already has a blocking interest (ErrDuplicate).
	CreateInterest(ctx context.Context, in *models.Interest) error

	// UpdateInterest writes in when the stored status equals expected and
	// returns the stored row. A mismatch yields ErrPreconditionFailed.
	UpdateInterest(ctx context.Context, in *models.Interest, expected models.InterestStatus) (*models.Interest, error)

	// ActivatePreMatch serializes admissions for both parties, runs admit
	// against their live counts and, if admitted, writes in over a
	// pending_interest row.
	ActivatePreMatch(ctx context.Context, in *models.Interest, admit Admission) (*models.Interest, error)

	// DeleteInterest removes the record if its status equals expected.
	DeleteInterest(ctx context.Context, id string, expected models.InterestStatus) error
}

// RelationshipGuard is the precondition for a conditional relationship write.
type RelationshipGuard struct {
	Status           models.RelationshipStatus
	EndRequestStatus models.EndRequestStatus
	Stage            models.Stage
}

// GuardOf captures r's current precondition columns.
func GuardOf(r *models.Relationship) RelationshipGuard {
	return RelationshipGuard{Status: r.Status, EndRequestStatus: r.EndRequestStatus, Stage: r.CurrentStage}
}

// RelationshipStore persists Relationships, their requirements and the stage idempotency records.
type RelationshipStore interface {
	GetRelationship(ctx context.Context, id string) (*models.Relationship, error)
	GetRelationshipByApplication(ctx context.Context, applicationID string) (*models.Relationship, error)
	// GetCurrentRelationship returns the user's most recent non-ended relationship.
	GetCurrentRelationship(ctx context.Context, userID string) (*models.Relationship, error)

	// CreateRelationship inserts r with its first-stage requirements; one per application (ErrDuplicate).
	CreateRelationship(ctx context.Context, r *models.Relationship, reqs []*models.StageRequirement) error

	// UpdateRelationship writes r if the stored row still matches guard.
	UpdateRelationship(ctx context.Context, r *models.Relationship, guard RelationshipGuard) (*models.Relationship, error)

	// AdvanceStage moves an active relationship from `from` to next, resets its
	// metrics and start date, seeds reqs and records the (relationship, next)
	// transition in one transaction. A stale stage, a paused relationship or an
	// already-recorded transition yields ErrPreconditionFailed.
	AdvanceStage(ctx context.Context, relationshipID string, from, next models.Stage, at time.Time, reqs []*models.StageRequirement) (*models.Relationship, error)

	// IncrementMetric adds delta to one counter, flooring at zero.
	IncrementMetric(ctx context.Context, relationshipID string, metric models.Metric, delta int) (*models.Relationship, error)

	// SaveProgress stores derived progress if the relationship is still on stage.
	SaveProgress(ctx context.Context, relationshipID string, stage models.Stage, percent int, met bool) error

	ListRequirements(ctx context.Context, relationshipID string, stage models.Stage) ([]*models.StageRequirement, error)
	UpdateRequirement(ctx context.Context, req *models.StageRequirement) error

	// ListCoolingExpired returns paused relationships whose cooldown ended before now.
	ListCoolingExpired(ctx context.Context, now time.Time, limit int) ([]*models.Relationship, error)

	ListTransitions(ctx context.Context, relationshipID string) ([]models.StageTransition, error)

	// ClaimStageSignal records that the signal kind for (relationship, stage)
	// was delivered. It reports false when someone already claimed it.
	ClaimStageSignal(ctx context.Context, relationshipID string, stage models.Stage, kind string) (bool, error)
}

// MessageStore is the chat collaborator.
type MessageStore interface {
	CreateWelcomeMessage(ctx context.Context, applicationID, youthID, elderlyID string) (*models.Message, error)
	DeleteMessagesByApplication(ctx context.Context, applicationID string) error
}

// NotificationStore persists notification rows.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	MarkDelivered(ctx context.Context, id string, channels []string, at time.Time) error
}

// OutboxStore parks side effects that exhausted their inline retries.
type OutboxStore interface {
	ParkSideEffect(ctx context.Context, se *models.SideEffect) error
	DueSideEffects(ctx context.Context, now time.Time, limit int) ([]*models.SideEffect, error)
	RescheduleSideEffect(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	DeleteSideEffect(ctx context.Context, id string) error
}

// Store is everything the engines need.
type Store interface {
	InterestStore
	RelationshipStore
	MessageStore
	NotificationStore
	OutboxStore
}
