// Package cooling implements the withdrawal sub-protocol: a party asks to end
// a Relationship, which pauses it with frozen progress for a fixed cooldown
// before the end request is resolved.
package cooling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"companion-workers/internal/common/config"
	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/metrics"
	"companion-workers/internal/matching/effects"
	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

// DefaultCooldown is the pause between a withdrawal request and its resolution.
const DefaultCooldown = 72 * time.Hour

// Policy decides what happens when a cooldown elapses.
type Policy string

const (
	PolicyReview   Policy = config.PostCooldownReview
	PolicyResume   Policy = config.PostCooldownResume
	PolicyFinalize Policy = config.PostCooldownFinalize
)

// ProgressSource computes the live progress of a stage.
type ProgressSource interface {
	ComputeProgressPercent(ctx context.Context, relationshipID string, stage models.Stage) (int, error)
}

type Config struct {
	Cooldown time.Duration
	Policy   Policy
}

type Deps struct {
	Store    store.RelationshipStore
	Effects  *effects.Runner
	Progress ProgressSource
	Clock    func() time.Time
}

type Service struct {
	cfg      Config
	store    store.RelationshipStore
	effects  *effects.Runner
	progress ProgressSource
	now      func() time.Time
	logger   logger.Logger
}

func NewService(cfg Config, deps Deps, log logger.Logger) *Service {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReview
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		effects:  deps.Effects,
		progress: deps.Progress,
		now:      now,
		logger:   logger.ForComponent(log, "cooling"),
	}
}

func (s *Service) load(ctx context.Context, id string) (*models.Relationship, error) {
	rel, err := s.store.GetRelationship(ctx, id)
	if err != nil {
		return nil, store.Translate(err, "relationship", id)
	}
	return rel, nil
}

func (s *Service) write(ctx context.Context, next *models.Relationship, guard store.RelationshipGuard, outcome string) (*models.Relationship, error) {
	saved, err := s.store.UpdateRelationship(ctx, next, guard)
	if err != nil {
		return nil, store.Translate(err, "relationship", next.ID)
	}
	metrics.WithdrawalEvents.WithLabelValues(outcome).Inc()
	s.logger.Info("withdrawal "+outcome, map[string]interface{}{
		"relationshipId": saved.ID, "status": string(saved.Status), "endRequestStatus": string(saved.EndRequestStatus),
	})
	if s.effects != nil {
		s.effects.Emit(ctx, models.TableRelationships, models.OpUpdate, saved.ID, saved, saved.YouthID, saved.ElderlyID)
	}
	return saved, nil
}

func (s *Service) notify(ctx context.Context, userID string, typ models.NotificationType, title, message, ref string) {
	if s.effects == nil {
		return
	}
	s.effects.Notify(ctx, models.NotificationRequest{UserID: userID, Type: typ, Title: title, Message: message, ReferenceID: ref})
}

// RequestWithdrawal pauses an active relationship, freezes its progress and
// starts the cooldown.
func (s *Service) RequestWithdrawal(ctx context.Context, actor models.Actor, relationshipID, reason string) (*models.Relationship, error) {
	rel, err := s.load(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if !rel.IsParty(actor.UserID) {
		return nil, apperrors.NewNotAuthorizedError(actor.UserID, "not a party to relationship "+rel.ID)
	}
	if rel.Status != models.RelationshipActive ||
		(rel.EndRequestStatus != models.EndRequestNone && rel.EndRequestStatus != models.EndRequestRejected) {
		return nil, apperrors.NewInvalidStateError("relationship", rel.ID,
			string(rel.Status)+"/"+string(rel.EndRequestStatus), string(models.RelationshipActive))
	}

	frozen := rel.Metrics.ProgressPercentage
	if s.progress != nil {
		if p, err := s.progress.ComputeProgressPercent(ctx, rel.ID, rel.CurrentStage); err == nil {
			frozen = p
		} else {
			s.logger.Warn("using stored progress for freeze", map[string]interface{}{"relationshipId": rel.ID, "error": err.Error()})
		}
	}

	now := s.now().UTC()
	ends := now.Add(s.cfg.Cooldown)
	next := *rel
	next.Status = models.RelationshipPaused
	next.EndRequestStatus = models.EndRequestPendingCooldown
	next.EndRequestBy = actor.UserID
	next.EndRequestReason = reason
	next.EndRequestAt = &now
	next.CoolingEndsAt = &ends
	next.ProgressFrozenAt = &frozen

	saved, err := s.write(ctx, &next, store.GuardOf(rel), "requested")
	if err != nil {
		return nil, err
	}
	s.notify(ctx, rel.Counterpart(actor.UserID), models.NotificationWithdrawal, "Your companion asked to pause",
		fmt.Sprintf("Your relationship is paused until %s while you both reflect.", ends.Format("Jan 2, 15:04 MST")), rel.ID)
	return saved, nil
}

// CancelWithdrawal lets the requester take back a request during the cooldown.
func (s *Service) CancelWithdrawal(ctx context.Context, actor models.Actor, relationshipID string) (*models.Relationship, error) {
	rel, err := s.load(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if rel.EndRequestBy != actor.UserID || !rel.IsParty(actor.UserID) {
		return nil, apperrors.NewNotAuthorizedError(actor.UserID, "only the requester may cancel a withdrawal")
	}
	if rel.EndRequestStatus != models.EndRequestPendingCooldown {
		return nil, apperrors.NewInvalidStateError("relationship", rel.ID, string(rel.EndRequestStatus), string(models.EndRequestPendingCooldown))
	}
	next := resumed(rel, models.EndRequestNone)
	saved, err := s.write(ctx, next, store.GuardOf(rel), "cancelled")
	if err != nil {
		return nil, err
	}
	s.notify(ctx, rel.Counterpart(actor.UserID), models.NotificationEndResolved, "Your relationship continues",
		"The request to end your relationship was withdrawn.", rel.ID)
	return saved, nil
}

// ResolveEndRequest is the admin decision on a request under review.
func (s *Service) ResolveEndRequest(ctx context.Context, actor models.Actor, relationshipID string, approve bool) (*models.Relationship, error) {
	if actor.Role != models.RoleAdmin {
		return nil, apperrors.NewNotAuthorizedError(actor.UserID, "requires role admin")
	}
	rel, err := s.load(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if rel.EndRequestStatus != models.EndRequestUnderReview {
		return nil, apperrors.NewInvalidStateError("relationship", rel.ID, string(rel.EndRequestStatus), string(models.EndRequestUnderReview))
	}

	var next *models.Relationship
	outcome := "approved"
	title, msg := "Your relationship has ended", "The request to end your relationship was approved."
	if approve {
		next = ended(rel)
	} else {
		next = resumed(rel, models.EndRequestRejected)
		outcome = "rejected"
		title, msg = "Your relationship continues", "The request to end your relationship was not approved."
	}
	saved, err := s.write(ctx, next, store.GuardOf(rel), outcome)
	if err != nil {
		return nil, err
	}
	for _, u := range []string{rel.YouthID, rel.ElderlyID} {
		s.notify(ctx, u, models.NotificationEndResolved, title, msg, rel.ID)
	}
	return saved, nil
}

// SweepStats summarizes one ApplyExpiredCooldowns pass.
type SweepStats struct {
	Reviewed  int `json:"reviewed"`
	Resumed   int `json:"resumed"`
	Finalized int `json:"finalized"`
	Skipped   int `json:"skipped"`
}

// ApplyExpiredCooldowns applies the post-cooldown policy to every paused
// relationship whose cooldown has elapsed.
func (s *Service) ApplyExpiredCooldowns(ctx context.Context, limit int) (SweepStats, error) {
	var stats SweepStats
	due, err := s.store.ListCoolingExpired(ctx, s.now().UTC(), limit)
	if err != nil {
		return stats, store.Translate(err, "relationship", "cooling")
	}

	for _, rel := range due {
		var next *models.Relationship
		var outcome string
		switch s.cfg.Policy {
		case PolicyResume:
			next, outcome = resumed(rel, models.EndRequestNone), "resumed"
		case PolicyFinalize:
			next, outcome = ended(rel), "finalized"
		default:
			c := *rel
			c.EndRequestStatus = models.EndRequestUnderReview
			next, outcome = &c, "under_review"
		}

		if _, err := s.write(ctx, next, store.GuardOf(rel), outcome); err != nil {
			if apperrors.Is(err, apperrors.ErrCodeInvalidState) {
				stats.Skipped++
				continue
			}
			return stats, err
		}
		switch outcome {
		case "resumed":
			stats.Resumed++
		case "finalized":
			stats.Finalized++
		default:
			stats.Reviewed++
		}
		for _, u := range []string{rel.YouthID, rel.ElderlyID} {
			s.notify(ctx, u, models.NotificationCoolingEnded, "Cooling-off period ended", coolingEndedMessage(outcome), rel.ID)
		}
	}
	return stats, nil
}

func coolingEndedMessage(outcome string) string {
	switch outcome {
	case "resumed":
		return "Your relationship has resumed."
	case "finalized":
		return "Your relationship has ended."
	default:
		return "The request to end your relationship is now with our team for review."
	}
}

func resumed(rel *models.Relationship, end models.EndRequestStatus) *models.Relationship {
	next := *rel
	next.Status = models.RelationshipActive
	next.EndRequestStatus = end
	next.CoolingEndsAt = nil
	next.ProgressFrozenAt = nil
	if end == models.EndRequestNone {
		next.EndRequestBy = ""
		next.EndRequestReason = ""
		next.EndRequestAt = nil
	}
	return &next
}

func ended(rel *models.Relationship) *models.Relationship {
	next := *rel
	next.Status = models.RelationshipEnded
	next.EndRequestStatus = models.EndRequestApproved
	next.CoolingEndsAt = nil
	return &next
}

// Info is the cooling-off projection for one user.
type Info struct {
	IsInCoolingPeriod bool                    `json:"isInCoolingPeriod"`
	CoolingEndsAt     *time.Time              `json:"coolingEndsAt,omitempty"`
	RemainingSeconds  int64                   `json:"remainingSeconds"`
	ProgressFrozenAt  *int                    `json:"progressFrozenAt,omitempty"`
	StageDisplayName  string                  `json:"stageDisplayName"`
	EndRequestStatus  models.EndRequestStatus `json:"endRequestStatus"`
	RelationshipID    string                  `json:"relationshipId"`
}

// GetCoolingPeriodInfo reports the cooldown state of the user's current
// relationship, recomputed from the stored end time.
func (s *Service) GetCoolingPeriodInfo(ctx context.Context, userID string) (Info, error) {
	rel, err := s.store.GetCurrentRelationship(ctx, userID)
	if err != nil {
		return Info{}, store.Translate(err, "relationship", userID)
	}
	return s.infoFor(rel), nil
}

func (s *Service) infoFor(rel *models.Relationship) Info {
	info := Info{
		RelationshipID:   rel.ID,
		StageDisplayName: rel.CurrentStage.DisplayName(),
		EndRequestStatus: rel.EndRequestStatus,
		ProgressFrozenAt: rel.ProgressFrozenAt,
		CoolingEndsAt:    rel.CoolingEndsAt,
	}
	if rel.EndRequestStatus != models.EndRequestPendingCooldown || rel.CoolingEndsAt == nil {
		return info
	}
	remaining := rel.CoolingEndsAt.Sub(s.now())
	if remaining > 0 {
		info.IsInCoolingPeriod = true
		info.RemainingSeconds = int64(remaining / time.Second)
	}
	return info
}

// Countdown returns an advisory countdown for the user's cooldown, or
// ErrNoCooldown when none is running.
func (s *Service) Countdown(ctx context.Context, userID string, interval time.Duration) (*Countdown, error) {
	info, err := s.GetCoolingPeriodInfo(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !info.IsInCoolingPeriod {
		return nil, ErrNoCooldown
	}
	return NewCountdown(*info.CoolingEndsAt, s.now, interval), nil
}

// ErrNoCooldown is returned by Countdown when the relationship is not cooling off.
var ErrNoCooldown = errors.New("no cooldown in progress")
