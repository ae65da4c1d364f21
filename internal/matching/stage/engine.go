package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/metrics"
	"companion-workers/internal/common/validation"
	"companion-workers/internal/matching/effects"
	"companion-workers/internal/models"
	"companion-workers/internal/store"

	"golang.org/x/sync/singleflight"
)

// Signal kinds claimed once per (relationship, stage).
const (
	SignalStageCompleted   = "stage_completed"
	SignalJourneyCompleted = "journey_completed"
)

// Reasons an advance did not happen.
const (
	ReasonNotActive       = "not_active"
	ReasonFinalStage      = "final_stage"
	ReasonRequirementsDue = "requirements_incomplete"
	ReasonAlreadyAdvanced = "already_advanced"
)

// Suggester proposes activities for a stage.
type Suggester interface {
	SuggestActivities(ctx context.Context, stage models.Stage, metrics models.StageMetrics) ([]string, error)
}

type Config struct {
	Catalog Catalog
}

type Deps struct {
	Store     store.RelationshipStore
	Effects   *effects.Runner
	Suggester Suggester
	Clock     func() time.Time
}

// Engine is the Stage Progression Engine.
type Engine struct {
	cfg       Config
	store     store.RelationshipStore
	effects   *effects.Runner
	suggester Suggester
	now       func() time.Time
	flight    singleflight.Group
	logger    logger.Logger
}

func NewEngine(cfg Config, deps Deps, log logger.Logger) *Engine {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		effects:   deps.Effects,
		suggester: deps.Suggester,
		now:       now,
		logger:    logger.ForComponent(log, "stage-engine"),
	}
}

// Catalog returns the requirement catalog used to seed stages.
func (e *Engine) Catalog() Catalog { return e.cfg.Catalog }

// StageView is one entry of the progression strip.
type StageView struct {
	Stage       models.Stage `json:"stage"`
	DisplayName string       `json:"displayName"`
	State       string       `json:"state"` // completed, current, upcoming
}

// Progression is the read-only projection of a user's relationship.
type Progression struct {
	RelationshipID     string                     `json:"relationshipId"`
	Stages             []StageView                `json:"stages"`
	CurrentStage       models.Stage               `json:"currentStage"`
	Status             models.RelationshipStatus  `json:"status"`
	Metrics            models.StageMetrics        `json:"metrics"`
	Requirements       []*models.StageRequirement `json:"requirements"`
	ProgressPercentage int                        `json:"progressPercentage"`
	RequirementsMet    bool                       `json:"requirementsMet"`
	DaysInStage        int                        `json:"daysInStage"`
}

func stageViews(current models.Stage) []StageView {
	idx := current.Index()
	views := make([]StageView, 0, len(models.StageOrder))
	for i, st := range models.StageOrder {
		state := "upcoming"
		switch {
		case i < idx:
			state = "completed"
		case i == idx:
			state = "current"
		}
		views = append(views, StageView{Stage: st, DisplayName: st.DisplayName(), State: state})
	}
	return views
}

// GetStageProgression returns the user's current relationship projection.
// While paused the frozen progress is reported.
func (e *Engine) GetStageProgression(ctx context.Context, userID string) (*Progression, error) {
	rel, err := e.store.GetCurrentRelationship(ctx, userID)
	if err != nil {
		return nil, store.Translate(err, "relationship", userID)
	}
	return e.project(ctx, rel)
}

func (e *Engine) project(ctx context.Context, rel *models.Relationship) (*Progression, error) {
	reqs, err := e.store.ListRequirements(ctx, rel.ID, rel.CurrentStage)
	if err != nil {
		return nil, store.Translate(err, "relationship", rel.ID)
	}
	percent, met := Evaluate(reqs, rel.Metrics)
	if rel.Status == models.RelationshipPaused && rel.ProgressFrozenAt != nil {
		percent = *rel.ProgressFrozenAt
	}
	days := 0
	if elapsed := e.now().Sub(rel.StageStartDate); elapsed > 0 {
		days = int(elapsed / (24 * time.Hour))
	}
	return &Progression{
		RelationshipID:     rel.ID,
		Stages:             stageViews(rel.CurrentStage),
		CurrentStage:       rel.CurrentStage,
		Status:             rel.Status,
		Metrics:            rel.Metrics,
		Requirements:       reqs,
		ProgressPercentage: percent,
		RequirementsMet:    met,
		DaysInStage:        days,
	}, nil
}

// ComputeProgressPercent derives progress for stage from a fresh read and
// stores it while the relationship is still on that stage.
func (e *Engine) ComputeProgressPercent(ctx context.Context, relationshipID string, stage models.Stage) (int, error) {
	rel, err := e.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return 0, store.Translate(err, "relationship", relationshipID)
	}
	reqs, err := e.store.ListRequirements(ctx, relationshipID, stage)
	if err != nil {
		return 0, store.Translate(err, "relationship", relationshipID)
	}
	metrics := rel.Metrics
	if rel.CurrentStage != stage {
		// counters were reset when the stage was left
		metrics = models.StageMetrics{}
	}
	percent, met := Evaluate(reqs, metrics)
	if rel.CurrentStage == stage {
		if err := e.store.SaveProgress(ctx, relationshipID, stage, percent, met); err != nil && !errors.Is(err, store.ErrPreconditionFailed) {
			e.logger.Warn("failed to store progress", map[string]interface{}{"relationshipId": relationshipID, "error": err.Error()})
		}
	}
	return percent, nil
}

// AdvanceResult describes one AdvanceStageIfEligible call.
type AdvanceResult struct {
	Relationship *models.Relationship `json:"relationship"`
	Advanced     bool                 `json:"advanced"`
	From         models.Stage         `json:"from,omitempty"`
	To           models.Stage         `json:"to,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

// AdvanceStageIfEligible moves the user's relationship to the next stage when
// every requirement of the current stage is met. Repeated or concurrent calls
// advance at most once.
func (e *Engine) AdvanceStageIfEligible(ctx context.Context, userID string) (*AdvanceResult, error) {
	rel, err := e.store.GetCurrentRelationship(ctx, userID)
	if err != nil {
		return nil, store.Translate(err, "relationship", userID)
	}
	return e.Advance(ctx, rel.ID)
}

// Advance is AdvanceStageIfEligible keyed by relationship id.
func (e *Engine) Advance(ctx context.Context, relationshipID string) (*AdvanceResult, error) {
	v, err, _ := e.flight.Do(relationshipID, func() (interface{}, error) {
		return e.advance(ctx, relationshipID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AdvanceResult), nil
}

func (e *Engine) advance(ctx context.Context, relationshipID string) (*AdvanceResult, error) {
	rel, err := e.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, store.Translate(err, "relationship", relationshipID)
	}
	res := &AdvanceResult{Relationship: rel, From: rel.CurrentStage}
	if rel.Status != models.RelationshipActive {
		res.Reason = ReasonNotActive
		return res, nil
	}
	next, ok := rel.CurrentStage.Next()
	if !ok {
		res.Reason = ReasonFinalStage
		return res, nil
	}
	reqs, err := e.store.ListRequirements(ctx, rel.ID, rel.CurrentStage)
	if err != nil {
		return nil, store.Translate(err, "relationship", rel.ID)
	}
	if _, met := Evaluate(reqs, rel.Metrics); !met {
		res.Reason = ReasonRequirementsDue
		return res, nil
	}

	updated, err := e.store.AdvanceStage(ctx, rel.ID, rel.CurrentStage, next, e.now().UTC(), e.cfg.Catalog.Seed(next))
	if errors.Is(err, store.ErrPreconditionFailed) {
		fresh, getErr := e.store.GetRelationship(ctx, rel.ID)
		if getErr == nil {
			res.Relationship = fresh
		}
		res.Reason = ReasonAlreadyAdvanced
		return res, nil
	}
	if err != nil {
		return nil, store.Translate(err, "relationship", rel.ID)
	}

	metrics.StageAdvances.WithLabelValues(string(next)).Inc()
	e.logger.Info("relationship advanced", map[string]interface{}{
		"relationshipId": rel.ID, "from": string(rel.CurrentStage), "to": string(next),
	})
	e.emit(ctx, updated)
	e.announce(ctx, updated, SignalStageCompleted, rel.CurrentStage)

	res.Relationship = updated
	res.Advanced = true
	res.To = next
	return res, nil
}

// RecordActivity adds delta to one counter and recomputes progress.
func (e *Engine) RecordActivity(ctx context.Context, relationshipID string, metric models.Metric, delta int) (*Progression, error) {
	if err := validation.Var(string(metric), "required,metric"); err != nil {
		return nil, err
	}
	rel, err := e.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, store.Translate(err, "relationship", relationshipID)
	}
	if rel.Status == models.RelationshipEnded {
		return nil, apperrors.NewInvalidStateError("relationship", rel.ID, string(rel.Status), string(models.RelationshipActive), string(models.RelationshipPaused))
	}
	updated, err := e.store.IncrementMetric(ctx, relationshipID, metric, delta)
	if err != nil {
		return nil, store.Translate(err, "relationship", relationshipID)
	}
	if _, err := e.ComputeProgressPercent(ctx, relationshipID, updated.CurrentStage); err != nil {
		return nil, err
	}
	fresh, err := e.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, store.Translate(err, "relationship", relationshipID)
	}
	e.emit(ctx, fresh)
	return e.project(ctx, fresh)
}

// SignOffRequirement completes a manual requirement of the current stage.
func (e *Engine) SignOffRequirement(ctx context.Context, relationshipID, requirementID, by string) (*Progression, error) {
	rel, err := e.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, store.Translate(err, "relationship", relationshipID)
	}
	if !rel.IsParty(by) {
		return nil, apperrors.NewNotAuthorizedError(by, "not a party to relationship "+relationshipID)
	}
	if rel.Status == models.RelationshipEnded {
		return nil, apperrors.NewInvalidStateError("relationship", rel.ID, string(rel.Status), string(models.RelationshipActive))
	}
	reqs, err := e.store.ListRequirements(ctx, relationshipID, rel.CurrentStage)
	if err != nil {
		return nil, store.Translate(err, "relationship", relationshipID)
	}
	var req *models.StageRequirement
	for _, r := range reqs {
		if r.ID == requirementID {
			req = r
			break
		}
	}
	if req == nil {
		return nil, apperrors.NewNotFoundError("requirement", requirementID)
	}
	if req.Kind != models.RequirementManual {
		return nil, apperrors.NewInvalidStateError("requirement", req.ID, string(req.Kind), string(models.RequirementManual))
	}

	if !req.Completed {
		at := e.now().UTC()
		req.Completed = true
		req.CompletedBy = by
		req.CompletedAt = &at
		if err := e.store.UpdateRequirement(ctx, req); err != nil {
			return nil, store.Translate(err, "requirement", req.ID)
		}
		if _, err := e.ComputeProgressPercent(ctx, relationshipID, rel.CurrentStage); err != nil {
			return nil, err
		}
		if e.effects != nil {
			e.effects.Emit(ctx, models.TableStageRequirements, models.OpUpdate, req.ID, req, rel.YouthID, rel.ElderlyID)
		}
	}

	fresh, err := e.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, store.Translate(err, "relationship", relationshipID)
	}
	return e.project(ctx, fresh)
}

func (e *Engine) emit(ctx context.Context, rel *models.Relationship) {
	if e.effects == nil {
		return
	}
	e.effects.Emit(ctx, models.TableRelationships, models.OpUpdate, rel.ID, rel, rel.YouthID, rel.ElderlyID)
}

// announce claims the (relationship, stage, kind) signal and, if this caller
// won the claim, notifies both parties. It reports whether the claim was won.
func (e *Engine) announce(ctx context.Context, rel *models.Relationship, kind string, stage models.Stage) bool {
	claimed, err := e.store.ClaimStageSignal(ctx, rel.ID, stage, kind)
	if err != nil {
		e.logger.Warn("failed to claim stage signal", map[string]interface{}{
			"relationshipId": rel.ID, "stage": string(stage), "kind": kind, "error": err.Error(),
		})
		return false
	}
	if !claimed || e.effects == nil {
		return claimed
	}

	var req models.NotificationRequest
	switch kind {
	case SignalJourneyCompleted:
		req = models.NotificationRequest{
			Type:    models.NotificationJourneyComplete,
			Title:   "Journey complete",
			Message: "You have completed every stage together.",
		}
	default:
		req = models.NotificationRequest{
			Type:    models.NotificationStageAdvanced,
			Title:   "New stage: " + rel.CurrentStage.DisplayName(),
			Message: fmt.Sprintf("You completed %s and moved on to %s.", stage.DisplayName(), rel.CurrentStage.DisplayName()),
		}
		if ideas := e.suggest(ctx, rel); len(ideas) > 0 {
			req.Message += " Ideas: " + strings.Join(ideas, "; ")
		}
	}
	req.ReferenceID = rel.ID
	for _, userID := range []string{rel.YouthID, rel.ElderlyID} {
		r := req
		r.UserID = userID
		e.effects.Notify(ctx, r)
	}
	return true
}

func (e *Engine) suggest(ctx context.Context, rel *models.Relationship) []string {
	if e.suggester == nil {
		return nil
	}
	ideas, err := e.suggester.SuggestActivities(ctx, rel.CurrentStage, rel.Metrics)
	if err != nil {
		e.logger.Warn("activity suggestions unavailable", map[string]interface{}{"relationshipId": rel.ID, "error": err.Error()})
		return nil
	}
	return ideas
}
