// Package interest is the Interest Lifecycle Engine: the state machine that
// takes a youth-elderly pairing from first interest through the pre-match
// chat and the formal application to a confirmed Relationship.
package interest

import (
	"context"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/metrics"
	"companion-workers/internal/matching/effects"
	"companion-workers/internal/matching/limits"
	"companion-workers/internal/matching/prematch"
	"companion-workers/internal/matching/stage"
	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

// Store is the persistence the engine needs.
type Store interface {
	store.InterestStore
	store.RelationshipStore
	store.MessageStore
}

// ReviewIndexer keeps the admin review queue in sync with formal applications.
type ReviewIndexer interface {
	Index(ctx context.Context, in *models.Interest) error
}

type Config struct {
	Ceilings limits.Ceilings
	Holds    prematch.Holds
	Catalog  stage.Catalog
}

// DefaultConfig uses the production ceilings, hold periods and catalog.
func DefaultConfig() Config {
	return Config{
		Ceilings: limits.DefaultCeilings(),
		Holds:    prematch.DefaultHolds(),
		Catalog:  stage.DefaultCatalog(),
	}
}

type Deps struct {
	Store   Store
	Effects *effects.Runner
	Reviews ReviewIndexer
	Clock   func() time.Time
}

type Engine struct {
	store   Store
	effects *effects.Runner
	reviews ReviewIndexer
	policy  *limits.Policy
	timer   *prematch.Timer
	catalog stage.Catalog
	now     func() time.Time
	logger  logger.Logger
}

func NewEngine(cfg Config, deps Deps, log logger.Logger) *Engine {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	if cfg.Catalog == nil {
		cfg.Catalog = stage.DefaultCatalog()
	}
	return &Engine{
		store:   deps.Store,
		effects: deps.Effects,
		reviews: deps.Reviews,
		policy:  limits.NewPolicy(deps.Store, cfg.Ceilings),
		timer:   prematch.NewTimer(cfg.Holds, now),
		catalog: cfg.Catalog,
		now:     now,
		logger:  logger.ForComponent(log, "interest-engine"),
	}
}

// Policy exposes the limit policy bound to the engine's store.
func (e *Engine) Policy() *limits.Policy { return e.policy }

// Timer exposes the pre-match timer bound to the engine's clock.
func (e *Engine) Timer() *prematch.Timer { return e.timer }

func (e *Engine) load(ctx context.Context, id string) (*models.Interest, error) {
	in, err := e.store.GetInterest(ctx, id)
	if err != nil {
		return nil, store.Translate(err, "interest", id)
	}
	return in, nil
}

// transition writes next over a row currently in from and records the change.
func (e *Engine) transition(ctx context.Context, next *models.Interest, from models.InterestStatus) (*models.Interest, error) {
	next.UpdatedAt = e.now().UTC()
	saved, err := e.store.UpdateInterest(ctx, next, from)
	if err != nil {
		return nil, store.Translate(err, "interest", next.ID)
	}
	e.recorded(ctx, from, saved)
	return saved, nil
}

func (e *Engine) recorded(ctx context.Context, from models.InterestStatus, in *models.Interest) {
	metrics.InterestTransitions.WithLabelValues(string(from), string(in.Status)).Inc()
	e.logger.Info("interest transitioned", map[string]interface{}{
		"interestId": in.ID, "from": string(from), "to": string(in.Status),
	})
	e.emit(ctx, models.OpUpdate, in)
}

func (e *Engine) emit(ctx context.Context, op models.Operation, in *models.Interest) {
	if e.effects == nil {
		return
	}
	var row interface{}
	if op != models.OpDelete {
		row = in
	}
	e.effects.Emit(ctx, models.TableInterests, op, in.ID, row, in.YouthID, in.ElderlyID)
}

func (e *Engine) notify(ctx context.Context, userID string, typ models.NotificationType, title, message, ref string) {
	if e.effects == nil {
		return
	}
	e.effects.Notify(ctx, models.NotificationRequest{
		UserID: userID, Type: typ, Title: title, Message: message, ReferenceID: ref,
	})
}

func (e *Engine) index(ctx context.Context, in *models.Interest) {
	if e.reviews == nil {
		return
	}
	if err := e.reviews.Index(ctx, in); err != nil {
		e.logger.Warn("review queue not updated", map[string]interface{}{"interestId": in.ID, "error": err.Error()})
	}
}

func requireRole(actor models.Actor, role models.Role) error {
	if actor.Role != role {
		return apperrors.NewNotAuthorizedError(actor.UserID, "requires role "+string(role))
	}
	return nil
}

func requireStatus(in *models.Interest, allowed ...models.InterestStatus) error {
	for _, s := range allowed {
		if in.Status == s {
			return nil
		}
	}
	expected := make([]string, len(allowed))
	for i, s := range allowed {
		expected[i] = string(s)
	}
	return apperrors.NewInvalidStateError("interest", in.ID, string(in.Status), expected...)
}
