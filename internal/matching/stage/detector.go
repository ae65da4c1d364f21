package stage

import (
	"context"
	"errors"

	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

// Signal is a completion observed from a change event.
type Signal struct {
	Kind           string       `json:"kind"`
	RelationshipID string       `json:"relationshipId"`
	Stage          models.Stage `json:"stage"`
	To             models.Stage `json:"to,omitempty"`
}

// CompletionDetector turns relationship and requirement change events into
// at most one stage_completed or journey_completed signal per stage. Event
// payloads are only used for ids; state is re-read from the store.
type CompletionDetector struct {
	engine *Engine
	logger logger.Logger
}

func NewCompletionDetector(engine *Engine, log logger.Logger) *CompletionDetector {
	return &CompletionDetector{engine: engine, logger: logger.ForComponent(log, "completion-detector")}
}

// HandleEvent reacts to one change event. A nil Signal means nothing new
// completed, or another consumer already claimed it.
func (d *CompletionDetector) HandleEvent(ctx context.Context, ev models.ChangeEvent) (*Signal, error) {
	if ev.Kind != models.EventRelationshipUpdated && ev.Kind != models.EventRequirementChanged {
		return nil, nil
	}
	if ev.RelationshipID == "" {
		return nil, nil
	}

	rel, err := d.engine.store.GetRelationship(ctx, ev.RelationshipID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Translate(err, "relationship", ev.RelationshipID)
	}
	if rel.Status != models.RelationshipActive {
		return nil, nil
	}

	// a stage change that nobody announced yet
	if sig, err := d.unannouncedAdvance(ctx, rel); err != nil || sig != nil {
		return sig, err
	}

	if !rel.CurrentStage.IsLast() {
		res, err := d.engine.Advance(ctx, rel.ID)
		if err != nil {
			return nil, err
		}
		if !res.Advanced {
			return nil, nil
		}
		return &Signal{Kind: SignalStageCompleted, RelationshipID: rel.ID, Stage: res.From, To: res.To}, nil
	}

	reqs, err := d.engine.store.ListRequirements(ctx, rel.ID, rel.CurrentStage)
	if err != nil {
		return nil, store.Translate(err, "relationship", rel.ID)
	}
	if _, met := Evaluate(reqs, rel.Metrics); !met {
		return nil, nil
	}
	if !d.engine.announce(ctx, rel, SignalJourneyCompleted, rel.CurrentStage) {
		return nil, nil
	}
	d.logger.Info("journey completed", map[string]interface{}{"relationshipId": rel.ID})
	return &Signal{Kind: SignalJourneyCompleted, RelationshipID: rel.ID, Stage: rel.CurrentStage}, nil
}

func (d *CompletionDetector) unannouncedAdvance(ctx context.Context, rel *models.Relationship) (*Signal, error) {
	if rel.CurrentStage.Index() == 0 {
		return nil, nil
	}
	transitions, err := d.engine.store.ListTransitions(ctx, rel.ID)
	if err != nil {
		return nil, store.Translate(err, "relationship", rel.ID)
	}
	for _, t := range transitions {
		if t.ToStage != rel.CurrentStage {
			continue
		}
		if !d.engine.announce(ctx, rel, SignalStageCompleted, t.FromStage) {
			return nil, nil
		}
		d.logger.Info("stage completion observed", map[string]interface{}{
			"relationshipId": rel.ID, "from": string(t.FromStage), "to": string(t.ToStage),
		})
		return &Signal{Kind: SignalStageCompleted, RelationshipID: rel.ID, Stage: t.FromStage, To: t.ToStage}, nil
	}
	return nil, nil
}
