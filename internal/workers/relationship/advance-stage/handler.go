// internal/workers/relationship/advance-stage/handler.go
package advancestage

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/matching/stage"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "advance-stage"

type Service interface {
	AdvanceStageIfEligible(ctx context.Context, userID string) (*stage.AdvanceResult, error)
	RecordActivity(ctx context.Context, relationshipID string, metric models.Metric, delta int) (*stage.Progression, error)
	SignOffRequirement(ctx context.Context, relationshipID, requirementID, by string) (*stage.Progression, error)
}

type Handler struct {
	service Service
	runner  *camunda.JobRunner
	logger  logger.Logger
}

func NewHandler(service Service, runner *camunda.JobRunner, log logger.Logger) *Handler {
	return &Handler{service: service, runner: runner, logger: log.WithFields(map[string]interface{}{"taskType": TaskType})}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	var input Input
	h.runner.Run(client, job, &input, func(ctx context.Context) (interface{}, error) {
		return h.execute(ctx, &input)
	})
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	switch input.Action {
	case ActionAdvance:
		res, err := h.service.AdvanceStageIfEligible(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		out := &Output{
			RelationshipID: res.Relationship.ID,
			CurrentStage:   string(res.Relationship.CurrentStage),
			Advanced:       res.Advanced,
			From:           string(res.From),
			To:             string(res.To),
			Reason:         res.Reason,
		}
		out.ProgressPercentage = res.Relationship.Metrics.ProgressPercentage
		out.RequirementsMet = res.Relationship.Metrics.RequirementsMet
		h.logger.Info("advance evaluated", map[string]interface{}{
			"relationshipId": out.RelationshipID,
			"advanced":       out.Advanced,
			"reason":         out.Reason,
		})
		return out, nil

	case ActionRecordActivity:
		delta := input.Delta
		if delta == 0 {
			delta = 1
		}
		p, err := h.service.RecordActivity(ctx, input.RelationshipID, models.Metric(input.Metric), delta)
		if err != nil {
			return nil, err
		}
		return fromProgression(p), nil

	default:
		p, err := h.service.SignOffRequirement(ctx, input.RelationshipID, input.RequirementID, input.UserID)
		if err != nil {
			return nil, err
		}
		return fromProgression(p), nil
	}
}

func fromProgression(p *stage.Progression) *Output {
	return &Output{
		RelationshipID:     p.RelationshipID,
		CurrentStage:       string(p.CurrentStage),
		ProgressPercentage: p.ProgressPercentage,
		RequirementsMet:    p.RequirementsMet,
	}
}
