// internal/workers/relationship/withdrawal/handler.go
package withdrawal

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "relationship-withdrawal"

type Service interface {
	RequestWithdrawal(ctx context.Context, actor models.Actor, relationshipID, reason string) (*models.Relationship, error)
	CancelWithdrawal(ctx context.Context, actor models.Actor, relationshipID string) (*models.Relationship, error)
	ResolveEndRequest(ctx context.Context, actor models.Actor, relationshipID string, approve bool) (*models.Relationship, error)
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
	var (
		rel *models.Relationship
		err error
	)
	switch input.Action {
	case ActionRequest:
		rel, err = h.service.RequestWithdrawal(ctx, input.Actor, input.RelationshipID, input.Reason)
	case ActionCancel:
		rel, err = h.service.CancelWithdrawal(ctx, input.Actor, input.RelationshipID)
	default:
		rel, err = h.service.ResolveEndRequest(ctx, input.Actor, input.RelationshipID, *input.Approve)
	}
	if err != nil {
		return nil, err
	}
	h.logger.Info("withdrawal step applied", map[string]interface{}{
		"relationshipId":   rel.ID,
		"action":           input.Action,
		"endRequestStatus": string(rel.EndRequestStatus),
	})
	return &Output{
		RelationshipID:   rel.ID,
		Status:           string(rel.Status),
		EndRequestStatus: string(rel.EndRequestStatus),
		CoolingEndsAt:    rel.CoolingEndsAt,
	}, nil
}
