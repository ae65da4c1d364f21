// internal/workers/interest/review-application/handler.go
package reviewapplication

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "review-application"

type Service interface {
	RequestMoreInfo(ctx context.Context, actor models.Actor, interestID, note string) (*models.Interest, error)
	ReviewFormalApplication(ctx context.Context, actor models.Actor, interestID string, approve bool, reason string) (*models.Interest, error)
	DecideApplication(ctx context.Context, actor models.Actor, interestID string, accept bool, reason string) (*models.Interest, *models.Relationship, error)
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
		in  *models.Interest
		rel *models.Relationship
		err error
	)
	switch input.Action {
	case ActionRequestInfo:
		in, err = h.service.RequestMoreInfo(ctx, input.Actor, input.InterestID, input.Reason)
	case ActionReview:
		in, err = h.service.ReviewFormalApplication(ctx, input.Actor, input.InterestID, *input.Approve, input.Reason)
	default:
		in, rel, err = h.service.DecideApplication(ctx, input.Actor, input.InterestID, *input.Approve, input.Reason)
	}
	if err != nil {
		return nil, err
	}

	out := &Output{InterestID: in.ID, Status: string(in.Status)}
	if rel != nil {
		out.Matched = true
		out.RelationshipID = rel.ID
	}
	h.logger.Info("application reviewed", map[string]interface{}{
		"interestId": in.ID,
		"action":     input.Action,
		"status":     out.Status,
		"matched":    out.Matched,
	})
	return out, nil
}
