// internal/workers/interest/close-application/handler.go
package closeapplication

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "close-application"

type Service interface {
	WithdrawInterest(ctx context.Context, actor models.Actor, interestID, reason string) (*models.Interest, error)
	EndPreMatch(ctx context.Context, actor models.Actor, interestID, reason string) (*models.Interest, error)
	ConfirmRejection(ctx context.Context, actor models.Actor, interestID string) error
	DeleteApplication(ctx context.Context, actor models.Actor, interestID string) error
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
	out := &Output{InterestID: input.InterestID}
	switch input.Action {
	case ActionWithdraw:
		in, err := h.service.WithdrawInterest(ctx, input.Actor, input.InterestID, input.Reason)
		if err != nil {
			return nil, err
		}
		out.Status = string(in.Status)
	case ActionEndPreMatch:
		in, err := h.service.EndPreMatch(ctx, input.Actor, input.InterestID, input.Reason)
		if err != nil {
			return nil, err
		}
		out.Status = string(in.Status)
	case ActionConfirmRejection:
		if err := h.service.ConfirmRejection(ctx, input.Actor, input.InterestID); err != nil {
			return nil, err
		}
		out.Deleted = true
	default:
		if err := h.service.DeleteApplication(ctx, input.Actor, input.InterestID); err != nil {
			return nil, err
		}
		out.Deleted = true
	}
	h.logger.Info("application closed", map[string]interface{}{
		"interestId": input.InterestID,
		"action":     input.Action,
		"deleted":    out.Deleted,
	})
	return out, nil
}
