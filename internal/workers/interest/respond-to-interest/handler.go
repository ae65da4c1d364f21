// internal/workers/interest/respond-to-interest/handler.go
package respondtointerest

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "respond-to-interest"

type Service interface {
	RespondToInterest(ctx context.Context, actor models.Actor, interestID string, accept bool) (*models.Interest, error)
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
	in, err := h.service.RespondToInterest(ctx, input.Actor, input.InterestID, *input.Accept)
	if err != nil {
		return nil, err
	}
	h.logger.Info("interest answered", map[string]interface{}{
		"interestId": in.ID,
		"accepted":   *input.Accept,
		"status":     string(in.Status),
	})
	return &Output{
		InterestID:     in.ID,
		Status:         string(in.Status),
		PreMatchActive: in.Status == models.StatusPreChatActive,
	}, nil
}
