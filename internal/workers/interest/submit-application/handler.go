// internal/workers/interest/submit-application/handler.go
package submitapplication

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "submit-application"

type Service interface {
	SubmitFormalApplication(ctx context.Context, actor models.Actor, interestID, letter string) (*models.Interest, error)
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
	in, err := h.service.SubmitFormalApplication(ctx, input.Actor, input.InterestID, input.MotivationLetter)
	if err != nil {
		return nil, err
	}
	h.logger.Info("formal application submitted", map[string]interface{}{"interestId": in.ID})
	return &Output{InterestID: in.ID, Status: string(in.Status)}, nil
}
