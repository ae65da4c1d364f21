// internal/workers/interest/express-interest/handler.go
package expressinterest

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "express-interest"

// Service is the part of the interest engine this worker drives.
type Service interface {
	ExpressInterest(ctx context.Context, youthID, elderlyID string) (*models.Interest, error)
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
	in, err := h.service.ExpressInterest(ctx, input.YouthID, input.ElderlyID)
	if err != nil {
		return nil, err
	}
	h.logger.Info("interest expressed", map[string]interface{}{
		"interestId": in.ID,
		"youthId":    in.YouthID,
		"elderlyId":  in.ElderlyID,
	})
	return &Output{InterestID: in.ID, Status: string(in.Status), AppliedAt: in.AppliedAt}, nil
}
