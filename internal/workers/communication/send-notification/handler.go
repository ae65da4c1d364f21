// internal/workers/communication/send-notification/handler.go
package sendnotification

import (
	"context"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "send-notification"

// Service persists a notification and attempts delivery.
type Service interface {
	CreateNotification(ctx context.Context, req models.NotificationRequest) (*models.Notification, error)
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
	n, err := h.service.CreateNotification(ctx, input.NotificationRequest)
	if err != nil {
		return nil, err
	}
	channels := n.Channels
	if channels == nil {
		channels = []string{}
	}
	h.logger.Info("notification sent", map[string]interface{}{
		"notificationId": n.ID,
		"userId":         n.UserID,
		"type":           string(n.Type),
		"channels":       channels,
	})
	return &Output{NotificationID: n.ID, Status: n.Status, Channels: channels}, nil
}
