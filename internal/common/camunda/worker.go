// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"companion-workers/internal/common/config"
	"companion-workers/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// StartWorker opens a job worker for taskType. It returns nil when the worker is disabled.
func StartWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handlerFunc func(worker.JobClient, entities.Job), log logger.Logger) worker.JobWorker {
	if !wcfg.Enabled {
		log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return nil
	}

	timeout := config.GetDuration(wcfg.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// broker lock must outlast the JobRunner deadline
	jw := client.NewJobWorker().
		JobType(taskType).
		Handler(handlerFunc).
		Name("companion-" + taskType).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(timeout + 5*time.Second).
		Open()

	log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"lockTimeout":   (timeout + 5*time.Second).String(),
	})
	return jw
}
