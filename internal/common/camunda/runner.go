// internal/common/camunda/runner.go
package camunda

import (
	"context"
	"encoding/json"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/metrics"
	"companion-workers/internal/common/observability"
	"companion-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// JobRunner holds the decode, validate, execute and complete-or-fail cycle every worker shares.
type JobRunner struct {
	taskType string
	timeout  time.Duration
	errors   *apperrors.ErrorHandler
	obs      *observability.Observability
	logger   logger.Logger
}

func NewJobRunner(taskType string, timeout time.Duration, obs *observability.Observability, log logger.Logger) *JobRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	return &JobRunner{
		taskType: taskType,
		timeout:  timeout,
		errors:   apperrors.NewErrorHandler(log),
		obs:      obs,
		logger:   log,
	}
}

// Decode unmarshals job variables into input and validates its tags.
func Decode(job entities.Job, input interface{}) error {
	if err := json.Unmarshal([]byte(job.Variables), input); err != nil {
		return apperrors.NewValidationFailedError("parse job variables: " + err.Error())
	}
	return validation.Struct(input)
}

// Run decodes job into input, runs exec, then completes the job with its output or hands the error to the ErrorHandler.
func (r *JobRunner) Run(client worker.JobClient, job entities.Job, input interface{}, exec func(ctx context.Context) (interface{}, error)) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(r.taskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(r.taskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if r.obs != nil {
		var span trace.Span
		ctx, span = r.obs.StartSpan(ctx, r.taskType,
			attribute.Int64("job.key", job.Key),
			attribute.Int64("job.processInstanceKey", job.ProcessInstanceKey),
		)
		defer span.End()
	}

	r.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	if err := Decode(job, input); err != nil {
		r.fail(ctx, client, job, err, start)
		return
	}

	output, err := exec(ctx)
	if err != nil {
		r.fail(ctx, client, job, err, start)
		return
	}
	r.complete(ctx, client, job, output, start)
}

func (r *JobRunner) complete(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}, start time.Time) {
	defer r.observe(ctx, "completed", start)

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		r.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
	r.logger.Info("job completed successfully", map[string]interface{}{"jobKey": job.Key})
}

func (r *JobRunner) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	outcome := r.errors.HandleJobError(ctx, client, job, err)
	metrics.WorkerJobsFailed.WithLabelValues(r.taskType, string(apperrors.CodeOf(err)), string(outcome)).Inc()
	r.observe(ctx, string(outcome), start)
}

func (r *JobRunner) observe(ctx context.Context, status string, start time.Time) {
	elapsed := time.Since(start)
	metrics.WorkerJobDuration.WithLabelValues(r.taskType).Observe(elapsed.Seconds())
	r.obs.RecordJob(ctx, r.taskType, status, elapsed)
}
