// internal/common/errors/handler.go
package errors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// Outcome says what the broker was told about a failed job.
type Outcome string

const (
	OutcomeRetried Outcome = "retried"
	OutcomeThrown  Outcome = "bpmn_error"
)

// DefaultRetryBackoff delays the broker's next activation of a job that
// failed on a dependency.
const DefaultRetryBackoff = 5 * time.Second

// ErrorHandler fails retryable jobs back to the broker and throws every
// other error as a BPMN error the process can catch by code.
type ErrorHandler struct {
	logger  Logger
	backoff time.Duration
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger, backoff: DefaultRetryBackoff}
}

// HandleJobError reports err for job and returns how it was reported.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) Outcome {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)
	outcome := decide(stdErr, bpmnErr, job.Retries)

	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":          job.Key,
		"jobType":         job.Type,
		"processInstance": job.ProcessInstanceKey,
		"errorCode":       string(stdErr.Code),
		"category":        GetErrorCategory(stdErr.Code),
		"details":         stdErr.Details,
		"outcome":         string(outcome),
	})

	vars, _ := json.Marshal(bpmnErr.ToErrorVariables())
	if outcome == OutcomeRetried {
		cmd := client.NewFailJobCommand().
			JobKey(job.Key).
			Retries(remainingRetries(job.Retries, bpmnErr.Retries)).
			ErrorMessage(bpmnErr.Message).
			RetryBackoff(h.backoff)
		if withVars, verr := cmd.VariablesFromString(string(vars)); verr == nil {
			_, _ = withVars.Send(ctx)
			return outcome
		}
		_, _ = cmd.Send(ctx)
		return outcome
	}

	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(bpmnErr.Code).
		ErrorMessage(bpmnErr.Message)
	if withVars, verr := cmd.VariablesFromString(string(vars)); verr == nil {
		_, _ = withVars.Send(ctx)
		return outcome
	}
	_, _ = cmd.Send(ctx)
	return outcome
}

func decide(stdErr *StandardError, bpmnErr *BPMNError, jobRetries int32) Outcome {
	if stdErr.Retryable && bpmnErr.Retries > 0 && jobRetries > 0 {
		return OutcomeRetried
	}
	return OutcomeThrown
}

// Normalize wraps foreign errors as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

// remainingRetries never raises the broker's remaining count, only lowers it.
func remainingRetries(jobRetries int32, maxRetries int) int32 {
	if jobRetries > 0 && int(jobRetries) < maxRetries {
		return jobRetries - 1
	}
	return int32(maxRetries)
}
