package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
)

type sampleInput struct {
	Actor      models.Actor `json:"actor" validate:"required"`
	InterestID string       `json:"interestId" validate:"required"`
}

func jobWith(vars string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 1, Variables: vars}}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		vars    string
		wantErr bool
	}{
		{"valid", `{"actor":{"userId":"e-1","role":"elderly"},"interestId":"i-1"}`, false},
		{"malformed json", `{"actor":`, true},
		{"missing interest", `{"actor":{"userId":"e-1","role":"elderly"}}`, true},
		{"bad role", `{"actor":{"userId":"e-1","role":"robot"},"interestId":"i-1"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in sampleInput
			err := Decode(jobWith(tt.vars), &in)
			if !tt.wantErr {
				assert.NoError(t, err)
				assert.Equal(t, "i-1", in.InterestID)
				return
			}
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
		})
	}
}

func TestIsRetryableZeebeError(t *testing.T) {
	assert.True(t, isRetryableZeebeError(errors.New("rpc error: code = Unavailable")))
	assert.True(t, isRetryableZeebeError(errors.New("context deadline exceeded")))
	assert.False(t, isRetryableZeebeError(errors.New("invalid argument")))
}

func TestMapZeebeError(t *testing.T) {
	assert.True(t, apperrors.Is(mapZeebeError(errors.New("process not found"), "deploy", 0), apperrors.ErrCodeNotFound))
	assert.True(t, apperrors.Is(mapZeebeError(errors.New("permission denied"), "deploy", 0), apperrors.ErrCodeNotAuthorized))
	assert.True(t, apperrors.Is(mapZeebeError(errors.New("unavailable"), "deploy", 2), apperrors.ErrCodeDependencyFailure))
}

func TestBackoffRetriesTransientErrors(t *testing.T) {
	b := Backoff{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantCode  apperrors.ErrorCode
	}{
		{"succeeds after transient", []error{errors.New("rpc error: code = Unavailable"), nil}, 2, ""},
		{"gives up after attempts", []error{errors.New("unavailable"), errors.New("unavailable"), errors.New("unavailable")}, 3, apperrors.ErrCodeDependencyFailure},
		{"permanent fails fast", []error{errors.New("invalid argument")}, 1, apperrors.ErrCodeDependencyFailure},
		{"typed error passes through", []error{apperrors.NewValidationFailedError("bad vars")}, 1, apperrors.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := b.do(context.Background(), "publish x", func(context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperrors.Is(err, tt.wantCode), err)
		})
	}
}

func TestBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Backoff{Attempts: 5, Base: time.Hour}.do(ctx, "publish x", func(context.Context) error {
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
