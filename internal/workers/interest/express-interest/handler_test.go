package expressinterest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"companion-workers/internal/common/camunda"
	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ExpressInterest(ctx context.Context, youthID, elderlyID string) (*models.Interest, error) {
	args := m.Called(ctx, youthID, elderlyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Interest), args.Error(1)
}

func createMockJob(variables map[string]interface{}) entities.Job {
	raw, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 1, Type: TaskType, Variables: string(raw)}}
}

func TestExecute(t *testing.T) {
	applied := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		result   *models.Interest
		err      error
		wantCode apperrors.ErrorCode
	}{
		{
			name:   "created",
			result: &models.Interest{ID: "int-1", YouthID: "y-1", ElderlyID: "e-1", Status: models.StatusPendingInterest, AppliedAt: applied},
		},
		{
			name:     "youth at ceiling",
			err:      apperrors.NewLimitExceededError(apperrors.PartyYouth, 3),
			wantCode: apperrors.ErrCodeLimitExceeded,
		},
		{
			name:     "duplicate pair",
			err:      apperrors.NewDuplicateInterestError("y-1", "e-1"),
			wantCode: apperrors.ErrCodeDuplicateInterest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockService{}
			svc.On("ExpressInterest", mock.Anything, "y-1", "e-1").Return(tt.result, tt.err)
			h := NewHandler(svc, nil, logger.NewTestLogger(t))

			out, err := h.execute(context.Background(), &Input{YouthID: "y-1", ElderlyID: "e-1"})
			svc.AssertExpectations(t)
			if tt.wantCode != "" {
				assert.True(t, apperrors.Is(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "int-1", out.InterestID)
			assert.Equal(t, string(models.StatusPendingInterest), out.Status)
			assert.Equal(t, applied, out.AppliedAt)
		})
	}
}

func TestInputValidation(t *testing.T) {
	var in Input
	err := camunda.Decode(createMockJob(map[string]interface{}{"youthId": "y-1", "elderlyId": "y-1"}), &in)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed), "a user cannot express interest in themselves")

	err = camunda.Decode(createMockJob(map[string]interface{}{"youthId": "y-1"}), &in)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))

	require.NoError(t, camunda.Decode(createMockJob(map[string]interface{}{"youthId": "y-1", "elderlyId": "e-1"}), &in))
	assert.Equal(t, "e-1", in.ElderlyID)
}
