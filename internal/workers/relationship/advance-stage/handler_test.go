package advancestage

import (
	"context"
	"encoding/json"
	"testing"

	"companion-workers/internal/common/camunda"
	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/matching/stage"
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

func (m *MockService) AdvanceStageIfEligible(ctx context.Context, userID string) (*stage.AdvanceResult, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stage.AdvanceResult), args.Error(1)
}

func (m *MockService) RecordActivity(ctx context.Context, relationshipID string, metric models.Metric, delta int) (*stage.Progression, error) {
	args := m.Called(ctx, relationshipID, metric, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stage.Progression), args.Error(1)
}

func (m *MockService) SignOffRequirement(ctx context.Context, relationshipID, requirementID, by string) (*stage.Progression, error) {
	args := m.Called(ctx, relationshipID, requirementID, by)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stage.Progression), args.Error(1)
}

func createMockJob(variables map[string]interface{}) entities.Job {
	raw, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 4, Type: TaskType, Variables: string(raw)}}
}

func TestExecuteAdvance(t *testing.T) {
	tests := []struct {
		name   string
		result *stage.AdvanceResult
	}{
		{
			name: "advanced",
			result: &stage.AdvanceResult{
				Relationship: &models.Relationship{ID: "rel-1", CurrentStage: models.StageTrialPeriod},
				Advanced:     true,
				From:         models.StageGettingToKnow,
				To:           models.StageTrialPeriod,
			},
		},
		{
			name: "requirements outstanding",
			result: &stage.AdvanceResult{
				Relationship: &models.Relationship{ID: "rel-1", CurrentStage: models.StageGettingToKnow,
					Metrics: models.StageMetrics{ProgressPercentage: 60}},
				From:   models.StageGettingToKnow,
				Reason: stage.ReasonRequirementsDue,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockService{}
			svc.On("AdvanceStageIfEligible", mock.Anything, "y-1").Return(tt.result, nil)
			h := NewHandler(svc, nil, logger.NewTestLogger(t))

			out, err := h.execute(context.Background(), &Input{Action: ActionAdvance, UserID: "y-1"})
			require.NoError(t, err)
			svc.AssertExpectations(t)
			assert.Equal(t, tt.result.Advanced, out.Advanced)
			assert.Equal(t, tt.result.Reason, out.Reason)
			assert.Equal(t, string(tt.result.Relationship.CurrentStage), out.CurrentStage)
			assert.Equal(t, tt.result.Relationship.Metrics.ProgressPercentage, out.ProgressPercentage)
		})
	}
}

func TestExecuteRecordActivityDefaultsDelta(t *testing.T) {
	svc := &MockService{}
	svc.On("RecordActivity", mock.Anything, "rel-1", models.MetricMeetings, 1).
		Return(&stage.Progression{RelationshipID: "rel-1", CurrentStage: models.StageGettingToKnow, ProgressPercentage: 40}, nil)
	h := NewHandler(svc, nil, logger.NewNoOpLogger())

	out, err := h.execute(context.Background(), &Input{Action: ActionRecordActivity, RelationshipID: "rel-1", Metric: "meetings"})
	require.NoError(t, err)
	assert.Equal(t, 40, out.ProgressPercentage)
	svc.AssertExpectations(t)
}

func TestExecuteSignOff(t *testing.T) {
	svc := &MockService{}
	svc.On("SignOffRequirement", mock.Anything, "rel-1", "req-9", "e-1").
		Return(nil, apperrors.NewNotFoundError("requirement", "req-9"))
	h := NewHandler(svc, nil, logger.NewNoOpLogger())

	_, err := h.execute(context.Background(), &Input{Action: ActionSignOff, RelationshipID: "rel-1", RequirementID: "req-9", UserID: "e-1"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestInputValidation(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]interface{}
		wantErr bool
	}{
		{"advance", map[string]interface{}{"action": "advance", "userId": "y-1"}, false},
		{"advance without user", map[string]interface{}{"action": "advance"}, true},
		{"activity", map[string]interface{}{"action": "record_activity", "relationshipId": "rel-1", "metric": "video_calls", "delta": 2}, false},
		{"unknown metric", map[string]interface{}{"action": "record_activity", "relationshipId": "rel-1", "metric": "hugs"}, true},
		{"sign off without requirement", map[string]interface{}{"action": "sign_off", "relationshipId": "rel-1", "userId": "e-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in Input
			err := camunda.Decode(createMockJob(tt.vars), &in)
			if tt.wantErr {
				assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
				return
			}
			assert.NoError(t, err)
		})
	}
}
