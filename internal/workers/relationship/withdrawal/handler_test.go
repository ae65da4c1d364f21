package withdrawal

import (
	"context"
	"testing"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/matching/cooling"
	"companion-workers/internal/matching/effects"
	"companion-workers/internal/matching/stage"
	"companion-workers/internal/models"
	"companion-workers/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type nopNotifier struct{}

func (nopNotifier) CreateNotification(_ context.Context, req models.NotificationRequest) (*models.Notification, error) {
	return &models.Notification{UserID: req.UserID, Type: req.Type}, nil
}

type fixture struct {
	now     time.Time
	store   *memory.Store
	cooling *cooling.Service
	handler *Handler
	relID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0, store: memory.New()}
	clock := func() time.Time { return f.now }
	f.store.WithClock(clock)
	stages := stage.NewEngine(stage.Config{}, stage.Deps{Store: f.store, Clock: clock}, logger.NewNoOpLogger())
	runner := effects.NewRunner(effects.Config{Attempts: 1}, f.store, nopNotifier{}, nil, logger.NewNoOpLogger()).WithClock(clock)
	f.cooling = cooling.NewService(cooling.Config{Policy: cooling.PolicyReview},
		cooling.Deps{Store: f.store, Effects: runner, Progress: stages, Clock: clock}, logger.NewNoOpLogger())
	f.handler = NewHandler(f.cooling, nil, logger.NewTestLogger(t))

	rel := &models.Relationship{
		YouthID:          "y-1",
		ElderlyID:        "e-1",
		ApplicationID:    "app-1",
		CurrentStage:     models.StageGettingToKnow,
		StageStartDate:   t0.Add(-3 * 24 * time.Hour),
		Status:           models.RelationshipActive,
		EndRequestStatus: models.EndRequestNone,
		CreatedAt:        t0.Add(-3 * 24 * time.Hour),
	}
	require.NoError(t, f.store.CreateRelationship(context.Background(), rel, stage.DefaultCatalog().Seed(models.StageGettingToKnow)))
	f.relID = rel.ID
	return f
}

func boolPtr(b bool) *bool { return &b }

var (
	youth = models.Actor{UserID: "y-1", Role: models.RoleYouth}
	admin = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

func TestRequestAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.handler.execute(ctx, &Input{Actor: youth, RelationshipID: f.relID, Action: ActionRequest, Reason: "exams"})
	require.NoError(t, err)
	assert.Equal(t, string(models.RelationshipPaused), out.Status)
	assert.Equal(t, string(models.EndRequestPendingCooldown), out.EndRequestStatus)
	require.NotNil(t, out.CoolingEndsAt)
	assert.Equal(t, t0.Add(cooling.DefaultCooldown), *out.CoolingEndsAt)

	out, err = f.handler.execute(ctx, &Input{Actor: youth, RelationshipID: f.relID, Action: ActionCancel})
	require.NoError(t, err)
	assert.Equal(t, string(models.RelationshipActive), out.Status)
	assert.Nil(t, out.CoolingEndsAt)
}

func TestResolveAfterCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.handler.execute(ctx, &Input{Actor: youth, RelationshipID: f.relID, Action: ActionRequest})
	require.NoError(t, err)

	_, err = f.handler.execute(ctx, &Input{Actor: admin, RelationshipID: f.relID, Action: ActionResolve, Approve: boolPtr(true)})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidState), "still cooling")

	f.now = t0.Add(cooling.DefaultCooldown + time.Minute)
	stats, err := f.cooling.ApplyExpiredCooldowns(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reviewed)

	_, err = f.handler.execute(ctx, &Input{Actor: youth, RelationshipID: f.relID, Action: ActionResolve, Approve: boolPtr(true)})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotAuthorized))

	out, err := f.handler.execute(ctx, &Input{Actor: admin, RelationshipID: f.relID, Action: ActionResolve, Approve: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, string(models.RelationshipEnded), out.Status)
	assert.Equal(t, string(models.EndRequestApproved), out.EndRequestStatus)
}
