package respondtointerest

import (
	"context"
	"testing"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/matching/effects"
	"companion-workers/internal/matching/interest"
	"companion-workers/internal/models"
	"companion-workers/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopNotifier struct{}

func (nopNotifier) CreateNotification(_ context.Context, req models.NotificationRequest) (*models.Notification, error) {
	return &models.Notification{UserID: req.UserID, Type: req.Type}, nil
}

func newEngine(t *testing.T) *interest.Engine {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) }
	st := memory.New()
	st.WithClock(now)
	runner := effects.NewRunner(effects.Config{Attempts: 1}, st, nopNotifier{}, nil, logger.NewNoOpLogger()).WithClock(now)
	return interest.NewEngine(interest.DefaultConfig(), interest.Deps{Store: st, Effects: runner, Clock: now}, logger.NewNoOpLogger())
}

func boolPtr(b bool) *bool { return &b }

func TestExecuteAcceptAndDecline(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	h := NewHandler(engine, nil, logger.NewTestLogger(t))
	elderly := models.Actor{UserID: "e-1", Role: models.RoleElderly}

	first, err := engine.ExpressInterest(ctx, "y-1", "e-1")
	require.NoError(t, err)
	out, err := h.execute(ctx, &Input{Actor: elderly, InterestID: first.ID, Accept: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, out.PreMatchActive)
	assert.Equal(t, string(models.StatusPreChatActive), out.Status)

	second, err := engine.ExpressInterest(ctx, "y-2", "e-1")
	require.NoError(t, err)
	out, err = h.execute(ctx, &Input{Actor: elderly, InterestID: second.ID, Accept: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, out.PreMatchActive)
	assert.Equal(t, string(models.StatusRejected), out.Status)
}

func TestExecuteRejectsWrongParty(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	h := NewHandler(engine, nil, logger.NewNoOpLogger())

	in, err := engine.ExpressInterest(ctx, "y-1", "e-1")
	require.NoError(t, err)
	_, err = h.execute(ctx, &Input{Actor: models.Actor{UserID: "y-1", Role: models.RoleYouth}, InterestID: in.ID, Accept: boolPtr(true)})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotAuthorized))

	_, err = h.execute(ctx, &Input{Actor: models.Actor{UserID: "e-1", Role: models.RoleElderly}, InterestID: "missing", Accept: boolPtr(true)})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}
