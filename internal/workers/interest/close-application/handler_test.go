package closeapplication

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

var (
	youth   = models.Actor{UserID: "y-1", Role: models.RoleYouth}
	elderly = models.Actor{UserID: "e-1", Role: models.RoleElderly}
	admin   = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

func newEngine(t *testing.T) (*interest.Engine, *memory.Store) {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) }
	st := memory.New()
	st.WithClock(now)
	runner := effects.NewRunner(effects.Config{Attempts: 1}, st, nopNotifier{}, nil, logger.NewNoOpLogger()).WithClock(now)
	return interest.NewEngine(interest.DefaultConfig(), interest.Deps{Store: st, Effects: runner, Clock: now}, logger.NewNoOpLogger()), st
}

func TestEndPreMatchThenConfirm(t *testing.T) {
	ctx := context.Background()
	engine, st := newEngine(t)
	h := NewHandler(engine, nil, logger.NewTestLogger(t))

	in, err := engine.ExpressInterest(ctx, "y-1", "e-1")
	require.NoError(t, err)
	_, err = engine.RespondToInterest(ctx, elderly, in.ID, true)
	require.NoError(t, err)

	out, err := h.execute(ctx, &Input{Actor: elderly, InterestID: in.ID, Action: ActionEndPreMatch, Reason: "schedules clash"})
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusRejected), out.Status)
	assert.False(t, out.Deleted)

	_, err = h.execute(ctx, &Input{Actor: elderly, InterestID: in.ID, Action: ActionConfirmRejection})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotAuthorized), "only the youth confirms")

	out, err = h.execute(ctx, &Input{Actor: youth, InterestID: in.ID, Action: ActionConfirmRejection})
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, err = st.GetInterest(ctx, in.ID)
	assert.Error(t, err)
}

func TestWithdrawThenDelete(t *testing.T) {
	ctx := context.Background()
	engine, st := newEngine(t)
	h := NewHandler(engine, nil, logger.NewNoOpLogger())

	pending, err := engine.ExpressInterest(ctx, "y-1", "e-1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		actor models.Actor
		code  apperrors.ErrorCode
	}{
		{"admin", admin, apperrors.ErrCodeNotAuthorized},
		{"elderly", elderly, apperrors.ErrCodeNotAuthorized},
		{"youth before rejection", youth, apperrors.ErrCodeInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.execute(ctx, &Input{Actor: tt.actor, InterestID: pending.ID, Action: ActionDelete})
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}
	_, err = st.GetInterest(ctx, pending.ID)
	require.NoError(t, err)

	out, err := h.execute(ctx, &Input{Actor: youth, InterestID: pending.ID, Action: ActionWithdraw})
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusRejected), out.Status)
	assert.False(t, out.Deleted)

	out, err = h.execute(ctx, &Input{Actor: youth, InterestID: pending.ID, Action: ActionDelete})
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, err = h.execute(ctx, &Input{Actor: youth, InterestID: pending.ID, Action: ActionDelete})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}
