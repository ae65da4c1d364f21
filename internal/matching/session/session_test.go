package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"companion-workers/internal/changefeed"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/dedup"
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
	store   *memory.Store
	hub     *changefeed.Hub
	stages  *stage.Engine
	cooling *cooling.Service
}

func clock() time.Time { return t0 }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	f := &fixture{store: memory.New(), hub: changefeed.NewHub(log)}
	f.store.WithClock(clock)
	runner := effects.NewRunner(effects.Config{Attempts: 1}, f.store, nopNotifier{}, f.hub, log).WithClock(clock)
	f.stages = stage.NewEngine(stage.Config{}, stage.Deps{Store: f.store, Effects: runner, Clock: clock}, log)
	f.cooling = cooling.NewService(cooling.Config{}, cooling.Deps{Store: f.store, Effects: runner, Progress: f.stages, Clock: clock}, log)
	return f
}

func (f *fixture) seed(t *testing.T, createdDaysAgo int) *models.Relationship {
	t.Helper()
	rel := &models.Relationship{
		YouthID:          "y-1",
		ElderlyID:        "e-1",
		ApplicationID:    "app-1",
		CurrentStage:     models.StageTrialPeriod,
		StageStartDate:   t0.Add(-2 * 24 * time.Hour),
		Status:           models.RelationshipActive,
		EndRequestStatus: models.EndRequestNone,
		CreatedAt:        t0.Add(-time.Duration(createdDaysAgo) * 24 * time.Hour),
	}
	require.NoError(t, f.store.CreateRelationship(context.Background(), rel, stage.DefaultCatalog().Seed(models.StageTrialPeriod)))
	return rel
}

func (f *fixture) session(t *testing.T, userID string) *Session {
	t.Helper()
	s := NewSession(userID, Deps{
		Relationships: f.store,
		Stages:        f.stages,
		Cooling:       f.cooling,
		Milestones:    stage.NewMilestoneTracker(nil, dedup.NewMemorySeenSet(0), clock, logger.NewNoOpLogger()),
		Hub:           f.hub,
		Clock:         clock,
	}, logger.NewTestLogger(t))
	t.Cleanup(s.Close)
	return s
}

func TestRefreshWithoutRelationship(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "y-1")

	snap, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.HasRelationship)
	assert.Nil(t, snap.Progression)
	assert.Equal(t, snap, s.Latest())
}

func TestRefreshReportsMilestoneOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 15)
	s := f.session(t, "e-1")

	snap, err := s.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, snap.HasRelationship)
	assert.Equal(t, models.StageTrialPeriod, snap.Progression.CurrentStage)
	require.NotNil(t, snap.Cooling)
	assert.False(t, snap.Cooling.IsInCoolingPeriod)
	require.NotNil(t, snap.Milestone)
	require.NotNil(t, snap.Milestone.Reached)
	assert.Equal(t, 14, *snap.Milestone.Reached)

	snap, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Milestone.Reached)
	assert.Equal(t, 15, snap.Milestone.DaysTogether)

	// a second session of the same user gets its own presentation
	other := f.session(t, "e-1")
	snap, err = other.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Milestone.Reached)
}

type snapshots struct {
	mu  sync.Mutex
	got []Snapshot
}

func (s *snapshots) add(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, snap)
}

func (s *snapshots) last() (Snapshot, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return Snapshot{}, 0
	}
	return s.got[len(s.got)-1], len(s.got)
}

func TestSubscribeRefreshesOnChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rel := f.seed(t, 3)
	s := f.session(t, "y-1")

	var seen snapshots
	h, err := s.Subscribe(seen.add)
	require.NoError(t, err)

	_, err = f.stages.RecordActivity(ctx, rel.ID, models.MetricMeetings, 4)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, n := seen.last()
		return n > 0 && snap.Progression != nil && snap.Progression.Metrics.Meetings == 4
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.cooling.RequestWithdrawal(ctx, models.Actor{UserID: "e-1", Role: models.RoleElderly}, rel.ID, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := seen.last()
		return snap.Cooling != nil && snap.Cooling.IsInCoolingPeriod
	}, 2*time.Second, 5*time.Millisecond)

	h.Close()
	_, before := seen.last()
	_, err = f.cooling.CancelWithdrawal(ctx, models.Actor{UserID: "e-1"}, rel.ID)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, after := seen.last()
	assert.Equal(t, before, after, "closed handles receive nothing")
}

func TestCloseReleasesSubscriptions(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "y-1")

	_, err := s.Subscribe(func(Snapshot) {})
	require.NoError(t, err)
	_, err = s.Subscribe(func(Snapshot) {})
	require.NoError(t, err)
	assert.Equal(t, 2, f.hub.Len())

	s.Close()
	s.Close()
	assert.Zero(t, f.hub.Len())

	_, err = s.Subscribe(func(Snapshot) {})
	assert.Error(t, err)
}

func (s *Session) handleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func TestHandleCloseDetachesFromSession(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "y-1")

	keep, err := s.Subscribe(func(Snapshot) {})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		h, err := s.Subscribe(func(Snapshot) {})
		require.NoError(t, err)
		h.Close()
		h.Close()
	}
	assert.Equal(t, 1, s.handleCount())
	assert.Equal(t, 1, f.hub.Len())

	s.Close()
	keep.Close()
	assert.Zero(t, s.handleCount())
	assert.Zero(t, f.hub.Len())
}

type failingCooling struct{}

func (failingCooling) GetCoolingPeriodInfo(context.Context, string) (cooling.Info, error) {
	return cooling.Info{}, errors.New("store unavailable")
}

func TestRefreshPropagatesEngineErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1)
	s := NewSession("y-1", Deps{Relationships: f.store, Cooling: failingCooling{}, Hub: f.hub}, logger.NewNoOpLogger())
	defer s.Close()

	_, err := s.Refresh(context.Background())
	assert.Error(t, err)
}
