package maintenancesweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"companion-workers/internal/common/logger"
	"companion-workers/internal/matching/cooling"
	"companion-workers/internal/matching/effects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSweeps struct {
	mock.Mock
}

func (m *MockSweeps) ApplyExpiredCooldowns(ctx context.Context, limit int) (cooling.SweepStats, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(cooling.SweepStats), args.Error(1)
}

func (m *MockSweeps) RemindExpired(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockSweeps) Replay(ctx context.Context, limit int) (effects.ReplayStats, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(effects.ReplayStats), args.Error(1)
}

func newHandler(t *testing.T, m *MockSweeps, cfg *Config) *Handler {
	return NewHandler(cfg, Deps{Cooling: m, PreMatch: m, Effects: m}, nil, logger.NewTestLogger(t))
}

func TestExecuteRunsEveryPass(t *testing.T) {
	m := &MockSweeps{}
	m.On("ApplyExpiredCooldowns", mock.Anything, 100).Return(cooling.SweepStats{Reviewed: 2}, nil)
	m.On("RemindExpired", mock.Anything, 100).Return(3, nil)
	m.On("Replay", mock.Anything, 100).Return(effects.ReplayStats{Delivered: 1, Rescheduled: 1}, nil)

	out, err := newHandler(t, m, nil).execute(context.Background(), &Input{})
	require.NoError(t, err)
	m.AssertExpectations(t)
	assert.Equal(t, 2, out.Cooldowns.Reviewed)
	assert.Equal(t, 3, out.PreMatchReminders)
	assert.Equal(t, 1, out.SideEffects.Delivered)
}

func TestExecuteContinuesAfterFailure(t *testing.T) {
	m := &MockSweeps{}
	m.On("ApplyExpiredCooldowns", mock.Anything, 5).Return(cooling.SweepStats{}, errors.New("db down"))
	m.On("RemindExpired", mock.Anything, 5).Return(1, nil)
	m.On("Replay", mock.Anything, 5).Return(effects.ReplayStats{}, nil)

	out, err := newHandler(t, m, nil).execute(context.Background(), &Input{BatchSize: 5})
	assert.ErrorContains(t, err, "cooldowns: db down")
	require.NotNil(t, out)
	assert.Equal(t, 1, out.PreMatchReminders)
	m.AssertExpectations(t)
}

func TestSweepBatchSize(t *testing.T) {
	m := &MockSweeps{}
	m.On("ApplyExpiredCooldowns", mock.Anything, 250).Return(cooling.SweepStats{}, nil)
	m.On("RemindExpired", mock.Anything, 250).Return(0, nil)
	m.On("Replay", mock.Anything, 250).Return(effects.ReplayStats{Dropped: 1}, nil)

	h := newHandler(t, m, nil)
	out, err := h.Sweep(context.Background(), 250)
	require.NoError(t, err)
	assert.Equal(t, 1, out.SideEffects.Dropped)
	m.AssertExpectations(t)

	_, err = h.Sweep(context.Background(), 5000)
	assert.Error(t, err)
}

func TestLoopSweepsUntilCancelled(t *testing.T) {
	m := &MockSweeps{}
	swept := make(chan struct{}, 10)
	m.On("ApplyExpiredCooldowns", mock.Anything, 10).Return(cooling.SweepStats{}, nil)
	m.On("RemindExpired", mock.Anything, 10).Return(0, nil)
	m.On("Replay", mock.Anything, 10).Return(effects.ReplayStats{}, nil).Run(func(mock.Arguments) {
		swept <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newHandler(t, m, &Config{BatchSize: 10, Interval: 5 * time.Millisecond}).Loop(ctx) }()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never swept")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{BatchSize: 0}).Validate())
	assert.Error(t, (&Config{BatchSize: 10, Interval: -time.Second}).Validate())
}
