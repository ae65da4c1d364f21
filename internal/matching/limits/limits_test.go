package limits

import (
	"context"
	"errors"
	"testing"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts map[string]int
	err    error
	calls  []string
}

func (f *fakeCounter) CountActivePreMatches(_ context.Context, userID string, _ models.Role) (int, error) {
	f.calls = append(f.calls, userID)
	return f.counts[userID], f.err
}

func TestEvaluate(t *testing.T) {
	c := DefaultCeilings()
	tests := []struct {
		name           string
		youth, elderly int
		want           Verdict
	}{
		{"both free", 0, 0, Verdict{Allowed: true}},
		{"youth one below", 2, 4, Verdict{Allowed: true}},
		{"youth at ceiling", 3, 0, Verdict{Reason: ReasonYouthLimit}},
		{"elderly at ceiling", 0, 5, Verdict{Reason: ReasonElderlyLimit}},
		{"both over reports youth", 4, 9, Verdict{Reason: ReasonYouthLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(c, tt.youth, tt.elderly))
		})
	}
}

func TestCheckLimit(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"y-full": 3, "y-free": 2, "e-full": 5, "admin-1": 99}}
	p := NewPolicy(counter, DefaultCeilings())
	ctx := context.Background()

	tests := []struct {
		user    string
		role    models.Role
		blocked bool
	}{
		{"y-full", models.RoleYouth, true},
		{"y-free", models.RoleYouth, false},
		{"e-full", models.RoleElderly, true},
		{"admin-1", models.RoleAdmin, false},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			blocked, err := p.CheckLimit(ctx, tt.user, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.blocked, blocked)
		})
	}
	assert.NotContains(t, counter.calls, "admin-1")
}

func TestCanStartPreMatchShortCircuitsOnYouth(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"y-1": 3, "e-1": 5}}
	p := NewPolicy(counter, DefaultCeilings())

	v, err := p.CanStartPreMatch(context.Background(), "y-1", "e-1")
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, ReasonYouthLimit, v.Reason)
	assert.Equal(t, []string{"y-1"}, counter.calls)
}

func TestCanStartPreMatchDependencyFailure(t *testing.T) {
	p := NewPolicy(&fakeCounter{err: errors.New("connection reset")}, DefaultCeilings())

	_, err := p.CanStartPreMatch(context.Background(), "y-1", "e-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDependencyFailure))
}

func TestAdmissionReturnsLimitExceededWithParty(t *testing.T) {
	p := NewPolicy(&fakeCounter{}, DefaultCeilings())
	admit := p.Admission()

	assert.NoError(t, admit(2, 4))

	err := admit(1, 5)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeLimitExceeded))
	assert.Equal(t, apperrors.PartyElderly, apperrors.Party(err))

	err = admit(3, 5)
	assert.Equal(t, apperrors.PartyYouth, apperrors.Party(err))
}
