package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitExceededCarriesPartyAndRemedy(t *testing.T) {
	err := NewLimitExceededError(PartyYouth, 3)

	assert.Equal(t, ErrCodeLimitExceeded, err.Code)
	assert.False(t, err.Retryable)
	assert.Equal(t, PartyYouth, Party(err))
	assert.Contains(t, err.UserMessage(), "limit of 3")
	assert.Contains(t, err.UserMessage(), "End or complete")

	elderly := NewLimitExceededError(PartyElderly, 5)
	assert.Equal(t, PartyElderly, Party(elderly))
	assert.Contains(t, elderly.UserMessage(), "Try again later")
}

func TestInspectionThroughWrapping(t *testing.T) {
	base := NewInvalidStateError("interest", "i-1", "rejected", "pre_chat_active")
	wrapped := fmt.Errorf("submit: %w", base)

	assert.True(t, Is(wrapped, ErrCodeInvalidState))
	assert.False(t, Is(wrapped, ErrCodeNotFound))
	assert.Equal(t, ErrCodeInvalidState, CodeOf(wrapped))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("boom")))
	assert.Empty(t, Party(wrapped))
}

func TestDependencyFailureUnwraps(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewDependencyFailureError("postgres", cause)

	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, GetRetryCount(err.Code))
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{"limit", NewLimitExceededError(PartyElderly, 5), "LIMIT_EXCEEDED", 0},
		{"not eligible", NewNotEligibleError("too early", "wait"), "NOT_ELIGIBLE", 0},
		{"dependency", NewDependencyFailureError("redis", stderrors.New("x")), "DEPENDENCY_FAILURE", 3},
		{"unknown code", &StandardError{Code: "CUSTOM", Message: "m"}, "CUSTOM", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)

			vars := bpmn.ToErrorVariables()
			assert.Equal(t, tt.wantCode, vars["errorCode"])
			assert.Equal(t, string(tt.err.Code), vars["originalErrorCode"])
		})
	}
}

func TestConvertToBPMNErrorExposesBlockedParty(t *testing.T) {
	bpmn := ConvertToBPMNError(NewLimitExceededError(PartyYouth, 3))
	vars := bpmn.ToErrorVariables()

	assert.Equal(t, PartyYouth, vars["blockedParty"])
	assert.NotEmpty(t, vars["userMessage"])
}

func TestNormalize(t *testing.T) {
	se := NewNotFoundError("relationship", "r-1")
	assert.Same(t, se, Normalize(fmt.Errorf("wrap: %w", se)))

	n := Normalize(stderrors.New("raw"))
	require.NotNil(t, n)
	assert.Equal(t, ErrCodeInternal, n.Code)
	assert.Equal(t, "raw", n.Details)
}

func TestRemainingRetries(t *testing.T) {
	assert.Equal(t, int32(3), remainingRetries(5, 3))
	assert.Equal(t, int32(1), remainingRetries(2, 3))
	assert.Equal(t, int32(3), remainingRetries(0, 3))
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "ADMISSION", GetErrorCategory(ErrCodeLimitExceeded))
	assert.Equal(t, "STATE", GetErrorCategory(ErrCodeInvalidState))
	assert.Equal(t, "DEPENDENCY", GetErrorCategory(ErrCodeDependencyFailure))
	assert.Equal(t, "OTHER", GetErrorCategory("SOMETHING"))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		err     *StandardError
		retries int32
		want    Outcome
	}{
		{"dependency with retries left", NewDependencyFailureError("postgres", stderrors.New("down")), 3, OutcomeRetried},
		{"dependency with no retries left", NewDependencyFailureError("postgres", stderrors.New("down")), 0, OutcomeThrown},
		{"business rule", NewLimitExceededError("youth", 3), 3, OutcomeThrown},
		{"validation", NewValidationFailedError("bad"), 3, OutcomeThrown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.err, ConvertToBPMNError(tt.err), tt.retries))
		})
	}
}
