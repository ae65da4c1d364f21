package store

import (
	"errors"
	"fmt"
	"testing"

	apperrors "companion-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	limit := apperrors.NewLimitExceededError(apperrors.PartyYouth, 3)

	tests := []struct {
		name string
		err  error
		want apperrors.ErrorCode
	}{
		{"not found", fmt.Errorf("interest i-1: %w", ErrNotFound), apperrors.ErrCodeNotFound},
		{"precondition", fmt.Errorf("interest i-1: %w", ErrPreconditionFailed), apperrors.ErrCodeInvalidState},
		{"duplicate", ErrDuplicate, apperrors.ErrCodeInvalidState},
		{"driver failure", errors.New("connection refused"), apperrors.ErrCodeDependencyFailure},
		{"standard error passes", limit, apperrors.ErrCodeLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(tt.err, "interest", "i-1")
			assert.Equal(t, tt.want, apperrors.CodeOf(got))
		})
	}
	assert.Nil(t, Translate(nil, "interest", "i-1"))
}
