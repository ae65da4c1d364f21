package registry

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "companion-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownCodes = []apperrors.ErrorCode{
	apperrors.ErrCodeLimitExceeded,
	apperrors.ErrCodeInvalidState,
	apperrors.ErrCodeNotEligible,
	apperrors.ErrCodeNotFound,
	apperrors.ErrCodeNotAuthorized,
	apperrors.ErrCodeDependencyFailure,
	apperrors.ErrCodeValidationFailed,
	apperrors.ErrCodeDuplicateInterest,
}

func TestDefaultRegistry(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	assert.Len(t, reg.Activities, 9)

	for _, a := range reg.Activities {
		assert.Equal(t, a.ID, a.TaskType)
		assert.Equal(t, "implemented", a.ImplementationStatus, a.TaskType)
		assert.NotEmpty(t, a.InputSchema, a.TaskType)
		assert.Positive(t, a.TimeoutDuration(), a.TaskType)
		for _, code := range a.ErrorCodes {
			assert.Contains(t, knownCodes, apperrors.ErrorCode(code), a.TaskType)
		}
	}
	assert.Contains(t, reg.TaskTypes(), "relationship-withdrawal")
}

func TestValidateInput(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	a, ok := reg.Find("respond-to-interest")
	require.True(t, ok)
	assert.NoError(t, a.ValidateInput([]byte(`{"actor":{"userId":"e-1","role":"elderly"},"interestId":"int-1","accept":true}`)))

	err = a.ValidateInput([]byte(`{"actor":{"userId":"e-1","role":"pilot"},"interestId":"int-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accept")

	_, ok = reg.Find("crm-user-create")
	assert.False(t, ok)

	withdrawal, ok := reg.Find("relationship-withdrawal")
	require.True(t, ok)
	assert.True(t, withdrawal.Raises("INVALID_STATE"))
	assert.False(t, withdrawal.Raises("LIMIT_EXCEEDED"))
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"2","activities":[{"id":"x","taskType":"x"}]}`), 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, reg.TaskTypes())

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
