package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTasksList(t *testing.T) {
	out, err := run(t, "tasks")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 9)
	assert.Contains(t, out, "relationship-withdrawal")
	assert.Contains(t, out, "LIMIT_EXCEEDED")
}

func TestTasksValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"youthId":"y-1","elderlyId":"e-1"}`), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte(`{"youthId":""}`), 0o600))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"valid", []string{"tasks", "validate", "express-interest", good}, ""},
		{"invalid", []string{"tasks", "validate", "express-interest", bad}, "elderlyId"},
		{"unknown task", []string{"tasks", "validate", "crm-user-create", good}, "unknown task type"},
		{"missing file", []string{"tasks", "validate", "express-interest", filepath.Join(dir, "nope.json")}, "no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "ok\n", out)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestArgumentChecks(t *testing.T) {
	_, err := run(t, "progression")
	assert.Error(t, err)

	_, err = run(t, "watch", "a", "b")
	assert.Error(t, err)
}
