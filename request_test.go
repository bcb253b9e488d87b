package relauncher

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(" YourApp.exe, helper.exe ,,", " /tmp/update ", "/app/resources", "/app/YourApp.exe", ` user_data/ ,,logs\`)
	require.Nil(t, err)
	assert.Equal(t, []string{"YourApp.exe", "helper.exe"}, req.ProcessNames)
	assert.Equal(t, "/tmp/update", req.InputDir)
	assert.Equal(t, "/app/resources", req.OutputDir)
	assert.Equal(t, "/app/YourApp.exe", req.AppPath)
	assert.Equal(t, []string{"user_data/", "logs/"}, req.Ignore)
}

func TestNewRequestOptionalLists(t *testing.T) {
	req, err := NewRequest("", "in", "out", "app", "")
	require.Nil(t, err)
	assert.Empty(t, req.ProcessNames)
	assert.Empty(t, req.Ignore)
}

func TestNewRequestMissingArgument(t *testing.T) {
	var tests = []struct {
		input, output, app string
		flag               string
	}{
		{"", "out", "app", "--input"},
		{"in", " ", "app", "--output"},
		{"in", "out", "", "--app"},
	}
	for _, tt := range tests {
		req, err := NewRequest("p", tt.input, tt.output, tt.app, "")
		require.NotNil(t, err)
		assert.Nil(t, req)
		assert.Equal(t, ErrMissingArgument, errors.Cause(err))
		assert.Contains(t, err.Error(), tt.flag)
	}
}
