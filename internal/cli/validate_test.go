package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidConfig(t *testing.T) {
	dir := writeWorkspace(t, `target: hello: argv: ["true"]`, nil)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", ConfigDir: dir}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ok:")
	assert.Contains(t, buf.String(), "1 targets")
}

func TestValidateValidConfigJSON(t *testing.T) {
	dir := writeWorkspace(t, "", nil)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json", ConfigDir: dir}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)

	err := cmd.Execute()
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateMissingConfigDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", ConfigDir: filepath.Join(t.TempDir(), "nope")}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "error:")
}

func TestValidateBrokenConfig(t *testing.T) {
	dir := writeWorkspace(t, `target: broken: description: "no argv"`, nil)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", ConfigDir: dir}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "broken")
}
