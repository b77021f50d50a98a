package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchStopsOnContextCancel(t *testing.T) {
	dir := writeWorkspace(t, "", map[string]string{"a.txt": "x\n"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", ConfigDir: dir}
	cmd := NewWatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	err := cmd.ExecuteContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "watching")
}

func TestWatchMissingConfigDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", ConfigDir: "/nonexistent/config/dir"}
	cmd := NewWatchCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
