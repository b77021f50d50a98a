package process

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snuderl/pants/internal/store"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	dir := t.TempDir()
	cas, err := store.Open(filepath.Join(dir, "cas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cas.Close() })

	l, err := NewLocal(cas, filepath.Join(dir, "scratch"), nil)
	require.NoError(t, err)
	return l
}

func TestExecute_CapturesStdout(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	res, err := l.Execute(ctx, Request{Argv: []string{"sh", "-c", "printf hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	out, ok, err := l.store.Get(ctx, res.Stdout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), out)
}

func TestExecute_NonZeroExitIsAResult(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	res, err := l.Execute(ctx, Request{Argv: []string{"sh", "-c", "echo oops >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	errOut, ok, err := l.store.Get(ctx, res.Stderr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "oops\n", string(errOut))
}

func TestExecute_SpawnFailureIsAnError(t *testing.T) {
	l := newLocal(t)
	_, err := l.Execute(context.Background(), Request{Argv: []string{"definitely-not-a-command-xyz"}})
	require.Error(t, err)
}

func TestExecute_EmptyArgv(t *testing.T) {
	l := newLocal(t)
	_, err := l.Execute(context.Background(), Request{})
	require.Error(t, err)
}

func TestExecute_PassesEnvironment(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	res, err := l.Execute(ctx, Request{
		Argv: []string{"sh", "-c", "printf \"$GREETING\""},
		Env:  []string{"GREETING=hi there", "PATH=/usr/bin:/bin"},
	})
	require.NoError(t, err)

	out, ok, err := l.store.Get(ctx, res.Stdout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi there", string(out))
}

func TestRequest_FingerprintIgnoresEnvOrder(t *testing.T) {
	a := Request{Argv: []string{"true"}, Env: []string{"A=1", "B=2"}}
	b := Request{Argv: []string{"true"}, Env: []string{"B=2", "A=1"}}

	da, err := a.Fingerprint()
	require.NoError(t, err)
	db, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestRequest_FingerprintDistinguishesArgv(t *testing.T) {
	a := Request{Argv: []string{"echo", "a"}}
	b := Request{Argv: []string{"echo", "b"}}

	da, err := a.Fingerprint()
	require.NoError(t, err)
	db, err := b.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}
