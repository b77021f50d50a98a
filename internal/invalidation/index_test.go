package invalidation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snuderl/pants/internal/fsys"
)

func TestIndex_FileWatch(t *testing.T) {
	x := NewIndex[string]()
	x.WatchFile("src/a.txt", "node-1")
	x.WatchFile("src/a.txt", "node-2")
	x.WatchFile("src/b.txt", "node-3")

	got := x.Match([]string{"src/a.txt"})
	assert.ElementsMatch(t, []string{"node-1", "node-2"}, got)
}

func TestIndex_UnwatchedPathIsNoOp(t *testing.T) {
	x := NewIndex[string]()
	x.WatchFile("src/a.txt", "node-1")

	assert.Empty(t, x.Match([]string{"elsewhere/c.txt"}))
	assert.Empty(t, x.Match(nil))
}

func TestIndex_DirWatchMatchesChildren(t *testing.T) {
	x := NewIndex[string]()
	x.WatchDir("src", "listing-node")

	assert.Equal(t, []string{"listing-node"}, x.Match([]string{"src/new_file.txt"}))
	assert.Equal(t, []string{"listing-node"}, x.Match([]string{"src"}))
	assert.Empty(t, x.Match([]string{"src/sub/deep.txt"}), "listings are not recursive")
}

func TestIndex_GlobWatch(t *testing.T) {
	x := NewIndex[string]()
	x.WatchGlobs(fsys.Globs{Include: []string{"**/*.go"}}, "glob-node")

	assert.Equal(t, []string{"glob-node"}, x.Match([]string{"pkg/deep/file.go"}))
	assert.Empty(t, x.Match([]string{"pkg/deep/file.txt"}))
}

func TestIndex_MatchDeduplicates(t *testing.T) {
	x := NewIndex[string]()
	x.WatchFile("a.go", "node-1")
	x.WatchGlobs(fsys.Globs{Include: []string{"*.go"}}, "node-1")

	got := x.Match([]string{"a.go", "a.go"})
	assert.Equal(t, []string{"node-1"}, got)
}

func TestIndex_Drop(t *testing.T) {
	x := NewIndex[string]()
	x.WatchFile("a.go", "node-1")
	x.WatchDir("src", "node-1")
	x.WatchGlobs(fsys.Globs{Include: []string{"*.py"}}, "node-1")
	x.WatchFile("a.go", "node-2")

	x.Drop("node-1")

	assert.Equal(t, []string{"node-2"}, x.Match([]string{"a.go"}))
	assert.Empty(t, x.Match([]string{"src/child"}))
	assert.Empty(t, x.Match([]string{"b.py"}))
}

func TestIndex_Reset(t *testing.T) {
	x := NewIndex[string]()
	x.WatchFile("a.go", "node-1")
	x.Reset()
	assert.Empty(t, x.Match([]string{"a.go"}))
}
