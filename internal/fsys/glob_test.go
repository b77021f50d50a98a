package fsys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/a.go", "src/a.go", true},
		{"src/a.go", "src/b.go", false},
		{"src/*.go", "src/a.go", true},
		{"src/*.go", "src/sub/a.go", false},
		{"**/*.go", "a.go", true},
		{"**/*.go", "src/sub/a.go", true},
		{"**/*.go", "src/sub/a.txt", false},
		{"src/**", "src/a.go", true},
		{"src/**", "src/sub/deep/a.go", true},
		{"src/**", "other/a.go", false},
		{"src/**/test_*.py", "src/test_a.py", true},
		{"src/**/test_*.py", "src/x/y/test_b.py", true},
		{"src/**/test_*.py", "src/x/y/b.py", false},
		{"**", "anything/at/all", true},
		{"**", "", true},
		{"*.go", "a.go", true},
		{"*.go", "sub/a.go", false},
		{"/abs/*.go", "abs/a.go", true}, // leading slash trimmed
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.path))
		})
	}
}

func TestGlobs_Selects(t *testing.T) {
	g := Globs{
		Include: []string{"src/**/*.go"},
		Exclude: []string{"src/vendor/**"},
	}

	assert.True(t, g.Selects("src/a.go"))
	assert.True(t, g.Selects("src/deep/b.go"))
	assert.False(t, g.Selects("src/vendor/dep/c.go"), "excluded")
	assert.False(t, g.Selects("docs/readme.md"), "not included")
}

func TestGlobs_EmptyIncludeSelectsNothing(t *testing.T) {
	assert.False(t, Globs{}.Selects("a.go"))
}
