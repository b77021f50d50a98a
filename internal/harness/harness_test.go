package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snuderl/pants/internal/fsys"
	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/rulegraph"
	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/types"
)

type lineCount int

func (lineCount) TypeID() types.ID { return "demo.LineCount" }

func (v lineCount) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type": "demo.LineCount",
		"n":    int(v),
	})
}

func demoOptions() Options {
	return Options{
		Rules: []*rules.Rule{{
			Name:   "demo.count_lines",
			Params: []types.ID{fsys.TypePath},
			Output: "demo.LineCount",
			Gets:   []rules.GetDecl{{Output: fsys.TypeFileContent}},
			Run: func(t rules.Task) (types.Value, error) {
				v, err := t.Get(fsys.TypeFileContent)
				if err != nil {
					return nil, err
				}
				content := string(v.(fsys.FileContent).Content)
				return lineCount(strings.Count(content, "\n")), nil
			},
		}},
		Queries: []rulegraph.Query{
			{Output: "demo.LineCount", Params: []types.ID{fsys.TypePath}},
		},
	}
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			s, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(s, demoOptions())
			require.NoError(t, err)
			assert.True(t, result.Passed(), "failures:\n%s", strings.Join(result.Failures, "\n"))
		})
	}
}

func TestRun_ReportsExpectationFailures(t *testing.T) {
	s := &Scenario{
		Name: "wrong-expectation",
		Workspace: map[string]string{
			"a.txt": "x\n",
		},
		Steps: []Step{
			{Request: &RequestStep{
				Output: "demo.LineCount",
				Path:   "a.txt",
				Expect: &Expect{Value: "999"},
			}},
		},
	}
	require.NoError(t, s.validate())

	result, err := Run(s, demoOptions())
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], `want "999"`)
}

func TestRun_ReportsRunCountMismatch(t *testing.T) {
	s := &Scenario{
		Name:      "run-count-mismatch",
		Workspace: map[string]string{"a.txt": "x\n"},
		Steps: []Step{
			{Request: &RequestStep{Output: "demo.LineCount", Path: "a.txt"}},
		},
		Runs: map[string]int{"demo.count_lines": 5},
	}
	result, err := Run(s, demoOptions())
	require.NoError(t, err)
	assert.False(t, result.Passed())
	assert.Contains(t, result.Failures[0], "ran 1 times, want 5")
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: typo
description: x
stepz:
  - request: {output: demo.LineCount, path: a.txt}
`), 0o644))
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenario_RejectsAmbiguousStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: both
steps:
  - request: {output: demo.LineCount, path: a.txt}
    invalidate: [a.txt]
`), 0o644))
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "exactly one")
}

func TestLoadScenario_RequiresSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\n"), 0o644))
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "steps")
}
