package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/types"
)

func noopRun(t Task) (types.Value, error) { return nil, nil }

type stubParam struct{ id types.ID }

func (p stubParam) TypeID() types.ID { return p.id }
func (p stubParam) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainParams, string(p.id))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Rule{Name: "count_lines", Params: []types.ID{"Path"}, Output: "LineCount", Run: noopRun})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup("count_lines")
	require.True(t, ok)
	assert.Equal(t, types.ID("LineCount"), got.Output)
}

func TestRegistry_RejectsStructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		rule    *Rule
		wantErr string
	}{
		{"no name", &Rule{Output: "T", Run: noopRun}, "no name"},
		{"no output", &Rule{Name: "r", Run: noopRun}, "no output type"},
		{"no run", &Rule{Name: "r", Output: "T"}, "no run function"},
		{"duplicate param", &Rule{Name: "r", Output: "T", Params: []types.ID{"P", "P"}, Run: noopRun}, "twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.rule)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Rule{Name: "r", Output: "T", Run: noopRun}))
	err := r.Register(&Rule{Name: "r", Output: "U", Run: noopRun})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_RulesSortedByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Rule{Name: "zeta", Output: "T", Run: noopRun}))
	require.NoError(t, r.Register(&Rule{Name: "alpha", Output: "U", Run: noopRun}))

	rules := r.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "alpha", rules[0].Name)
	assert.Equal(t, "zeta", rules[1].Name)
}

func TestRule_DeclaresGet(t *testing.T) {
	rule := &Rule{
		Name:   "r",
		Output: "T",
		Run:    noopRun,
		Gets: []GetDecl{
			{Output: "FileContent"},
			{Output: "ProcessResult", Extra: []types.ID{"ProcessRequest"}},
		},
	}

	assert.True(t, rule.DeclaresGet("FileContent", nil))
	assert.True(t, rule.DeclaresGet("ProcessResult", []types.Param{stubParam{id: "ProcessRequest"}}))
	assert.False(t, rule.DeclaresGet("FileContent", []types.Param{stubParam{id: "ProcessRequest"}}))
	assert.False(t, rule.DeclaresGet("Snapshot", nil))
}
