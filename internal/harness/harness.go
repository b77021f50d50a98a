// Package harness runs declarative YAML scenarios against a real engine:
// each scenario builds a scratch workspace, issues requests, edits files,
// invalidates, and asserts on values and rule execution counts. Unlike unit
// tests it exercises the whole stack, intrinsics and store included.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/snuderl/pants/internal/config"
	"github.com/snuderl/pants/internal/engine"
	"github.com/snuderl/pants/internal/fsys"
	"github.com/snuderl/pants/internal/graph"
	"github.com/snuderl/pants/internal/process"
	"github.com/snuderl/pants/internal/rulegraph"
	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/types"
)

// Options supplies the rule set a scenario runs against.
type Options struct {
	// Rules are the domain rules under test. The harness wraps each Run to
	// count actual executions for the scenario's runs assertion.
	Rules []*rules.Rule

	// Queries declares the requestable shapes for those rules.
	Queries []rulegraph.Query
}

// Result is the outcome of one scenario run.
type Result struct {
	// Failures lists every expectation that did not hold, in step order.
	Failures []string

	// RuleRuns counts actual executions per wrapped rule.
	RuleRuns map[string]int
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

func (r *Result) failf(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Run executes a scenario in a fresh scratch workspace and engine.
// Expectation failures land in the Result; an error means the scenario
// itself could not run.
func Run(s *Scenario, opts Options) (*Result, error) {
	ws, err := os.MkdirTemp("", "scenario-ws-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(ws)
	cache, err := os.MkdirTemp("", "scenario-cache-")
	if err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	defer os.RemoveAll(cache)

	for rel, content := range s.Workspace {
		p := filepath.Join(ws, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("populate workspace: %w", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("populate workspace: %w", err)
		}
	}

	result := &Result{RuleRuns: make(map[string]int)}
	var countMu sync.Mutex
	count := func(name string) {
		countMu.Lock()
		result.RuleRuns[name]++
		countMu.Unlock()
	}

	cfg := config.Default()
	cfg.Workspace = ws
	cfg.CacheDir = cache
	eng, err := engine.New(engine.Options{
		Config:  cfg,
		Rules:   opts.Rules,
		Queries: opts.Queries,
		WrapRule: func(r *rules.Rule) *rules.Rule {
			return countingRule(r, count)
		},
	})
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	ctx := context.Background()
	for i, step := range s.Steps {
		switch {
		case step.Request != nil:
			runRequest(ctx, eng, i, step.Request, result)
		case step.Write != nil:
			p := filepath.Join(ws, filepath.FromSlash(step.Write.Path))
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("steps[%d] write: %w", i, err)
			}
			if err := os.WriteFile(p, []byte(step.Write.Content), 0o644); err != nil {
				return nil, fmt.Errorf("steps[%d] write: %w", i, err)
			}
		case step.Remove != "":
			if err := os.Remove(filepath.Join(ws, filepath.FromSlash(step.Remove))); err != nil {
				return nil, fmt.Errorf("steps[%d] remove: %w", i, err)
			}
		case len(step.Invalidate) > 0:
			eng.Invalidate(step.Invalidate)
		}
	}

	for name, want := range s.Runs {
		countMu.Lock()
		got := result.RuleRuns[name]
		countMu.Unlock()
		if got != want {
			result.failf("rule %s ran %d times, want %d", name, got, want)
		}
	}
	return result, nil
}

func runRequest(ctx context.Context, eng *engine.Engine, step int, r *RequestStep, result *Result) {
	param, err := buildParam(r)
	if err != nil {
		result.failf("steps[%d]: %v", step, err)
		return
	}
	outcomes := eng.Execute(ctx, []graph.Request{
		{Output: types.ID(r.Output), Params: []types.Param{param}},
	})
	out := outcomes[0]

	switch {
	case r.Expect == nil || r.Expect.Error == "":
		if out.Err != nil {
			result.failf("steps[%d]: request %s failed: %v", step, r.Output, out.Err)
			return
		}
		if r.Expect != nil && r.Expect.Value != "" {
			got := fmt.Sprintf("%v", out.Value)
			if got != r.Expect.Value {
				result.failf("steps[%d]: request %s = %q, want %q", step, r.Output, got, r.Expect.Value)
			}
		}
	default:
		if out.Err == nil {
			result.failf("steps[%d]: request %s succeeded, want error containing %q", step, r.Output, r.Expect.Error)
			return
		}
		if !strings.Contains(out.Err.Error(), r.Expect.Error) {
			result.failf("steps[%d]: request %s error %q does not contain %q", step, r.Output, out.Err, r.Expect.Error)
		}
	}
}

func buildParam(r *RequestStep) (types.Param, error) {
	switch {
	case r.Path != "":
		return fsys.Path(r.Path), nil
	case r.Dir != "":
		return fsys.Dir(r.Dir), nil
	case len(r.Globs) > 0:
		g := fsys.Globs{}
		for _, pat := range r.Globs {
			if strings.HasPrefix(pat, "!") {
				g.Exclude = append(g.Exclude, pat[1:])
			} else {
				g.Include = append(g.Include, pat)
			}
		}
		return g, nil
	case len(r.Argv) > 0:
		return process.Request{Argv: r.Argv}, nil
	default:
		return nil, fmt.Errorf("request has no param")
	}
}

// countingRule wraps a rule so every actual execution is counted.
func countingRule(r *rules.Rule, count func(name string)) *rules.Rule {
	inner := r.Run
	wrapped := *r
	wrapped.Run = func(t rules.Task) (types.Value, error) {
		count(r.Name)
		return inner(t)
	}
	return &wrapped
}
