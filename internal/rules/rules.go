// Package rules defines rule descriptors and the registry they are collected
// in. A rule is a pure computation over typed inputs: it declares the param
// types it consumes, the output type it produces, and the set of Gets it may
// issue at runtime. Rules are immutable after registration; the rule graph
// compiler turns the registered set into an executable plan.
package rules

import (
	"context"

	"github.com/snuderl/pants/internal/types"
)

// GetDecl declares a dependency request a rule may issue while running: an
// output type, optionally parameterized by extra params the rule supplies at
// the call site. Undeclared Gets are rejected at runtime.
type GetDecl struct {
	Output types.ID
	Extra  []types.ID
}

// GetRequest is a concrete Get issued during execution.
type GetRequest struct {
	Output types.ID
	Extra  []types.Param
}

// Task is the capability surface handed to a running rule. It resolves Gets
// through the scheduler, exposes the rule's own params, and records the
// filesystem reads that tie the resulting node to the invalidation index.
type Task interface {
	// Context returns the execution context. It is scoped to the engine, not
	// to any single session: a rule computation outlives the session that
	// started it if other sessions are waiting on the same node.
	Context() context.Context

	// Get requests the output of another rule, blocking until it settles.
	// The request must match one of the rule's declared Gets.
	Get(output types.ID, extra ...types.Param) (types.Value, error)

	// GetAll evaluates several Gets concurrently and returns their values in
	// request order. It fails with the first error encountered; sibling
	// requests still settle in the graph.
	GetAll(reqs ...GetRequest) ([]types.Value, error)

	// Param returns the rule's own param of the given type.
	Param(id types.ID) (types.Param, bool)

	// TrackFile, TrackDir, and TrackGlobs record filesystem reads performed
	// by this computation. On settle the scheduler registers them in the
	// watch index so path changes dirty this node. Only leaf rules that
	// touch the filesystem call these.
	TrackFile(path string)
	TrackDir(dir string)
	TrackGlobs(globs []string)
}

// RunFunc is the body of a rule. It must be deterministic over its params
// and Get results; its value is memoized by digest.
type RunFunc func(t Task) (types.Value, error)

// Rule describes one registered rule.
type Rule struct {
	// Name uniquely identifies the rule in errors and graph renderings,
	// e.g. "fs.read_file" or "lint.report".
	Name string

	// Params are the input types the rule consumes, in declaration order.
	Params []types.ID

	// Output is the type the rule produces.
	Output types.ID

	// Gets are the dependency shapes the rule may request at runtime.
	Gets []GetDecl

	// Run executes the rule.
	Run RunFunc
}

// DeclaresGet reports whether a concrete request matches one of the rule's
// declared Get shapes.
func (r *Rule) DeclaresGet(output types.ID, extra []types.Param) bool {
	got := make([]types.ID, len(extra))
	for i, p := range extra {
		got[i] = p.TypeID()
	}
	key := types.IDSetKey(got)
	for _, g := range r.Gets {
		if g.Output == output && types.IDSetKey(g.Extra) == key {
			return true
		}
	}
	return false
}
