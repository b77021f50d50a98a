// Package graph is the execution graph: the dynamic, per-process table of
// memoized computation nodes and the scheduler that drives their concurrent
// evaluation. Each node is identified by (rule, params), computed at most
// once per generation, re-validated lazily after invalidation, and shared
// by every session in the process.
package graph

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/invalidation"
	"github.com/snuderl/pants/internal/metrics"
	"github.com/snuderl/pants/internal/rulegraph"
	"github.com/snuderl/pants/internal/types"
	"github.com/snuderl/pants/internal/workunit"
)

// DefaultParallelism is the per-session concurrency budget used when the
// caller does not specify one.
const DefaultParallelism = 8

// Options configures a Graph.
type Options struct {
	// Rules is the compiled rule graph. Required.
	Rules *rulegraph.RuleGraph

	// Parallelism is the default per-session concurrency budget.
	Parallelism int

	// Logger receives engine diagnostics. Nil discards them.
	Logger *slog.Logger

	// Metrics receives engine counters. Nil disables metrics.
	Metrics *metrics.Metrics

	// Workunits receives per-node execution spans. Nil disables tracking.
	Workunits *workunit.Tracker
}

// Graph owns the node table. The table is the single shared mutable
// structure; each node's state is guarded by its own lock so unrelated
// subgraphs stay independently concurrent.
type Graph struct {
	rules              *rulegraph.RuleGraph
	index              *invalidation.Index[NodeKey]
	logger             *slog.Logger
	metrics            *metrics.Metrics
	workunits          *workunit.Tracker
	defaultParallelism int

	baseCtx    context.Context
	cancelBase context.CancelFunc

	gen atomic.Uint64

	mu    sync.Mutex
	nodes map[NodeKey]*node

	// waits tracks, per claimed node, the node keys its evaluation is
	// currently blocked on. Used to detect cross-evaluation deadlock
	// cycles before blocking.
	waitMu sync.Mutex
	waits  map[NodeKey]map[NodeKey]struct{}
}

// New creates an empty graph.
func New(opts Options) *Graph {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Graph{
		rules:              opts.Rules,
		index:              invalidation.NewIndex[NodeKey](),
		logger:             logger,
		metrics:            opts.Metrics,
		workunits:          opts.Workunits,
		defaultParallelism: parallelism,
		baseCtx:            baseCtx,
		cancelBase:         cancel,
		nodes:              make(map[NodeKey]*node),
		waits:              make(map[NodeKey]map[NodeKey]struct{}),
	}
}

// Close shuts the graph down, aborting in-flight computations.
func (g *Graph) Close() {
	g.cancelBase()
}

// Index exposes the watch index to the invalidation feed.
func (g *Graph) Index() *invalidation.Index[NodeKey] {
	return g.index
}

// Request asks for one value: an output type plus the params that seed it.
type Request struct {
	Output types.ID
	Params []types.Param
}

// Outcome is the per-request result: a value plus its digest, or an error.
// Requests in a batch fail independently.
type Outcome struct {
	Value  types.Value
	Digest hashing.Digest
	Err    error
}

// Execute evaluates a batch of requests under the session's budget and
// returns one outcome per request, in order. A failing request never aborts
// its siblings unless they share the failing node as a dependency.
func (g *Graph) Execute(s *Session, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	var eg errgroup.Group
	for i, req := range reqs {
		eg.Go(func() error {
			outcomes[i] = g.executeOne(s, req)
			return nil
		})
	}
	// Outcomes carry their own errors.
	_ = eg.Wait()
	return outcomes
}

func (g *Graph) executeOne(s *Session, req Request) Outcome {
	paramIDs := make([]types.ID, len(req.Params))
	for i, p := range req.Params {
		paramIDs[i] = p.TypeID()
	}
	scope, err := types.NewParamSet(req.Params...)
	if err != nil {
		return Outcome{Err: err}
	}
	entry, ok := g.rules.Lookup(req.Output, paramIDs)
	if !ok {
		return Outcome{Err: &UnknownRequestError{Output: string(req.Output), Params: scope.String()}}
	}
	ev := &evaluation{session: s, ctx: s.ctx}
	snap, _, err := g.request(ev, entry, scope, nil)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Value: snap.value, Digest: snap.digest, Err: snap.err}
}

// node returns the node for key, creating it lazily on first request.
func (g *Graph) node(key NodeKey, entry *rulegraph.Entry, scope types.ParamSet) *node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[key]; ok {
		return n
	}
	n := newNode(key, entry, scope)
	g.nodes[key] = n
	return n
}

func (g *Graph) lookupNode(key NodeKey) (*node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[key]
	return n, ok
}

// NodeCount returns the number of nodes in the table.
func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// nextGen advances the process-wide generation counter.
func (g *Graph) nextGen() Generation {
	return Generation(g.gen.Add(1))
}

// Invalidate marks the leaf nodes watching the changed paths dirty, then
// walks recorded dependents marking the dirty flag. Values are retained for
// equality-based short-circuiting; nothing is recomputed until requested.
// Returns the number of nodes newly marked dirty.
func (g *Graph) Invalidate(paths []string) int {
	keys := g.index.Match(paths)
	marked := g.markDirty(keys)
	if marked > 0 {
		g.logger.Debug("invalidated nodes", "paths", len(paths), "marked", marked)
	}
	g.metrics.AddInvalidatedNodes(marked)
	return marked
}

// markDirty flags the given nodes and their transitive dependents dirty.
// Locks are taken one node at a time; the walk never holds two at once.
func (g *Graph) markDirty(keys []NodeKey) int {
	marked := 0
	queue := append([]NodeKey(nil), keys...)
	seen := make(map[NodeKey]struct{}, len(keys))
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		n, ok := g.lookupNode(key)
		if !ok {
			continue
		}
		n.mu.Lock()
		already := n.dirty
		n.dirty = true
		var dependents []NodeKey
		if !already {
			for dep := range n.dependents {
				dependents = append(dependents, dep)
			}
		}
		n.mu.Unlock()

		if !already {
			marked++
			queue = append(queue, dependents...)
		}
	}
	return marked
}

// Reset clears the whole node table and watch index. Used on configuration
// changes that invalidate everything; the generation counter keeps
// advancing so no caller ever observes it move backwards.
func (g *Graph) Reset() {
	g.mu.Lock()
	g.nodes = make(map[NodeKey]*node)
	g.mu.Unlock()
	g.index.Reset()
	g.logger.Info("graph reset: node table cleared")
}

// addWait registers that the evaluation owning `claimed` is about to block
// on `target`, and reports whether doing so would deadlock: true when a
// path of wait edges leads from target back into the evaluation's own
// claimed chain.
func (g *Graph) addWait(chain []NodeKey, claimed, target NodeKey) bool {
	g.waitMu.Lock()
	defer g.waitMu.Unlock()

	inChain := make(map[NodeKey]struct{}, len(chain))
	for _, k := range chain {
		inChain[k] = struct{}{}
	}

	// DFS over wait edges from the target: each claimed node's evaluation
	// may itself be blocked on further nodes.
	stack := []NodeKey{target}
	visited := make(map[NodeKey]struct{})
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := visited[k]; dup {
			continue
		}
		visited[k] = struct{}{}
		if _, cyclic := inChain[k]; cyclic {
			return true
		}
		for next := range g.waits[k] {
			stack = append(stack, next)
		}
	}

	set, ok := g.waits[claimed]
	if !ok {
		set = make(map[NodeKey]struct{})
		g.waits[claimed] = set
	}
	set[target] = struct{}{}
	return false
}

func (g *Graph) removeWait(claimed, target NodeKey) {
	g.waitMu.Lock()
	defer g.waitMu.Unlock()
	if set, ok := g.waits[claimed]; ok {
		delete(set, target)
		if len(set) == 0 {
			delete(g.waits, claimed)
		}
	}
}
