package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/snuderl/pants/internal/fsys"
	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/rulegraph"
	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/types"
)

// evaluation is the per-goroutine view of one computation in flight: the
// session that pays for it and the chain of claimed node keys transitively
// blocked on this goroutine. The chain is what makes same-request cycles
// detectable without a global stop-the-world.
type evaluation struct {
	session *Session
	// ctx bounds this evaluation's waits. Top-level requests wait under the
	// session context; node computations wait under the graph lifetime
	// context, so a cancelled session abandons its own waits without
	// aborting computations other sessions may be sharing.
	ctx   context.Context
	chain []NodeKey
}

func (ev *evaluation) owner() (NodeKey, bool) {
	if len(ev.chain) == 0 {
		return NodeKey{}, false
	}
	return ev.chain[len(ev.chain)-1], true
}

// request resolves one compiled entry against a scope. Param entries are
// answered directly from the scope; rule entries go through the node table.
// A non-nil dependent is registered on the node before awaiting: an
// invalidation landing between the dep settling and the caller recording the
// edge must still dirty the dependent. The returned node is nil for param
// entries, which never record dep edges.
func (g *Graph) request(ev *evaluation, entry *rulegraph.Entry, scope types.ParamSet, dependent *NodeKey) (snapshot, *node, error) {
	if entry.Kind == rulegraph.EntryParam {
		p, ok := scope.Get(entry.Param)
		if !ok {
			return snapshot{}, nil, fmt.Errorf("param %q missing from scope %s", entry.Param, scope)
		}
		d, err := p.Fingerprint()
		if err != nil {
			return snapshot{}, nil, fmt.Errorf("fingerprint param %q: %w", entry.Param, err)
		}
		return snapshot{value: p, digest: d}, nil, nil
	}

	nodeScope, err := scope.Select(entry.Need)
	if err != nil {
		return snapshot{}, nil, err
	}
	fp, err := nodeScope.Fingerprint()
	if err != nil {
		return snapshot{}, nil, err
	}
	key := NodeKey{Rule: entry.Rule.Name, Params: fp}
	n := g.node(key, entry, nodeScope)
	if dependent != nil {
		n.addDependent(*dependent)
	}
	snap, err := g.await(ev, n)
	if err != nil {
		return snapshot{}, nil, err
	}
	return snap, n, nil
}

// await blocks until n is settled and clean, claiming the computation when
// the node is unowned. At most one evaluation owns a node at a time;
// everyone else parks on the settled channel. The claimed computation runs
// detached from the session, so a cancelled waiter abandons only its wait.
func (g *Graph) await(ev *evaluation, n *node) (snapshot, error) {
	for _, k := range ev.chain {
		if k == n.key {
			return snapshot{}, &CycleError{Chain: appendKey(ev.chain, n.key)}
		}
	}

	claimed := false
	for {
		n.mu.Lock()
		switch {
		case n.state == Completed || n.state == Failed:
			if n.dirty {
				// Claim for re-validation, keeping the previous result for
				// equality comparison.
				prev := &prior{
					snap:    snapshot{value: n.value, digest: n.digest, err: n.err, changed: n.lastChanged},
					deps:    append([]depRecord(nil), n.deps...),
					tracked: n.tracked,
				}
				n.state = Running
				n.dirty = false
				n.settled = make(chan struct{})
				n.mu.Unlock()
				g.metrics.IncDirtyRevalidations()
				claimed = true
				go g.run(ev, n, prev)
				continue
			}
			snap := snapshot{value: n.value, digest: n.digest, err: n.err, changed: n.lastChanged}
			n.mu.Unlock()
			if !claimed {
				g.metrics.IncMemoHits()
			}
			return snap, nil

		case n.state == NotStarted:
			n.state = Running
			n.dirty = false
			n.settled = make(chan struct{})
			n.mu.Unlock()
			claimed = true
			go g.run(ev, n, nil)
			continue

		default: // Running
			ch := n.settled
			n.mu.Unlock()

			owner, owned := ev.owner()
			if owned {
				if g.addWait(ev.chain, owner, n.key) {
					return snapshot{}, &CycleError{Chain: appendKey(ev.chain, n.key)}
				}
			}

			select {
			case <-ch:
				if owned {
					g.removeWait(owner, n.key)
				}
				continue
			case <-ev.ctx.Done():
				if owned {
					g.removeWait(owner, n.key)
				}
				return snapshot{}, &CancelledError{Session: ev.session.id, Err: ev.ctx.Err()}
			case <-g.baseCtx.Done():
				if owned {
					g.removeWait(owner, n.key)
				}
				return snapshot{}, &CancelledError{Session: ev.session.id, Err: g.baseCtx.Err()}
			}
		}
	}
}

// prior is the retained result of a dirty node's last computation, carried
// through re-validation for equality comparison.
type prior struct {
	snap    snapshot
	deps    []depRecord
	tracked bool
}

// run computes n to a settled state. The caller has already transitioned the
// node to Running; run always settles it, even on rule panic, so waiters are
// never stranded. prev is the retained previous result when re-validating a
// dirty node, nil on first computation.
func (g *Graph) run(ev *evaluation, n *node, prev *prior) {
	chain := appendKey(ev.chain, n.key)
	child := &evaluation{session: ev.session, ctx: g.baseCtx, chain: chain}

	wu := g.workunits.Start(g.baseCtx, n.entry.Rule.Name, "node", n.key.String())

	// A previously failed node always recomputes once invalidated, as does a
	// node whose inputs come from the filesystem rather than from recorded
	// dep edges. Only a clean, fully graph-derived success is a candidate
	// for short-circuiting.
	if prev != nil && prev.snap.err == nil && !prev.tracked && g.depsUnchanged(child, prev.deps) {
		g.settle(n, func() { n.state = Completed })
		g.metrics.IncCleanShortCircuits()
		wu.Complete(g.baseCtx, nil)
		return
	}

	g.metrics.IncNodeExecutions()
	value, err := g.executeRule(child, n)

	var digest hashing.Digest
	if err == nil {
		digest, err = value.Fingerprint()
		if err != nil {
			err = fmt.Errorf("fingerprint output of %s: %w", n.entry.Rule.Name, err)
		}
	}

	var settledErr error
	g.settle(n, func() {
		if err != nil {
			n.state = Failed
			n.value = nil
			n.digest = hashing.Digest{}
			n.err = &ComputationError{Key: n.key, Err: err}
			// Failures always advance the generation: dependents must re-run.
			n.lastChanged = g.nextGen()
			g.metrics.IncNodeFailures()
		} else {
			changed := prev == nil || prev.snap.err != nil || digest != prev.snap.digest
			n.state = Completed
			n.value = value
			n.digest = digest
			n.err = nil
			if changed {
				n.lastChanged = g.nextGen()
			}
		}
		settledErr = n.err
	})
	wu.Complete(g.baseCtx, settledErr)
}

// settle applies the final state mutation under the node lock and wakes all
// waiters. The dirty flag is deliberately left alone: an invalidation that
// arrived mid-run must survive the settle.
func (g *Graph) settle(n *node, mutate func()) {
	n.mu.Lock()
	mutate()
	ch := n.settled
	n.settled = nil
	n.mu.Unlock()
	close(ch)
}

// depsUnchanged re-validates the recorded dependency edges of a dirty node:
// each dependency is brought to a settled clean state and its generation
// compared against the one recorded when the value was produced. True means
// every input is provably identical and the retained value stands.
func (g *Graph) depsUnchanged(ev *evaluation, prevDeps []depRecord) bool {
	for _, rec := range prevDeps {
		dep, ok := g.lookupNode(rec.key)
		if !ok {
			return false
		}
		snap, err := g.await(ev, dep)
		if err != nil || snap.err != nil {
			return false
		}
		if snap.changed != rec.changed {
			return false
		}
	}
	return true
}

// executeRule runs the rule body under the session's concurrency budget,
// converting panics into ordinary failures so the node still settles. The
// edges the computation observed are committed regardless of outcome: a
// failed node's filesystem watches are what allow it to be invalidated and
// retried.
func (g *Graph) executeRule(ev *evaluation, n *node) (value types.Value, err error) {
	if acqErr := ev.session.acquireSlot(); acqErr != nil {
		return nil, acqErr
	}
	defer ev.session.releaseSlot()

	t := &task{graph: g, ev: ev, node: n}
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("rule %s panicked: %v", n.entry.Rule.Name, r)
		}
		t.commit()
	}()

	value, err = n.entry.Rule.Run(t)
	if err == nil && value == nil {
		err = fmt.Errorf("rule %s returned nil value", n.entry.Rule.Name)
	}
	if err == nil && value.TypeID() != n.entry.Rule.Output {
		err = fmt.Errorf("rule %s returned %q, declared output is %q",
			n.entry.Rule.Name, value.TypeID(), n.entry.Rule.Output)
	}
	return value, err
}

// task implements rules.Task for one node computation.
type task struct {
	graph *Graph
	ev    *evaluation
	node  *node

	mu    sync.Mutex
	deps  []depRecord
	files []string
	dirs  []string
	globs []fsys.Globs
}

func (t *task) Context() context.Context {
	return t.graph.baseCtx
}

func (t *task) Param(id types.ID) (types.Param, bool) {
	return t.node.scope.Get(id)
}

// Get suspends the rule while the dependency settles. The session slot is
// released for the duration so a deep chain never starves itself of budget.
func (t *task) Get(output types.ID, extra ...types.Param) (types.Value, error) {
	t.ev.session.releaseSlot()
	defer func() {
		// Re-acquisition uses the graph lifetime context and only fails on
		// shutdown, when the rule is about to be abandoned anyway.
		_ = t.ev.session.acquireSlot()
	}()
	return t.resolve(rules.GetRequest{Output: output, Extra: extra})
}

// GetAll fans the requests out concurrently and returns values in request
// order. The first error wins; sibling computations still settle in the
// graph for future requests.
func (t *task) GetAll(reqs ...rules.GetRequest) ([]types.Value, error) {
	t.ev.session.releaseSlot()
	defer func() {
		_ = t.ev.session.acquireSlot()
	}()

	values := make([]types.Value, len(reqs))
	var eg errgroup.Group
	for i, req := range reqs {
		eg.Go(func() error {
			v, err := t.resolve(req)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// resolve services one Get against the compiled entry's children. Param
// children are answered from scope without touching the node table; rule
// children become real dependency edges with recorded generations.
func (t *task) resolve(req rules.GetRequest) (types.Value, error) {
	extraIDs := make([]types.ID, len(req.Extra))
	for i, p := range req.Extra {
		extraIDs[i] = p.TypeID()
	}
	child, ok := t.node.entry.ChildForGet(req.Output, extraIDs)
	if !ok {
		return nil, fmt.Errorf("rule %s issued undeclared get %s%s",
			t.node.entry.Rule.Name, req.Output, idList(extraIDs))
	}

	scope := t.node.scope.With(req.Extra...)
	snap, depNode, err := t.graph.request(t.ev, child, scope, &t.node.key)
	if err != nil {
		return nil, err
	}
	if depNode != nil {
		t.mu.Lock()
		t.deps = append(t.deps, depRecord{key: depNode.key, changed: snap.changed})
		t.mu.Unlock()
	}
	if snap.err != nil {
		return nil, snap.err
	}
	return snap.value, nil
}

func (t *task) TrackFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, path)
}

func (t *task) TrackDir(dir string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirs = append(t.dirs, dir)
}

// TrackGlobs accepts include patterns; a leading "!" marks an exclude.
func (t *task) TrackGlobs(globs []string) {
	g := fsys.Globs{}
	for _, pat := range globs {
		if strings.HasPrefix(pat, "!") {
			g.Exclude = append(g.Exclude, pat[1:])
		} else {
			g.Include = append(g.Include, pat)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.globs = append(t.globs, g)
}

// commit publishes the computation's observed edges: dep records onto the
// node and filesystem reads into the watch index, replacing whatever the
// previous run registered.
func (t *task) commit() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.node.mu.Lock()
	t.node.deps = append([]depRecord(nil), t.deps...)
	t.node.tracked = len(t.files)+len(t.dirs)+len(t.globs) > 0
	t.node.mu.Unlock()

	idx := t.graph.index
	idx.Drop(t.node.key)
	for _, p := range t.files {
		idx.WatchFile(p, t.node.key)
	}
	for _, d := range t.dirs {
		idx.WatchDir(d, t.node.key)
	}
	for _, g := range t.globs {
		idx.WatchGlobs(g, t.node.key)
	}
}

func appendKey(chain []NodeKey, key NodeKey) []NodeKey {
	out := make([]NodeKey, len(chain), len(chain)+1)
	copy(out, chain)
	return append(out, key)
}

func idList(ids []types.ID) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
