package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/rulegraph"
	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/types"
)

type testVal struct {
	id  types.ID
	str string
}

func (v testVal) TypeID() types.ID { return v.id }

func (v testVal) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type": string(v.id),
		"val":  v.str,
	})
}

func pathParam(p string) testVal { return testVal{id: "Path", str: p} }

// memFS is an in-memory stand-in for the workspace: leaf rules read from it
// and the test mutates it between invalidations.
type memFS struct {
	mu    sync.Mutex
	files map[string]string
}

func newMemFS(files map[string]string) *memFS {
	return &memFS{files: files}
}

func (f *memFS) read(p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[p]
	if !ok {
		return "", fmt.Errorf("no such file: %s", p)
	}
	return content, nil
}

func (f *memFS) write(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = content
}

// fixture wires a two-level rule set over a memFS: read_file is the tracked
// leaf, count_lines depends on it through a Get.
type fixture struct {
	fs        *memFS
	graph     *Graph
	readRuns  atomic.Int64
	countRuns atomic.Int64
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	fx := &fixture{fs: newMemFS(files)}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "read_file",
		Params: []types.ID{"Path"},
		Output: "FileContent",
		Run: func(task rules.Task) (types.Value, error) {
			fx.readRuns.Add(1)
			p, _ := task.Param("Path")
			path := p.(testVal).str
			task.TrackFile(path)
			content, err := fx.fs.read(path)
			if err != nil {
				return nil, err
			}
			return testVal{id: "FileContent", str: content}, nil
		},
	}))
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "count_lines",
		Params: []types.ID{"Path"},
		Output: "LineCount",
		Gets:   []rules.GetDecl{{Output: "FileContent"}},
		Run: func(task rules.Task) (types.Value, error) {
			fx.countRuns.Add(1)
			v, err := task.Get("FileContent")
			if err != nil {
				return nil, err
			}
			n := strings.Count(v.(testVal).str, "\n")
			return testVal{id: "LineCount", str: fmt.Sprint(n)}, nil
		},
	}))

	rg, err := rulegraph.Compile(reg, []rulegraph.Query{
		{Output: "FileContent", Params: []types.ID{"Path"}},
		{Output: "LineCount", Params: []types.ID{"Path"}},
	})
	require.NoError(t, err)

	fx.graph = New(Options{Rules: rg})
	t.Cleanup(fx.graph.Close)
	return fx
}

func (fx *fixture) execute(t *testing.T, output types.ID, path string) Outcome {
	t.Helper()
	s := fx.graph.NewSession(context.Background(), 0)
	defer s.Close()
	outcomes := fx.graph.Execute(s, []Request{{Output: output, Params: []types.Param{pathParam(path)}}})
	require.Len(t, outcomes, 1)
	return outcomes[0]
}

func TestExecute_MemoizesUnderConcurrency(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\ny\n"})
	s := fx.graph.NewSession(context.Background(), 0)
	defer s.Close()

	reqs := make([]Request, 100)
	for i := range reqs {
		reqs[i] = Request{Output: "FileContent", Params: []types.Param{pathParam("a.txt")}}
	}
	outcomes := fx.graph.Execute(s, reqs)

	require.Len(t, outcomes, 100)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, outcomes[0].Digest, o.Digest)
	}
	assert.Equal(t, int64(1), fx.readRuns.Load(), "equal requests must converge on one computation")
	assert.Equal(t, 1, fx.graph.NodeCount())
}

func TestExecute_MemoizesAcrossSessions(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\n"})

	first := fx.execute(t, "FileContent", "a.txt")
	require.NoError(t, first.Err)
	second := fx.execute(t, "FileContent", "a.txt")
	require.NoError(t, second.Err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, int64(1), fx.readRuns.Load())
}

func TestExecute_UnknownRequestShape(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	s := fx.graph.NewSession(context.Background(), 0)
	defer s.Close()

	outcomes := fx.graph.Execute(s, []Request{
		{Output: "LineCount", Params: []types.Param{testVal{id: "Unrelated", str: "?"}}},
	})
	require.Error(t, outcomes[0].Err)
	var ure *UnknownRequestError
	assert.ErrorAs(t, outcomes[0].Err, &ure)
}

func TestExecute_BatchFailuresAreIndependent(t *testing.T) {
	fx := newFixture(t, map[string]string{"good.txt": "x\n"})
	s := fx.graph.NewSession(context.Background(), 0)
	defer s.Close()

	outcomes := fx.graph.Execute(s, []Request{
		{Output: "FileContent", Params: []types.Param{pathParam("good.txt")}},
		{Output: "FileContent", Params: []types.Param{pathParam("missing.txt")}},
	})

	require.NoError(t, outcomes[0].Err)
	require.Error(t, outcomes[1].Err)
	assert.True(t, IsComputation(outcomes[1].Err))
	assert.ErrorContains(t, outcomes[1].Err, "missing.txt")
}

func TestInvalidate_ChangedContentPropagates(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\ny\n"})

	out := fx.execute(t, "LineCount", "a.txt")
	require.NoError(t, out.Err)
	assert.Equal(t, "2", out.Value.(testVal).str)

	fx.fs.write("a.txt", "z\n")
	marked := fx.graph.Invalidate([]string{"a.txt"})
	assert.Equal(t, 2, marked, "leaf and its dependent must both be marked")

	out = fx.execute(t, "LineCount", "a.txt")
	require.NoError(t, out.Err)
	assert.Equal(t, "1", out.Value.(testVal).str)
	assert.Equal(t, int64(2), fx.readRuns.Load())
	assert.Equal(t, int64(2), fx.countRuns.Load())
}

func TestInvalidate_EqualValueShortCircuitsDependents(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\ny\n"})

	out := fx.execute(t, "LineCount", "a.txt")
	require.NoError(t, out.Err)
	genBefore := fx.graph.gen.Load()

	// Touch the file without changing its content: the leaf recomputes, its
	// digest is unchanged, and the dependent is restored without running.
	fx.fs.write("a.txt", "x\ny\n")
	fx.graph.Invalidate([]string{"a.txt"})

	out2 := fx.execute(t, "LineCount", "a.txt")
	require.NoError(t, out2.Err)
	assert.Equal(t, out.Digest, out2.Digest)
	assert.Equal(t, int64(2), fx.readRuns.Load(), "leaf recomputes")
	assert.Equal(t, int64(1), fx.countRuns.Load(), "dependent short-circuits")
	assert.Equal(t, genBefore, fx.graph.gen.Load(), "generation only advances on changed values")
}

func TestInvalidate_IsPreciseAcrossSubgraphs(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\n", "b.txt": "y\n"})

	require.NoError(t, fx.execute(t, "LineCount", "a.txt").Err)
	require.NoError(t, fx.execute(t, "LineCount", "b.txt").Err)
	require.Equal(t, int64(2), fx.readRuns.Load())

	fx.fs.write("b.txt", "y\nz\n")
	fx.graph.Invalidate([]string{"b.txt"})

	require.NoError(t, fx.execute(t, "LineCount", "a.txt").Err)
	out := fx.execute(t, "LineCount", "b.txt")
	require.NoError(t, out.Err)

	assert.Equal(t, "2", out.Value.(testVal).str)
	assert.Equal(t, int64(3), fx.readRuns.Load(), "only b's leaf re-runs")
}

func TestInvalidate_UnwatchedPathIsNoOp(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\n"})
	require.NoError(t, fx.execute(t, "FileContent", "a.txt").Err)

	assert.Equal(t, 0, fx.graph.Invalidate([]string{"elsewhere.txt"}))
	require.NoError(t, fx.execute(t, "FileContent", "a.txt").Err)
	assert.Equal(t, int64(1), fx.readRuns.Load())
}

func TestExecute_FailureCachedUntilInvalidated(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\n"})

	out := fx.execute(t, "FileContent", "missing.txt")
	require.Error(t, out.Err)
	out = fx.execute(t, "FileContent", "missing.txt")
	require.Error(t, out.Err)
	assert.Equal(t, int64(1), fx.readRuns.Load(), "failure is memoized")

	// The failed read still registered its watch, so creating the file and
	// invalidating the path retries it.
	fx.fs.write("missing.txt", "now present\n")
	marked := fx.graph.Invalidate([]string{"missing.txt"})
	assert.Equal(t, 1, marked)

	out = fx.execute(t, "FileContent", "missing.txt")
	require.NoError(t, out.Err)
	assert.Equal(t, "now present\n", out.Value.(testVal).str)
}

func TestReset_ClearsAllMemoization(t *testing.T) {
	fx := newFixture(t, map[string]string{"a.txt": "x\n"})
	require.NoError(t, fx.execute(t, "LineCount", "a.txt").Err)
	require.Equal(t, 2, fx.graph.NodeCount())

	fx.graph.Reset()
	assert.Equal(t, 0, fx.graph.NodeCount())

	require.NoError(t, fx.execute(t, "LineCount", "a.txt").Err)
	assert.Equal(t, int64(2), fx.readRuns.Load())
	assert.Equal(t, int64(2), fx.countRuns.Load())
}

func TestSession_CancellationAbandonsOnlyOwnWait(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	reg := rules.NewRegistry()
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "slow",
		Params: []types.ID{"Path"},
		Output: "Slow",
		Run: func(task rules.Task) (types.Value, error) {
			close(started)
			<-release
			return testVal{id: "Slow", str: "done"}, nil
		},
	}))
	rg, err := rulegraph.Compile(reg, []rulegraph.Query{{Output: "Slow", Params: []types.ID{"Path"}}})
	require.NoError(t, err)
	g := New(Options{Rules: rg})
	defer g.Close()

	req := []Request{{Output: "Slow", Params: []types.Param{pathParam("p")}}}

	first := g.NewSession(context.Background(), 0)
	defer first.Close()
	firstDone := make(chan []Outcome, 1)
	go func() { firstDone <- g.Execute(first, req) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("rule never started")
	}

	second := g.NewSession(context.Background(), 0)
	secondDone := make(chan []Outcome, 1)
	go func() { secondDone <- g.Execute(second, req) }()
	second.Close()

	select {
	case outcomes := <-secondDone:
		require.Error(t, outcomes[0].Err)
		assert.True(t, IsCancelled(outcomes[0].Err))
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled session did not abandon its wait")
	}

	// The computation was unaffected; the first session still gets a value.
	close(release)
	select {
	case outcomes := <-firstDone:
		require.NoError(t, outcomes[0].Err)
		assert.Equal(t, "done", outcomes[0].Value.(testVal).str)
	case <-time.After(5 * time.Second):
		t.Fatal("first session never completed")
	}
}

func TestGet_RegistersDependentEdgeBeforeAwait(t *testing.T) {
	// The reverse edge must exist for the whole time the parent is parked on
	// its dependency. If it were added only after the await returns, an
	// invalidation landing between the leaf settling and the parent recording
	// the edge would dirty the leaf alone, and the parent would settle clean
	// over a stale input.
	started := make(chan struct{})
	release := make(chan struct{})

	reg := rules.NewRegistry()
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "leaf",
		Params: []types.ID{"Path"},
		Output: "Leaf",
		Run: func(task rules.Task) (types.Value, error) {
			task.TrackFile("f")
			close(started)
			<-release
			return testVal{id: "Leaf", str: "v"}, nil
		},
	}))
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "wrap",
		Params: []types.ID{"Path"},
		Output: "Wrapped",
		Gets:   []rules.GetDecl{{Output: "Leaf"}},
		Run: func(task rules.Task) (types.Value, error) {
			v, err := task.Get("Leaf")
			if err != nil {
				return nil, err
			}
			return testVal{id: "Wrapped", str: v.(testVal).str}, nil
		},
	}))
	rg, err := rulegraph.Compile(reg, []rulegraph.Query{{Output: "Wrapped", Params: []types.ID{"Path"}}})
	require.NoError(t, err)
	g := New(Options{Rules: rg})
	defer g.Close()

	s := g.NewSession(context.Background(), 0)
	defer s.Close()
	done := make(chan []Outcome, 1)
	go func() {
		done <- g.Execute(s, []Request{{Output: "Wrapped", Params: []types.Param{pathParam("p")}}})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("leaf never started")
	}

	g.mu.Lock()
	var leaf, wrap *node
	for k, n := range g.nodes {
		switch k.Rule {
		case "leaf":
			leaf = n
		case "wrap":
			wrap = n
		}
	}
	g.mu.Unlock()
	require.NotNil(t, leaf)
	require.NotNil(t, wrap)

	leaf.mu.Lock()
	_, linked := leaf.dependents[wrap.key]
	leaf.mu.Unlock()
	assert.True(t, linked, "reverse edge must be registered while the parent is still waiting")

	close(release)
	select {
	case outcomes := <-done:
		require.NoError(t, outcomes[0].Err)
		assert.Equal(t, "v", outcomes[0].Value.(testVal).str)
	case <-time.After(5 * time.Second):
		t.Fatal("request never completed")
	}
}

func TestGetAll_FansOutConcurrently(t *testing.T) {
	fx := newMemFS(map[string]string{"a.txt": "1\n", "b.txt": "2\n"})
	var inFlight, peak atomic.Int64

	reg := rules.NewRegistry()
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "read_file",
		Params: []types.ID{"Path"},
		Output: "FileContent",
		Run: func(task rules.Task) (types.Value, error) {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			p, _ := task.Param("Path")
			content, err := fx.read(p.(testVal).str)
			if err != nil {
				return nil, err
			}
			return testVal{id: "FileContent", str: content}, nil
		},
	}))
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "concat",
		Params: []types.ID{"PathPair"},
		Output: "Combined",
		Gets:   []rules.GetDecl{{Output: "FileContent", Extra: []types.ID{"Path"}}},
		Run: func(task rules.Task) (types.Value, error) {
			pair, _ := task.Param("PathPair")
			paths := strings.Split(pair.(testVal).str, ",")
			reqs := make([]rules.GetRequest, len(paths))
			for i, p := range paths {
				reqs[i] = rules.GetRequest{Output: "FileContent", Extra: []types.Param{pathParam(p)}}
			}
			vals, err := task.GetAll(reqs...)
			if err != nil {
				return nil, err
			}
			var sb strings.Builder
			for _, v := range vals {
				sb.WriteString(v.(testVal).str)
			}
			return testVal{id: "Combined", str: sb.String()}, nil
		},
	}))

	rg, err := rulegraph.Compile(reg, []rulegraph.Query{{Output: "Combined", Params: []types.ID{"PathPair"}}})
	require.NoError(t, err)
	g := New(Options{Rules: rg})
	defer g.Close()

	s := g.NewSession(context.Background(), 0)
	defer s.Close()
	outcomes := g.Execute(s, []Request{
		{Output: "Combined", Params: []types.Param{testVal{id: "PathPair", str: "a.txt,b.txt"}}},
	})
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "1\n2\n", outcomes[0].Value.(testVal).str)
	assert.Equal(t, int64(2), peak.Load(), "sibling gets must overlap")
}

func TestRulePanic_SettlesAsFailure(t *testing.T) {
	reg := rules.NewRegistry()
	require.NoError(t, reg.Register(&rules.Rule{
		Name:   "boom",
		Params: []types.ID{"Path"},
		Output: "Out",
		Run: func(task rules.Task) (types.Value, error) {
			panic("kaboom")
		},
	}))
	rg, err := rulegraph.Compile(reg, []rulegraph.Query{{Output: "Out", Params: []types.ID{"Path"}}})
	require.NoError(t, err)
	g := New(Options{Rules: rg})
	defer g.Close()

	s := g.NewSession(context.Background(), 0)
	defer s.Close()
	outcomes := g.Execute(s, []Request{{Output: "Out", Params: []types.Param{pathParam("p")}}})
	require.Error(t, outcomes[0].Err)
	assert.ErrorContains(t, outcomes[0].Err, "panicked")
}

func TestAwait_DetectsChainReentry(t *testing.T) {
	// The compiled entry graph is acyclic, so re-entry cannot arise through
	// the public API; the chain check is the safety net for the scheduler
	// itself, exercised here directly.
	key := NodeKey{Rule: "self", Params: hashing.Digest{1}}
	g := New(Options{})
	defer g.Close()
	n := newNode(key, nil, types.ParamSet{})

	s := g.NewSession(context.Background(), 0)
	defer s.Close()
	ev := &evaluation{session: s, ctx: s.ctx, chain: []NodeKey{key}}
	_, err := g.await(ev, n)
	require.Error(t, err)
	assert.True(t, IsCycle(err))
}

func TestAddWait_DetectsCrossEvaluationDeadlock(t *testing.T) {
	g := New(Options{})
	defer g.Close()

	a := NodeKey{Rule: "a", Params: hashing.Digest{1}}
	b := NodeKey{Rule: "b", Params: hashing.Digest{2}}
	c := NodeKey{Rule: "c", Params: hashing.Digest{3}}

	// a waits on b, b waits on c; c waiting on a closes the loop.
	require.False(t, g.addWait([]NodeKey{a}, a, b))
	require.False(t, g.addWait([]NodeKey{b}, b, c))
	assert.True(t, g.addWait([]NodeKey{c}, c, a))

	g.removeWait(a, b)
	assert.False(t, g.addWait([]NodeKey{c}, c, a))
}
