// Package engine assembles the full incremental build engine: intrinsic and
// caller-registered rules compiled into a rule graph, the memoizing
// execution graph, the content-addressed store, the local process executor,
// and the filesystem watcher feeding invalidation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snuderl/pants/internal/config"
	"github.com/snuderl/pants/internal/fsys"
	"github.com/snuderl/pants/internal/graph"
	"github.com/snuderl/pants/internal/invalidation"
	"github.com/snuderl/pants/internal/metrics"
	"github.com/snuderl/pants/internal/process"
	"github.com/snuderl/pants/internal/rulegraph"
	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/store"
	"github.com/snuderl/pants/internal/types"
	"github.com/snuderl/pants/internal/workunit"
)

// Options configures engine assembly.
type Options struct {
	// Config is the loaded engine configuration. Nil means defaults.
	Config *config.Config

	// Logger receives engine diagnostics. Nil discards them.
	Logger *slog.Logger

	// Rules are caller-registered domain rules, added on top of the
	// filesystem and process intrinsics.
	Rules []*rules.Rule

	// Queries declares the requestable roots for the caller's rules. The
	// intrinsic queries (file content, stat, dir listing, glob snapshot,
	// process execution) are always included.
	Queries []rulegraph.Query

	// Registerer receives the engine's Prometheus collectors. Nil disables
	// metrics.
	Registerer prometheus.Registerer

	// WrapRule, when set, is applied to every rule (intrinsics included)
	// before registration. Test harnesses use it to instrument executions.
	WrapRule func(*rules.Rule) *rules.Rule
}

// Engine is the assembled system. Create with New, release with Close.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *rules.Registry
	plan     *rulegraph.RuleGraph
	graph    *graph.Graph
	cas      *store.Store
	executor *process.Local

	mu      sync.Mutex
	watcher *invalidation.Watcher
}

// IntrinsicQueries returns the request shapes every engine serves regardless
// of caller-registered rules.
func IntrinsicQueries() []rulegraph.Query {
	return []rulegraph.Query{
		{Output: fsys.TypeFileContent, Params: []types.ID{fsys.TypePath}},
		{Output: fsys.TypeStat, Params: []types.ID{fsys.TypePath}},
		{Output: fsys.TypeDirEntries, Params: []types.ID{fsys.TypeDir}},
		{Output: fsys.TypeSnapshot, Params: []types.ID{fsys.TypeGlobs}},
		{Output: process.TypeResult, Params: []types.ID{process.TypeRequest}},
	}
}

// New builds an engine from configuration. Compile errors in the rule set
// are returned before anything executes.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	cas, err := store.Open(filepath.Join(cfg.CacheDir, "cas.db"))
	if err != nil {
		return nil, err
	}
	executor, err := process.NewLocal(cas, filepath.Join(cfg.CacheDir, "scratch"), logger)
	if err != nil {
		cas.Close()
		return nil, err
	}

	registry := rules.NewRegistry()
	all := append(fsys.Rules(cfg.Workspace), process.Rule(executor))
	all = append(all, opts.Rules...)
	for _, r := range all {
		if opts.WrapRule != nil {
			r = opts.WrapRule(r)
		}
		if err := registry.Register(r); err != nil {
			cas.Close()
			return nil, err
		}
	}

	plan, err := rulegraph.Compile(registry, append(IntrinsicQueries(), opts.Queries...))
	if err != nil {
		cas.Close()
		return nil, err
	}

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		plan:     plan,
		cas:      cas,
		executor: executor,
		graph: graph.New(graph.Options{
			Rules:       plan,
			Parallelism: cfg.Parallelism,
			Logger:      logger,
			Metrics:     m,
			Workunits:   workunit.NewTracker(logger),
		}),
	}, nil
}

// Close stops watching, aborts in-flight work, and closes the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.watcher != nil {
		e.watcher.Close()
		e.watcher = nil
	}
	e.mu.Unlock()
	e.graph.Close()
	return e.cas.Close()
}

// Plan returns the compiled rule graph, used by the CLI for rendering.
func (e *Engine) Plan() *rulegraph.RuleGraph {
	return e.plan
}

// Store returns the content-addressed store.
func (e *Engine) Store() *store.Store {
	return e.cas
}

// Graph returns the execution graph for callers managing their own sessions.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Execute runs a batch of requests in a fresh session and returns per-request
// outcomes in order.
func (e *Engine) Execute(ctx context.Context, reqs []graph.Request) []graph.Outcome {
	s := e.graph.NewSession(ctx, 0)
	defer s.Close()
	return e.graph.Execute(s, reqs)
}

// ExecuteTarget runs a declared process target by name.
func (e *Engine) ExecuteTarget(ctx context.Context, name string) (process.Result, error) {
	t, ok := e.cfg.Targets[name]
	if !ok {
		return process.Result{}, fmt.Errorf("no target named %q", name)
	}
	req := process.Request{Argv: t.Argv, Env: t.Env, Dir: t.Dir, Description: t.Description}
	outcomes := e.Execute(ctx, []graph.Request{
		{Output: process.TypeResult, Params: []types.Param{req}},
	})
	if outcomes[0].Err != nil {
		return process.Result{}, outcomes[0].Err
	}
	return outcomes[0].Value.(process.Result), nil
}

// Invalidate feeds changed workspace-relative paths into the graph and
// returns the number of nodes newly marked dirty.
func (e *Engine) Invalidate(paths []string) int {
	return e.graph.Invalidate(paths)
}

// StartWatching begins feeding filesystem changes into invalidation. Calling
// it twice is an error; Close stops the watcher.
func (e *Engine) StartWatching(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		return fmt.Errorf("already watching %s", e.cfg.Workspace)
	}
	w, err := invalidation.NewWatcher(ctx, e.cfg.Workspace, func(paths []string) {
		marked := e.graph.Invalidate(paths)
		e.logger.Info("filesystem change", "paths", len(paths), "dirtied", marked)
	}, invalidation.WatcherOptions{
		Debounce: e.cfg.Watch.Debounce(),
		Ignore:   e.cfg.Watch.Ignore,
		Logger:   e.logger,
	})
	if err != nil {
		return err
	}
	e.watcher = w
	return nil
}
