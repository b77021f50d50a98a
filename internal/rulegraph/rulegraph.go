// Package rulegraph statically compiles the registered rule set into an
// immutable plan. For every requestable (output type, available param set)
// pair it selects exactly one satisfying rule by a reachability search over
// declared Gets, tracking which params are in scope along each path.
// Ambiguity, unsatisfiable requests, and cycles among rule types are
// compile-time errors; the scheduler never re-derives applicability at
// runtime.
package rulegraph

import (
	"sort"

	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/types"
)

// Query declares one requestable root: an output type producible from a set
// of client-supplied param types. The engine only serves requests whose
// shape was declared as a Query at compile time.
type Query struct {
	Output types.ID
	Params []types.ID
}

// EntryKind distinguishes how a request is satisfied.
type EntryKind int

const (
	// EntryRule satisfies the request by running a rule.
	EntryRule EntryKind = iota
	// EntryParam satisfies the request directly from a param already in
	// scope; no computation runs.
	EntryParam
)

// Entry is one resolved (output, available params) decision in the compiled
// graph: the selected rule (or param), plus the resolved child entry for
// every Get the rule may issue. Entries are immutable after compilation.
type Entry struct {
	Kind  EntryKind
	Rule  *rules.Rule // set when Kind == EntryRule
	Param types.ID    // set when Kind == EntryParam
	Avail []types.ID  // params in scope for this entry, sorted

	// Need is the subset of Avail this entry actually consumes, directly or
	// through its Gets. The scheduler keys nodes by exactly these params so
	// requests differing only in irrelevant params converge on one node.
	Need []types.ID

	childs map[getKey]*Entry
}

type getKey struct {
	output   types.ID
	extraKey string
}

// ChildForGet returns the resolved entry for a Get of the given output type
// with the given extra param types.
func (e *Entry) ChildForGet(output types.ID, extra []types.ID) (*Entry, bool) {
	c, ok := e.childs[getKey{output: output, extraKey: types.IDSetKey(extra)}]
	return c, ok
}

// RuleGraph is the immutable compiled plan. Lookup is O(1) per request.
type RuleGraph struct {
	entries map[memoKey]*Entry
	queries []Query
}

type memoKey struct {
	output   types.ID
	availKey string
}

// Lookup resolves a (output type, available param types) request into its
// compiled entry. Requests that were not declared as Queries (nor reachable
// from one with the same shape) miss.
func (g *RuleGraph) Lookup(output types.ID, avail []types.ID) (*Entry, bool) {
	e, ok := g.entries[memoKey{output: output, availKey: types.IDSetKey(avail)}]
	return e, ok
}

// Queries returns the declared roots, sorted for deterministic rendering.
func (g *RuleGraph) Queries() []Query {
	return g.queries
}

// Compile resolves every declared query against the registry. It returns a
// CompileError naming each offending rule if any query is ambiguous,
// unsatisfiable, or cyclic.
func Compile(reg *rules.Registry, queries []Query) (*RuleGraph, error) {
	c := &compiler{
		byOutput:   make(map[types.ID][]*rules.Rule),
		memo:       make(map[memoKey]*Entry),
		inProgress: make(map[memoKey]bool),
	}
	for _, r := range reg.Rules() {
		c.byOutput[r.Output] = append(c.byOutput[r.Output], r)
	}

	sorted := make([]Query, len(queries))
	copy(sorted, queries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Output != sorted[j].Output {
			return sorted[i].Output < sorted[j].Output
		}
		return types.IDSetKey(sorted[i].Params) < types.IDSetKey(sorted[j].Params)
	})

	var errs []error
	for _, q := range sorted {
		if _, err := c.satisfy(q.Output, sortedIDs(q.Params), nil); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, &CompileError{Errors: errs}
	}
	return &RuleGraph{entries: c.memo, queries: sorted}, nil
}

type compiler struct {
	byOutput   map[types.ID][]*rules.Rule
	memo       map[memoKey]*Entry
	inProgress map[memoKey]bool
}

// satisfy selects the single entry satisfying (output, avail), recursively
// resolving the selected rule's Gets. path carries the rule names traversed
// so cycle errors can show the offending chain.
func (c *compiler) satisfy(output types.ID, avail []types.ID, path []string) (*Entry, error) {
	key := memoKey{output: output, availKey: types.IDSetKey(avail)}
	if e, ok := c.memo[key]; ok {
		return e, nil
	}
	if c.inProgress[key] {
		return nil, errInProgress{output: output}
	}
	c.inProgress[key] = true
	defer delete(c.inProgress, key)

	var viable []*Entry
	var attempts []Attempt
	sawCycle := false

	// A requested type already present as a param needs no rule.
	if containsID(avail, output) {
		viable = append(viable, &Entry{Kind: EntryParam, Param: output, Avail: avail, Need: []types.ID{output}})
	}

	for _, r := range c.byOutput[output] {
		if missing := missingParams(r.Params, avail); len(missing) > 0 {
			attempts = append(attempts, Attempt{
				Rule:   r.Name,
				Reason: "param types not in scope: " + idSetString(missing),
			})
			continue
		}
		entry, err := c.tryRule(r, avail, appendPath(path, r.Name))
		if err != nil {
			if isCyclic(err) {
				sawCycle = true
			}
			attempts = append(attempts, Attempt{Rule: r.Name, Reason: err.Error()})
			continue
		}
		viable = append(viable, entry)
	}

	switch len(viable) {
	case 0:
		if sawCycle {
			return nil, &GraphCycleError{Output: output, Path: appendPath(path, string(output))}
		}
		return nil, &UnsatisfiableError{Output: output, Avail: avail, Attempts: attempts}
	case 1:
		c.memo[key] = viable[0]
		return viable[0], nil
	default:
		names := make([]string, 0, len(viable))
		for _, e := range viable {
			if e.Kind == EntryParam {
				names = append(names, "param "+string(e.Param))
			} else {
				names = append(names, e.Rule.Name+" "+ruleSignature(e.Rule))
			}
		}
		sort.Strings(names)
		return nil, &AmbiguityError{Output: output, Avail: avail, Rules: names}
	}
}

// tryRule resolves every declared Get of the candidate rule. Get extras are
// layered onto the available set for the child resolution, which is how
// params enter scope.
func (c *compiler) tryRule(r *rules.Rule, avail []types.ID, path []string) (*Entry, error) {
	entry := &Entry{
		Kind:   EntryRule,
		Rule:   r,
		Avail:  avail,
		childs: make(map[getKey]*Entry, len(r.Gets)),
	}
	need := make(map[types.ID]bool, len(r.Params))
	for _, p := range r.Params {
		need[p] = true
	}
	for _, g := range r.Gets {
		childAvail := unionIDs(avail, g.Extra)
		child, err := c.satisfy(g.Output, childAvail, path)
		if err != nil {
			return nil, err
		}
		entry.childs[getKey{output: g.Output, extraKey: types.IDSetKey(g.Extra)}] = child
		// Params the child consumes flow from this entry's scope, except
		// those the Get supplies itself.
		for _, id := range child.Need {
			if !containsID(g.Extra, id) {
				need[id] = true
			}
		}
	}
	for id := range need {
		entry.Need = append(entry.Need, id)
	}
	entry.Need = sortedIDs(entry.Need)
	return entry, nil
}

func isCyclic(err error) bool {
	if _, ok := err.(errInProgress); ok {
		return true
	}
	return IsCycle(err)
}

// appendPath copies before appending; path slices are shared across sibling
// candidate resolutions.
func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func containsID(ids []types.ID, id types.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func missingParams(need, avail []types.ID) []types.ID {
	var missing []types.ID
	for _, n := range need {
		if !containsID(avail, n) {
			missing = append(missing, n)
		}
	}
	return missing
}

func unionIDs(a, b []types.ID) []types.ID {
	out := make([]types.ID, 0, len(a)+len(b))
	out = append(out, a...)
	for _, id := range b {
		if !containsID(out, id) {
			out = append(out, id)
		}
	}
	return sortedIDs(out)
}

func sortedIDs(ids []types.ID) []types.ID {
	out := make([]types.ID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
