package graph

import (
	"fmt"
	"sync"

	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/rulegraph"
	"github.com/snuderl/pants/internal/types"
)

// Generation is the process-wide monotonic counter. It advances only when a
// node's value changes, never on recomputation that yields an equal value:
// that asymmetry is what lets clean dependents short-circuit.
type Generation uint64

// NodeKey is the identity of one unit of memoized work: the rule name plus
// the fingerprint of exactly the params the rule's entry consumes. Equal
// keys are guaranteed to be serviced by the same Node.
type NodeKey struct {
	Rule   string
	Params hashing.Digest
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s@%s", k.Rule, k.Params.Short())
}

// State is a node's position in its lifecycle state machine.
type State int32

const (
	// NotStarted means the node has never run in this graph.
	NotStarted State = iota
	// Running means exactly one evaluation currently owns the node.
	Running
	// Completed means the node settled with a value.
	Completed
	// Failed means the node settled with an error, cached until invalidated.
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// depRecord captures one dependency edge as observed during a computation:
// the dependency's key and the generation its value had when read.
type depRecord struct {
	key     NodeKey
	changed Generation
}

// node is the mutable record for one NodeKey. All fields below mu are
// guarded by it; the state machine guarantees a single logical owner for
// the Running state, so value mutation is never contended.
type node struct {
	key   NodeKey
	entry *rulegraph.Entry
	scope types.ParamSet

	mu      sync.Mutex
	state   State
	dirty   bool
	settled chan struct{} // non-nil exactly while Running; closed on settle

	// tracked is true when the last computation registered filesystem
	// watches. A dirty tracked node always recomputes: its inputs live
	// outside the graph, so dep re-validation proves nothing.
	tracked bool

	value       types.Value
	digest      hashing.Digest
	err         error
	lastChanged Generation
	deps        []depRecord
	dependents  map[NodeKey]struct{}
}

func newNode(key NodeKey, entry *rulegraph.Entry, scope types.ParamSet) *node {
	return &node{
		key:        key,
		entry:      entry,
		scope:      scope,
		state:      NotStarted,
		dependents: make(map[NodeKey]struct{}),
	}
}

// snapshot is the settled result a waiter observes, copied out under the
// node lock so no caller sees a torn update.
type snapshot struct {
	value   types.Value
	digest  hashing.Digest
	err     error
	changed Generation
}

// addDependent records a reverse edge used for lazy dirty propagation.
func (n *node) addDependent(dependent NodeKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dependents[dependent] = struct{}{}
}
