package graph

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Session represents one user-triggered run: a cancellation scope plus a
// concurrency budget. Many sessions may be in flight concurrently against
// the same shared node table; cancelling one abandons only its own waits.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	slots  *semaphore.Weighted
	graph  *Graph
}

// NewSession opens a session. parallelism bounds how many rule computations
// initiated by this session execute simultaneously; zero or negative means
// the graph default.
func (g *Graph) NewSession(ctx context.Context, parallelism int) *Session {
	if parallelism <= 0 {
		parallelism = g.defaultParallelism
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     uuid.Must(uuid.NewV7()).String(),
		ctx:    ctx,
		cancel: cancel,
		slots:  semaphore.NewWeighted(int64(parallelism)),
		graph:  g,
	}
	g.metrics.SessionOpened()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Context returns the session's cancellation scope.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close cancels the session. Nodes it started computing settle normally for
// the benefit of other sessions.
func (s *Session) Close() {
	s.cancel()
	s.graph.metrics.SessionClosed()
}

// acquireSlot blocks until the session may execute one more rule. Slot
// acquisition uses the graph's lifetime context, not the session's: a
// claimed node must settle even if its claimer is cancelled, because other
// sessions may be waiting on it.
func (s *Session) acquireSlot() error {
	return s.slots.Acquire(s.graph.baseCtx, 1)
}

func (s *Session) releaseSlot() {
	s.slots.Release(1)
}
