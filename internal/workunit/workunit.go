// Package workunit provides lightweight span tracking correlated to node
// execution. Workunits are observability only: the engine's correctness
// never depends on them, and a nil Tracker disables tracking entirely.
package workunit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Workunit is one tracked span of engine work, typically a rule computation.
type Workunit struct {
	tracker *Tracker
	id      string
	name    string
	attrs   []any
	started time.Time
}

// Tracker opens workunits and logs their completion through slog.
type Tracker struct {
	logger *slog.Logger
	active atomic.Int64
}

// NewTracker creates a tracker logging through the given logger.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Start opens a workunit. Safe on a nil tracker, which returns a nil
// workunit; Complete on a nil workunit is a no-op.
func (t *Tracker) Start(ctx context.Context, name string, attrs ...any) *Workunit {
	if t == nil {
		return nil
	}
	wu := &Workunit{
		tracker: t,
		id:      uuid.NewString(),
		name:    name,
		attrs:   attrs,
		started: time.Now(),
	}
	t.active.Add(1)
	t.logger.DebugContext(ctx, "workunit started",
		append([]any{"workunit", wu.id, "name", name}, attrs...)...)
	return wu
}

// Complete closes the workunit, logging its duration and outcome.
func (wu *Workunit) Complete(ctx context.Context, err error) {
	if wu == nil {
		return
	}
	wu.tracker.active.Add(-1)
	elapsed := time.Since(wu.started)
	args := append([]any{"workunit", wu.id, "name", wu.name, "elapsed", elapsed}, wu.attrs...)
	if err != nil {
		wu.tracker.logger.DebugContext(ctx, "workunit failed", append(args, "error", err)...)
		return
	}
	wu.tracker.logger.DebugContext(ctx, "workunit completed", args...)
}

// Active returns the number of currently open workunits.
func (t *Tracker) Active() int64 {
	if t == nil {
		return 0
	}
	return t.active.Load()
}
