package graph

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports a runtime dependency cycle discovered during one
// request's evaluation. It fails only the affected NodeKey chain; the rest
// of the batch is untouched.
type CycleError struct {
	Chain []NodeKey
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, k := range e.Chain {
		parts[i] = k.String()
	}
	return "dependency cycle detected: " + strings.Join(parts, " -> ")
}

// ComputationError wraps a rule's own failure. It is cached as the node's
// Failed state and returned to every current and future waiter until the
// node is invalidated.
type ComputationError struct {
	Key NodeKey
	Err error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.Key, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// CancelledError reports that the requesting session was cancelled while
// waiting. It is session-scoped and never cached on a node: in-flight
// computations continue for the benefit of other waiters.
type CancelledError struct {
	Session string
	Err     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("session %s cancelled: %v", e.Session, e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// UnknownRequestError reports a request whose (output, param types) shape
// was not declared as a query at compile time.
type UnknownRequestError struct {
	Output string
	Params string
}

func (e *UnknownRequestError) Error() string {
	return fmt.Sprintf("no compiled entry for request %s %s: declare it as a query", e.Output, e.Params)
}

// IsCycle reports whether err is or wraps a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsCancelled reports whether err is or wraps a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// IsComputation reports whether err is or wraps a ComputationError.
func IsComputation(err error) bool {
	var ce *ComputationError
	return errors.As(err, &ce)
}
