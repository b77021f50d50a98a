package rulegraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/snuderl/pants/internal/types"
)

// CompileError aggregates every structural error found while compiling the
// rule graph. Compilation is all-or-nothing: if this is returned the engine
// must refuse to serve requests.
type CompileError struct {
	Errors []error
}

func (e *CompileError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("rule graph: %v", e.Errors[0])
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = "  " + err.Error()
	}
	return fmt.Sprintf("rule graph: %d errors:\n%s", len(e.Errors), strings.Join(msgs, "\n"))
}

// Unwrap exposes the individual errors to errors.Is/As.
func (e *CompileError) Unwrap() []error {
	return e.Errors
}

// AmbiguityError reports more than one rule satisfying the same request with
// no disambiguating signal. It names every conflicting rule.
type AmbiguityError struct {
	Output types.ID
	Avail  []types.ID
	Rules  []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous request for %s with params %s: satisfied by multiple rules: %s",
		e.Output, idSetString(e.Avail), strings.Join(e.Rules, ", "))
}

// Attempt records why one candidate rule could not satisfy a request.
type Attempt struct {
	Rule   string
	Reason string
}

// UnsatisfiableError reports a request no registered rule can produce from
// the available params, with the per-rule reasons.
type UnsatisfiableError struct {
	Output   types.ID
	Avail    []types.ID
	Attempts []Attempt
}

func (e *UnsatisfiableError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no rule produces %s (available params: %s)", e.Output, idSetString(e.Avail))
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Rule, a.Reason)
	}
	return fmt.Sprintf("no rule satisfies %s (available params: %s); tried: %s",
		e.Output, idSetString(e.Avail), strings.Join(parts, "; "))
}

// GraphCycleError reports a cycle among rule types with no base case.
type GraphCycleError struct {
	Output types.ID
	Path   []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("cycle in rule graph while resolving %s: %s", e.Output, strings.Join(e.Path, " -> "))
}

// IsAmbiguity reports whether err is or wraps an AmbiguityError.
func IsAmbiguity(err error) bool {
	var ae *AmbiguityError
	return errors.As(err, &ae)
}

// IsUnsatisfiable reports whether err is or wraps an UnsatisfiableError.
func IsUnsatisfiable(err error) bool {
	var ue *UnsatisfiableError
	return errors.As(err, &ue)
}

// IsCycle reports whether err is or wraps a GraphCycleError.
func IsCycle(err error) bool {
	var ce *GraphCycleError
	return errors.As(err, &ce)
}

// errInProgress marks a recursive resolution that re-entered a query still
// being resolved. It never escapes Compile; candidates failing only through
// in-progress markers surface as GraphCycleError when no alternative exists.
type errInProgress struct {
	output types.ID
}

func (e errInProgress) Error() string {
	return fmt.Sprintf("resolution of %s is already in progress", e.output)
}

func idSetString(ids []types.ID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = string(id)
	}
	sort.Strings(sorted)
	return "(" + strings.Join(sorted, ", ") + ")"
}
