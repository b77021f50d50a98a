// Package process models external process execution as ordinary memoized
// values: a content-addressed Request param and a Result value whose large
// outputs live in the content-addressed store. Execution is an intrinsic
// rule, so identical requests run once and results are cached like any other
// node.
package process

import (
	"sort"

	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/types"
)

// Type IDs for the process value and param types.
const (
	TypeRequest = types.ID("process.Request")
	TypeResult  = types.ID("process.Result")
)

// Request describes one process to run. It is a param: two requests with
// equal fingerprints are the same execution and share one node.
type Request struct {
	// Argv is the command and its arguments. Argv[0] is resolved via PATH.
	Argv []string

	// Env is the complete environment, as "KEY=VALUE" entries. Order is
	// irrelevant to identity; the fingerprint sorts it.
	Env []string

	// Dir is the working directory relative to the execution scratch root.
	// Empty runs in the scratch root itself.
	Dir string

	// Description names the execution in logs and workunits.
	Description string
}

func (r Request) TypeID() types.ID { return TypeRequest }

func (r Request) Fingerprint() (hashing.Digest, error) {
	env := append([]string(nil), r.Env...)
	sort.Strings(env)
	return hashing.OfValue(hashing.DomainProcess, map[string]any{
		"argv": r.Argv,
		"env":  env,
		"dir":  r.Dir,
	})
}

// Result is the outcome of one execution. A non-zero exit is a Result, not
// an error: callers decide whether an exit code fails their build. Stdout
// and stderr are stored in the CAS and referenced by digest.
type Result struct {
	ExitCode int
	Stdout   hashing.Digest
	Stderr   hashing.Digest
}

func (r Result) TypeID() types.ID { return TypeResult }

func (r Result) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainProcess, map[string]any{
		"exit":   r.ExitCode,
		"stdout": r.Stdout,
		"stderr": r.Stderr,
	})
}
