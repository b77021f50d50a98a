package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/store"
	"github.com/snuderl/pants/internal/types"
)

// Executor runs process requests. The engine depends only on this interface;
// Local is the in-repo implementation.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Local executes requests on the host in per-execution scratch directories,
// storing stdout and stderr in the content-addressed store.
type Local struct {
	store   *store.Store
	scratch string
	logger  *slog.Logger
}

// NewLocal creates a local executor. scratch is the parent directory for
// per-execution work dirs; it is created if missing.
func NewLocal(cas *store.Store, scratch string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Local{store: cas, scratch: scratch, logger: logger}, nil
}

// Execute runs the request in a fresh scratch directory. A process that runs
// and exits non-zero yields a Result; an error means the execution itself
// could not happen (spawn failure, storage failure, cancellation).
func (l *Local) Execute(ctx context.Context, req Request) (Result, error) {
	if len(req.Argv) == 0 {
		return Result{}, errors.New("empty argv")
	}

	workdir, err := os.MkdirTemp(l.scratch, "exec-")
	if err != nil {
		return Result{}, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = workdir
	if req.Dir != "" {
		cmd.Dir = filepath.Join(workdir, req.Dir)
		if err := os.MkdirAll(cmd.Dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create workdir %s: %w", req.Dir, err)
		}
	}
	cmd.Env = req.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.logger.Debug("executing process", "argv", req.Argv, "description", req.Description)
	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Result{}, fmt.Errorf("spawn %q: %w", req.Argv[0], runErr)
		}
		exitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	outDigest, err := l.store.Put(ctx, stdout.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("store stdout: %w", err)
	}
	errDigest, err := l.store.Put(ctx, stderr.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("store stderr: %w", err)
	}

	return Result{ExitCode: exitCode, Stdout: outDigest, Stderr: errDigest}, nil
}

// Rule wraps an executor as the process-execution intrinsic: requests become
// params and results become memoized node values.
func Rule(exec Executor) *rules.Rule {
	return &rules.Rule{
		Name:   "process.execute",
		Params: []types.ID{TypeRequest},
		Output: TypeResult,
		Run: func(t rules.Task) (types.Value, error) {
			p, _ := t.Param(TypeRequest)
			return exec.Execute(t.Context(), p.(Request))
		},
	}
}
