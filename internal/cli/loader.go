package cli

import (
	"io"

	"github.com/snuderl/pants/internal/config"
	"github.com/snuderl/pants/internal/engine"
)

// openEngine loads configuration from the --config directory and assembles an
// engine from it. Rule graph compile errors surface here, before any command
// logic runs. The caller owns the returned engine and must Close it.
func openEngine(opts *RootOptions, errW io.Writer) (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return nil, nil, &ExitError{Code: ExitCommandError, Message: "load configuration", Err: err}
	}
	eng, err := engine.New(engine.Options{
		Config: cfg,
		Logger: opts.logger(errW),
	})
	if err != nil {
		return nil, nil, &ExitError{Code: ExitFailure, Message: "assemble engine", Err: err}
	}
	return eng, cfg, nil
}
