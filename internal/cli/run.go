package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command. It executes a target declared in the
// configuration and relays its captured output. Repeated runs against an
// unchanged workspace are served from memo.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Execute a declared target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTarget(cmd, rootOpts, args[0])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	return cmd
}

func runTarget(cmd *cobra.Command, rootOpts *RootOptions, name string) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	eng, _, err := openEngine(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(err.Error())
		return err
	}
	defer eng.Close()

	res, err := eng.ExecuteTarget(cmd.Context(), name)
	if err != nil {
		formatter.Error(err.Error())
		return &ExitError{Code: ExitCommandError, Message: "execute target", Err: err}
	}

	stdout, _, err := eng.Store().Get(cmd.Context(), res.Stdout)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "read captured stdout", Err: err}
	}
	stderr, _, err := eng.Store().Get(cmd.Context(), res.Stderr)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "read captured stderr", Err: err}
	}

	if rootOpts.Format == "json" {
		if err := formatter.Success(struct {
			Target   string `json:"target"`
			ExitCode int    `json:"exit_code"`
			Stdout   string `json:"stdout"`
			Stderr   string `json:"stderr"`
		}{name, res.ExitCode, string(stdout), string(stderr)}); err != nil {
			return err
		}
	} else {
		cmd.OutOrStdout().Write(stdout)
		cmd.ErrOrStderr().Write(stderr)
	}
	if res.ExitCode != 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("target %q exited %d", name, res.ExitCode)}
	}
	return nil
}
