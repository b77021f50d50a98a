package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command. It watches the workspace and
// feeds filesystem changes into graph invalidation until the command's
// context is cancelled.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace and invalidate on changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, rootOpts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	return cmd
}

func runWatch(cmd *cobra.Command, rootOpts *RootOptions) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	eng, cfg, err := openEngine(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(err.Error())
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()
	if err := eng.StartWatching(ctx); err != nil {
		formatter.Error(err.Error())
		return &ExitError{Code: ExitCommandError, Message: "start watching", Err: err}
	}

	formatter.Success(fmt.Sprintf("watching %s", cfg.Workspace))
	<-ctx.Done()
	formatter.VerboseLog("watch stopped: %v", ctx.Err())
	return nil
}
