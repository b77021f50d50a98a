package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command. It loads configuration and
// compiles the rule graph without executing anything, so broken setups fail
// fast and with every error at once.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load configuration and compile the rule graph",
		Long:  "Loads the CUE configuration, registers all rules, and compiles the rule graph.\nReports every compile error found; a valid setup prints a summary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	formatter.VerboseLog("loading configuration from %s", rootOpts.ConfigDir)
	eng, cfg, err := openEngine(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(err.Error())
		return err
	}
	defer eng.Close()

	queries := eng.Plan().Queries()
	summary := struct {
		Workspace string `json:"workspace"`
		Queries   int    `json:"queries"`
		Targets   int    `json:"targets"`
	}{cfg.Workspace, len(queries), len(cfg.Targets)}

	if rootOpts.Format == "json" {
		return formatter.Success(summary)
	}
	return formatter.Success(fmt.Sprintf("ok: %d queries, %d targets, workspace %s",
		summary.Queries, summary.Targets, summary.Workspace))
}
