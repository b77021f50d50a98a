package cli

import (
	"github.com/spf13/cobra"
)

// NewGraphCommand creates the graph command, which prints the compiled rule
// graph: every query root and every resolved entry with its Get edges.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the compiled rule graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, rootOpts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	return cmd
}

func runGraph(cmd *cobra.Command, rootOpts *RootOptions) error {
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

	rendered := eng.Plan().Render()
	if rootOpts.Format == "json" {
		return formatter.Success(struct {
			Graph string `json:"graph"`
		}{rendered})
	}
	_, err = cmd.OutOrStdout().Write([]byte(rendered))
	return err
}
