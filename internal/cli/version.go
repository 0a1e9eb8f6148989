package cli

import (
	"github.com/spf13/cobra"

	"github.com/rickgao/auction-sync/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(cmd.OutOrStdout(), rootOpts.Format)
			if rootOpts.Format == "json" {
				out.json(version.Get())
				return nil
			}
			out.text("auctionwatch " + version.String() + "\n")
			return nil
		},
	}
}
