package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/pkg/market"
)

const modulePath = "github.com/mesh-intelligence/stall"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stall version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := map[string]string{"version": market.Version, "module": modulePath}
			return render(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "stall v%s\nmodule: %s\n", market.Version, modulePath)
			})
		},
	}
}
