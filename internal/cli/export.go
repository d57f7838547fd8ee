package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/internal/jsonl"
	"github.com/mesh-intelligence/stall/pkg/types"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write all listings to a JSON Lines file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ls, err := a.market.ListListings(cmd.Context(), types.ListingFilter{})
				if err != nil {
					return err
				}
				if err := jsonl.WriteValues(args[0], ls); err != nil {
					return fmt.Errorf("export: %w", err)
				}
				out := map[string]any{"file": args[0], "listings": len(ls)}
				return render(a.out, out, func(w io.Writer) {
					fmt.Fprintf(w, "Exported %d listings to %s\n", len(ls), args[0])
				})
			})
		},
	}
}
