package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/pkg/types"
)

func newMarketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Manage the marketplace definition and collection whitelist",
	}
	cmd.AddCommand(newMarketInitCmd(), newMarketWhitelistCmd(), newMarketShowCmd())
	return cmd
}

func newMarketInitCmd() *cobra.Command {
	var fee uint16
	cmd := &cobra.Command{
		Use:   "init <admin> <name>",
		Short: "Initialize the marketplace",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				m, err := a.market.Initialize(cmd.Context(), args[0], args[1], fee)
				if err != nil {
					return err
				}
				return render(a.out, m, func(w io.Writer) { printMarketplace(w, m) })
			})
		},
	}
	cmd.Flags().Uint16Var(&fee, "fee", 0, "seller fee in basis points (recorded only)")
	return cmd
}

func newMarketWhitelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whitelist <admin> <collection>",
		Short: "Whitelist a collection for listing",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.market.AddCollection(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				out := map[string]string{"collection": args[1]}
				return render(a.out, out, func(w io.Writer) {
					fmt.Fprintf(w, "Whitelisted %s\n", args[1])
				})
			})
		},
	}
}

func newMarketShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the marketplace definition",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				m, err := a.market.Marketplace(cmd.Context())
				if err != nil {
					return err
				}
				return render(a.out, m, func(w io.Writer) { printMarketplace(w, m) })
			})
		},
	}
}

func printMarketplace(w io.Writer, m *types.Marketplace) {
	fmt.Fprintf(w, "Name:    %s\n", m.Name)
	fmt.Fprintf(w, "Admin:   %s\n", m.Admin)
	fmt.Fprintf(w, "Fee:     %d bps\n", m.FeeBps)
	fmt.Fprintf(w, "Created: %s\n", m.CreatedAt.Format(timeFormat))
}
