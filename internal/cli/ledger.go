package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage the local asset and payment ledger",
	}
	cmd.AddCommand(newLedgerMintCmd(), newLedgerCreditCmd(), newLedgerShowCmd())
	return cmd
}

func newLedgerMintCmd() *cobra.Command {
	var (
		collection string
		verified   bool
	)
	cmd := &cobra.Command{
		Use:   "mint <owner> <asset>",
		Short: "Create an asset unit held by owner",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				asset := ledger.Asset{ID: args[1], Owner: args[0], Collection: collection, Verified: verified}
				if err := a.ledger.Mint(asset); err != nil {
					return err
				}
				return render(a.out, asset, func(w io.Writer) {
					fmt.Fprintf(w, "Minted %s to %s\n", asset.ID, asset.Owner)
				})
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection the asset belongs to")
	cmd.Flags().BoolVar(&verified, "verified", false, "mark the collection membership verified")
	return cmd
}

func newLedgerCreditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credit <account> <amount> <denom>",
		Short: "Add funds to an account",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parsePrice(args[1], args[2])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				if err := a.ledger.Credit(args[0], amount); err != nil {
					return err
				}
				bal := ledger.Balance{Account: args[0], Amount: a.ledger.Balance(args[0], amount.Denom)}
				return render(a.out, bal, func(w io.Writer) {
					fmt.Fprintf(w, "%s balance: %s\n", bal.Account, bal.Amount)
				})
			})
		},
	}
}

// ledgerView is the JSON shape of ledger show.
type ledgerView struct {
	Assets   []ledger.Asset   `json:"assets"`
	Balances []ledger.Balance `json:"balances"`
}

func newLedgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display asset custody and balances",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				v := ledgerView{Assets: a.ledger.Assets(), Balances: a.ledger.Balances()}
				return render(a.out, v, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ASSET\tHOLDER\tCOLLECTION\tVERIFIED")
					for _, as := range v.Assets {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", as.ID, as.Owner, as.Collection, as.Verified)
					}
					fmt.Fprintln(tw)
					fmt.Fprintln(tw, "ACCOUNT\tBALANCE")
					for _, b := range v.Balances {
						fmt.Fprintf(tw, "%s\t%s\n", b.Account, b.Amount)
					}
					tw.Flush()
				})
			})
		},
	}
}
