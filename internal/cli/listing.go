package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stall/pkg/types"
)

const timeFormat = "2006-01-02 15:04:05"

func newListCmd() *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "list <seller> <asset> <amount> <denom>",
		Short: "Open a listing, moving the asset into escrow",
		Args:  exactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := parsePrice(args[2], args[3])
			if err != nil {
				return err
			}
			asset := types.AssetRef{ID: args[1], Collection: collection}
			return withApp(cmd, func(a *app) error {
				id, err := a.market.OpenListing(cmd.Context(), args[0], asset, price)
				if err != nil {
					return err
				}
				l, err := a.market.GetListing(cmd.Context(), id)
				if err != nil {
					return err
				}
				return render(a.out, l, func(w io.Writer) { fmt.Fprintln(w, id) })
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection the asset claims to belong to")
	return cmd
}

func newDelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delist <id> <requester>",
		Short: "Cancel an active listing and return the asset to the seller",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.market.CancelListing(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				return showListing(cmd, a, args[0])
			})
		},
	}
}

func newBuyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <id> <buyer> <amount> <denom>",
		Short: "Purchase a listing at its exact price",
		Args:  exactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			payment, err := parsePrice(args[2], args[3])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				if err := a.market.PurchaseListing(cmd.Context(), args[0], args[1], payment); err != nil {
					return err
				}
				return showListing(cmd, a, args[0])
			})
		},
	}
}

// listingDetail is the JSON shape of show.
type listingDetail struct {
	Listing *types.ListingView `json:"listing"`
	History []types.Transition `json:"history"`
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Display a listing with its transition history",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				return showListing(cmd, a, args[0])
			})
		},
	}
}

func showListing(cmd *cobra.Command, a *app, id string) error {
	l, err := a.market.GetListing(cmd.Context(), id)
	if err != nil {
		return err
	}
	h, err := a.market.History(cmd.Context(), id)
	if err != nil {
		return err
	}
	d := listingDetail{Listing: l, History: h}
	return render(a.out, d, func(w io.Writer) {
		printListing(w, l)
		if len(h) > 0 {
			fmt.Fprintln(w, "\nHistory:")
			for _, t := range h {
				from := string(t.From)
				if from == "" {
					from = "-"
				}
				fmt.Fprintf(w, "  %d  %s  %s -> %s  by %s\n", t.Seq, t.At.Format(timeFormat), from, t.To, t.Actor)
			}
		}
	})
}

func printListing(w io.Writer, l *types.ListingView) {
	fmt.Fprintf(w, "ID:       %s\n", l.ListingID)
	fmt.Fprintf(w, "Seller:   %s\n", l.Seller)
	fmt.Fprintf(w, "Asset:    %s\n", l.Asset.ID)
	if l.Asset.Collection != "" {
		fmt.Fprintf(w, "Collection: %s\n", l.Asset.Collection)
	}
	fmt.Fprintf(w, "Price:    %s\n", l.Price)
	fmt.Fprintf(w, "State:    %s\n", l.State)
	fmt.Fprintf(w, "Created:  %s\n", l.CreatedAt.Format(timeFormat))
	if l.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires:  %s\n", l.ExpiresAt.Format(timeFormat))
	}
	if l.Buyer != "" {
		fmt.Fprintf(w, "Buyer:    %s\n", l.Buyer)
	}
	if l.ClosedAt != nil {
		fmt.Fprintf(w, "Closed:   %s by %s\n", l.ClosedAt.Format(timeFormat), l.ClosedBy)
	}
}

func newListingsCmd() *cobra.Command {
	var (
		state   string
		seller  string
		limit   int
		expired bool
	)
	cmd := &cobra.Command{
		Use:   "listings",
		Short: "List listings ordered by creation time",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := types.ListingFilter{Seller: seller, Limit: limit}
			if state != "" {
				s, err := types.ParseListingState(state)
				if err != nil {
					return usageError{err}
				}
				filter.State = s
			}
			if expired {
				filter.ExpiresBefore = time.Now()
			}
			return withApp(cmd, func(a *app) error {
				ls, err := a.market.ListListings(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ls == nil {
					ls = []*types.ListingView{}
				}
				return render(a.out, ls, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSELLER\tASSET\tPRICE\tSTATE\tCREATED")
					for _, l := range ls {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
							l.ListingID, l.Seller, l.Asset.ID, l.Price, l.State, l.CreatedAt.Format(timeFormat))
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state (active, sold, cancelled)")
	cmd.Flags().StringVar(&seller, "seller", "", "filter by seller")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of listings (0 for all)")
	cmd.Flags().BoolVar(&expired, "expired", false, "only listings whose expiry has passed")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <id>",
		Short: "Complete custody for a terminal listing",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				owner, err := a.market.Reconcile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := map[string]string{"listing_id": args[0], "holder": owner}
				return render(a.out, out, func(w io.Writer) {
					fmt.Fprintf(w, "Asset of %s held by %s\n", args[0], owner)
				})
			})
		},
	}
}
