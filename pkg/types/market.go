package types

import "context"

// Market is the surface the escrow core exposes to CLI, RPC, and network
// layers.
type Market interface {
	// OpenListing moves asset from seller into escrow custody and records an
	// active listing. Returns the new listing ID.
	OpenListing(ctx context.Context, seller string, asset AssetRef, price Price) (string, error)

	// CancelListing cancels an active listing and returns custody to the
	// seller. Only the seller may cancel.
	CancelListing(ctx context.Context, id, requester string) error

	// PurchaseListing exchanges payment for the listed asset. Among
	// concurrent purchasers exactly one succeeds.
	PurchaseListing(ctx context.Context, id, buyer string, payment Price) error

	// GetListing returns a snapshot of the listing.
	GetListing(ctx context.Context, id string) (*ListingView, error)
}
