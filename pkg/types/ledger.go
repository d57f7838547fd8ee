package types

import "context"

// AssetLedger moves custody of asset units between accounts. The escrow
// core never implements it; it only depends on this contract.
type AssetLedger interface {
	// TransferCustody moves asset from one account to another atomically.
	// Transferring an asset already held by to must succeed, so callers can
	// retry after an ambiguous failure.
	TransferCustody(ctx context.Context, asset AssetRef, from, to string) error

	// QueryCustody returns the account currently holding asset.
	QueryCustody(ctx context.Context, asset AssetRef) (string, error)
}

// PaymentCapturer moves a payment from one account to another.
type PaymentCapturer interface {
	Capture(ctx context.Context, payment Price, from, to string) error
}

// Collection is the collection membership an asset ledger reports for an
// asset.
type Collection struct {
	Key      string
	Verified bool
}

// CollectionResolver is implemented by asset ledgers that can report the
// verified collection of an asset. When the ledger implements it, listings
// are restricted to whitelisted collections.
type CollectionResolver interface {
	AssetCollection(ctx context.Context, asset AssetRef) (Collection, error)
}
