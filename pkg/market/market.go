// Package market is the public surface of the Stall escrow core. It wires
// a store and ledger adapters into the escrow engine and exposes the
// listing operations by ID.
//
// Example:
//
//	m, err := market.New(store, assets, payments, cfg, market.WithLogger(log))
//	id, err := m.OpenListing(ctx, "alice", types.AssetRef{ID: "nft-1"}, types.NewPrice(50, "SOL"))
//	err = m.PurchaseListing(ctx, id, "bob", types.NewPrice(50, "SOL"))
package market

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/stall/internal/escrow"
	"github.com/mesh-intelligence/stall/internal/metrics"
	"github.com/mesh-intelligence/stall/pkg/types"
)

// Version is the release version of the module.
const Version = "0.1.0"

// Option configures a Market.
type Option = escrow.Option

// WithLogger sets the engine logger.
func WithLogger(log *logrus.Logger) Option { return escrow.WithLogger(log) }

// WithMetrics records engine metrics into c.
func WithMetrics(c *metrics.Collector) Option { return escrow.WithMetrics(c) }

// WithTracerProvider sets the provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option { return escrow.WithTracerProvider(tp) }

var _ types.Market = (*Market)(nil)

// Market implements types.Market and the administrative operations.
type Market struct {
	engine *escrow.Engine
}

// New builds a market over store and the ledger adapters.
func New(store types.Store, assets types.AssetLedger, payments types.PaymentCapturer, cfg types.Config, opts ...Option) (*Market, error) {
	e, err := escrow.New(store, assets, payments, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Market{engine: e}, nil
}

// OpenListing moves asset into escrow and returns the new listing ID.
func (m *Market) OpenListing(ctx context.Context, seller string, asset types.AssetRef, price types.Price) (string, error) {
	l, err := m.engine.Open(ctx, seller, asset, price)
	if err != nil {
		return "", err
	}
	return l.ListingID, nil
}

// CancelListing cancels an active listing and returns custody to the
// seller.
func (m *Market) CancelListing(ctx context.Context, id, requester string) error {
	_, err := m.engine.Cancel(ctx, id, requester)
	return err
}

// PurchaseListing exchanges payment for the listed asset.
func (m *Market) PurchaseListing(ctx context.Context, id, buyer string, payment types.Price) error {
	_, err := m.engine.Purchase(ctx, id, buyer, payment)
	return err
}

// GetListing returns a snapshot of the listing.
func (m *Market) GetListing(ctx context.Context, id string) (*types.ListingView, error) {
	l, err := m.engine.Store().Get(ctx, id)
	if err != nil {
		return nil, lookupError("get", id, err)
	}
	return l, nil
}

// ListListings returns listings matching filter ordered by creation.
func (m *Market) ListListings(ctx context.Context, filter types.ListingFilter) ([]*types.ListingView, error) {
	return m.engine.Store().List(ctx, filter)
}

// History returns the recorded transitions of a listing.
func (m *Market) History(ctx context.Context, id string) ([]types.Transition, error) {
	h, err := m.engine.Store().History(ctx, id)
	if err != nil {
		return nil, lookupError("history", id, err)
	}
	return h, nil
}

// Reconcile completes custody for a terminal listing and returns the
// asset's owner.
func (m *Market) Reconcile(ctx context.Context, id string) (string, error) {
	return m.engine.Reconcile(ctx, id)
}

// Initialize records the marketplace definition.
func (m *Market) Initialize(ctx context.Context, admin, name string, feeBps uint16) (*types.Marketplace, error) {
	return m.engine.Initialize(ctx, admin, name, feeBps)
}

// Marketplace returns the marketplace definition.
func (m *Market) Marketplace(ctx context.Context) (*types.Marketplace, error) {
	return m.engine.Marketplace(ctx)
}

// AddCollection whitelists a collection; admin must be the marketplace
// admin.
func (m *Market) AddCollection(ctx context.Context, admin, key string) error {
	return m.engine.AddCollection(ctx, admin, key)
}

// Sweeper returns the expiry sweeper.
func (m *Market) Sweeper() *escrow.Sweeper {
	return m.engine.Sweeper()
}

// Config returns the effective configuration.
func (m *Market) Config() types.Config {
	return m.engine.Config()
}

func lookupError(op, id string, err error) error {
	var kind error
	if errors.Is(err, types.ErrNotFound) {
		kind = types.ErrNotFound
	}
	return &types.ListingError{Op: op, ListingID: id, Kind: kind, Err: err}
}
