package escrow

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/stall/pkg/types"
)

// Initialize records the marketplace definition. It may run once.
func (e *Engine) Initialize(ctx context.Context, admin, name string, feeBps uint16) (m *types.Marketplace, err error) {
	ctx, sc := e.begin(ctx, OpInitialize, "")
	defer func() { sc.end(err) }()

	def := types.Marketplace{Name: name, Admin: admin, FeeBps: feeBps, CreatedAt: e.clock()}
	if verr := def.Validate(); verr != nil {
		return nil, fail(OpInitialize, "", verr, fmt.Errorf("marketplace %q", name))
	}
	if serr := e.store.InitMarketplace(ctx, def); serr != nil {
		return nil, fail(OpInitialize, "", storeKind(serr), serr)
	}
	sc.log.WithField("name", name).WithField("admin", admin).Info("marketplace initialized")
	return &def, nil
}

// Marketplace returns the marketplace definition.
func (e *Engine) Marketplace(ctx context.Context) (*types.Marketplace, error) {
	m, err := e.store.GetMarketplace(ctx)
	if err != nil {
		return nil, fail("marketplace", "", storeKind(err), err)
	}
	return m, nil
}

// AddCollection whitelists a collection. Only the marketplace admin may
// call it.
func (e *Engine) AddCollection(ctx context.Context, admin, key string) (err error) {
	ctx, sc := e.begin(ctx, OpWhitelist, "")
	defer func() { sc.end(err) }()

	if key == "" {
		return fail(OpWhitelist, "", types.ErrInvalidCollection, fmt.Errorf("empty collection key"))
	}
	m, err := e.store.GetMarketplace(ctx)
	if err != nil {
		return fail(OpWhitelist, "", storeKind(err), fmt.Errorf("marketplace not initialized: %w", err))
	}
	if admin != m.Admin {
		return fail(OpWhitelist, "", types.ErrUnauthorized, fmt.Errorf("%q is not the marketplace admin", admin))
	}
	if serr := e.store.AddCollection(ctx, key); serr != nil {
		return fail(OpWhitelist, "", storeKind(serr), serr)
	}
	sc.log.WithField("collection", key).Info("collection whitelisted")
	return nil
}
