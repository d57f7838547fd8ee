package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stall/pkg/types"
)

// Open moves the asset from the seller into escrow custody and records an
// active listing. If the record cannot be written, custody is returned to
// the seller before the error is reported.
func (e *Engine) Open(ctx context.Context, seller string, asset types.AssetRef, price types.Price) (l *types.Listing, err error) {
	ctx, sc := e.begin(ctx, OpOpen, "")
	defer func() { sc.end(err) }()

	if seller == "" || asset.ID == "" {
		return nil, fail(OpOpen, "", types.ErrInvalidArgument,
			fmt.Errorf("seller and asset are required"))
	}
	if seller == e.cfg.EscrowAccount {
		return nil, fail(OpOpen, "", types.ErrInvalidArgument,
			fmt.Errorf("the escrow account cannot sell"))
	}
	if verr := price.Validate(); verr != nil {
		return nil, fail(OpOpen, "", types.ErrInvalidPrice, verr)
	}

	asset, err = e.checkCollection(ctx, asset)
	if err != nil {
		return nil, err
	}

	holder, qerr := e.assets.QueryCustody(ctx, asset)
	if qerr != nil {
		return nil, fail(OpOpen, "", types.ErrCreateFailed,
			fmt.Errorf("%w: %w", types.ErrTransfer, qerr))
	}
	if holder != seller {
		return nil, fail(OpOpen, "", types.ErrUnauthorized,
			fmt.Errorf("asset %s is held by %s, not %s", asset.ID, holder, seller))
	}

	now := e.clock()
	rec := &types.Listing{
		ListingID: e.newID(),
		Seller:    seller,
		Asset:     asset,
		Price:     price.Clone(),
		State:     types.StateActive,
		CreatedAt: now,
	}
	rec.Price.Denom = types.NormalizeDenom(rec.Price.Denom)
	if e.cfg.ListingTTL > 0 {
		exp := now.Add(e.cfg.ListingTTL)
		rec.ExpiresAt = &exp
	}
	sc.setID(rec.ListingID)
	log := sc.log.WithFields(logrus.Fields{"seller": seller, "asset": asset.ID})

	if terr := e.assets.TransferCustody(ctx, asset, seller, e.cfg.EscrowAccount); terr != nil {
		return nil, fail(OpOpen, rec.ListingID, types.ErrCreateFailed,
			fmt.Errorf("%w: %w", types.ErrTransfer, terr))
	}

	if cerr := e.store.Create(ctx, rec); cerr != nil {
		if errors.Is(cerr, types.ErrAssetListed) {
			// The escrowed asset backs the other active listing; leave it.
			log.WithError(cerr).Warn("asset already listed; custody left in escrow")
			return nil, fail(OpOpen, rec.ListingID, types.ErrCreateFailed, cerr)
		}
		rerr := e.releaseTo(ctx, log, asset, seller)
		e.metrics.RecordCompensation(rerr)
		if rerr != nil {
			log.WithError(errors.Join(cerr, rerr)).
				Error("listing not recorded and custody rollback failed; reconciliation required")
			return nil, fail(OpOpen, rec.ListingID, types.ErrCreateFailed, errors.Join(cerr, rerr))
		}
		log.WithError(cerr).Warn("listing not recorded; custody returned to seller")
		return nil, fail(OpOpen, rec.ListingID, types.ErrCreateFailed, cerr)
	}

	e.metrics.RecordOpened()
	log.WithField("price", rec.Price.String()).Debug("listing opened")
	return rec.Clone(), nil
}

// checkCollection enforces the collection whitelist once a marketplace is
// initialized and the asset ledger can resolve collections. It returns the
// asset with its authoritative collection key.
func (e *Engine) checkCollection(ctx context.Context, asset types.AssetRef) (types.AssetRef, error) {
	if e.collections == nil || e.cfg.DisableWhitelist {
		return asset, nil
	}
	if _, err := e.store.GetMarketplace(ctx); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return asset, nil
		}
		return asset, fail(OpOpen, "", storeKind(err), err)
	}

	c, err := e.collections.AssetCollection(ctx, asset)
	if err != nil {
		return asset, fail(OpOpen, "", types.ErrCreateFailed,
			fmt.Errorf("%w: resolving collection: %w", types.ErrTransfer, err))
	}
	if c.Key == "" {
		return asset, fail(OpOpen, "", types.ErrCollectionNotSet,
			fmt.Errorf("asset %s", asset.ID))
	}
	if !c.Verified {
		return asset, fail(OpOpen, "", types.ErrInvalidCollection,
			fmt.Errorf("collection %s of asset %s is not verified", c.Key, asset.ID))
	}
	ok, err := e.store.HasCollection(ctx, c.Key)
	if err != nil {
		return asset, fail(OpOpen, "", storeKind(err), err)
	}
	if !ok {
		return asset, fail(OpOpen, "", types.ErrInvalidCollection,
			fmt.Errorf("collection %s is not whitelisted", c.Key))
	}
	asset.Collection = c.Key
	return asset, nil
}

// Cancel flips an active listing to cancelled and then returns custody to
// the seller. Only the seller may cancel, or the expiry authority once the
// listing has expired. If the flip succeeds but custody cannot be
// returned, the listing stays cancelled and ErrReleaseIncomplete is
// reported; Reconcile completes the release.
func (e *Engine) Cancel(ctx context.Context, id, requester string) (l *types.Listing, err error) {
	ctx, sc := e.begin(ctx, OpCancel, id)
	defer func() { sc.end(err) }()
	log := sc.log.WithField("requester", requester)

	cur, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fail(OpCancel, id, storeKind(err), err)
	}
	if !e.mayCancel(cur, requester) {
		return nil, fail(OpCancel, id, types.ErrUnauthorized,
			fmt.Errorf("%q may not cancel a listing of %q", requester, cur.Seller))
	}
	if cur.State != types.StateActive {
		return nil, fail(OpCancel, id, types.ErrInvalidState,
			fmt.Errorf("listing is %s", cur.State))
	}

	closed, err := e.store.CompareAndTransition(ctx, id, types.StateActive, types.StateCancelled, requester)
	if err != nil {
		if errors.Is(err, types.ErrStaleState) && closed != nil {
			log.WithField("state", closed.State).Warn("cancel lost race")
			return nil, fail(OpCancel, id, types.ErrInvalidState, err)
		}
		return nil, fail(OpCancel, id, storeKind(err), err)
	}
	e.metrics.RecordClosed(string(types.StateCancelled))

	if rerr := e.releaseTo(ctx, log, closed.Asset, closed.Seller); rerr != nil {
		e.metrics.RecordCompensation(rerr)
		log.WithError(rerr).Error("listing cancelled but custody not returned; reconciliation required")
		return closed, fail(OpCancel, id, types.ErrReleaseIncomplete, rerr)
	}
	e.metrics.RecordCompensation(nil)
	log.Debug("listing cancelled")
	return closed, nil
}

func (e *Engine) mayCancel(l *types.Listing, requester string) bool {
	if requester == "" {
		return false
	}
	if requester == l.Seller {
		return true
	}
	return requester == e.cfg.ExpiryAuthority && l.Expired(e.clock())
}
