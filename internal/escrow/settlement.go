package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stall/internal/metrics"
	"github.com/mesh-intelligence/stall/pkg/types"
)

// Purchase exchanges payment for the escrowed asset. The active -> sold
// transition decides the single winner among concurrent buyers; payment
// is captured only after it succeeds, then custody is released to the
// buyer. A failure after the transition is reported as
// ErrSettlementIncomplete with the failed stage and is never retried.
func (e *Engine) Purchase(ctx context.Context, id, buyer string, payment types.Price) (l *types.Listing, err error) {
	ctx, sc := e.begin(ctx, OpPurchase, id)
	result := metrics.ResultRejected
	defer func() {
		e.metrics.RecordPurchase(result)
		sc.end(err)
	}()
	log := sc.log.WithField("buyer", buyer)

	if buyer == "" {
		return nil, fail(OpPurchase, id, types.ErrInvalidArgument, fmt.Errorf("buyer is required"))
	}
	cur, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fail(OpPurchase, id, storeKind(err), err)
	}
	switch cur.State {
	case types.StateActive:
	case types.StateSold:
		return nil, fail(OpPurchase, id, types.ErrAlreadySold, fmt.Errorf("bought by %s", cur.Buyer))
	default:
		return nil, fail(OpPurchase, id, types.ErrInvalidState, fmt.Errorf("listing is %s", cur.State))
	}
	if buyer == cur.Seller {
		return nil, fail(OpPurchase, id, types.ErrUnauthorized, fmt.Errorf("seller cannot buy own listing"))
	}
	if !payment.Equal(cur.Price) {
		return nil, fail(OpPurchase, id, types.ErrPriceMismatch,
			fmt.Errorf("offered %s, price is %s", payment, cur.Price))
	}

	sold, err := e.store.CompareAndTransition(ctx, id, types.StateActive, types.StateSold, buyer)
	if err != nil {
		if errors.Is(err, types.ErrStaleState) && sold != nil {
			result = metrics.ResultLost
			log.WithField("state", sold.State).Warn("purchase lost race")
			kind := types.ErrInvalidState
			if sold.State == types.StateSold {
				kind = types.ErrAlreadySold
			}
			return nil, fail(OpPurchase, id, kind, err)
		}
		result = metrics.ResultFailed
		return nil, fail(OpPurchase, id, storeKind(err), err)
	}
	e.metrics.RecordClosed(string(types.StateSold))

	// The sale is decided; the legs below must not be abandoned midway.
	settleCtx := context.WithoutCancel(ctx)
	if serr := e.settle(settleCtx, sold); serr != nil {
		result = metrics.ResultIncomplete
		var se *types.SettlementError
		if errors.As(serr, &se) {
			e.metrics.RecordSettlementIncomplete(se.Stage)
		}
		log.WithError(serr).Error("settlement incomplete; reconciliation required")
		return sold, fail(OpPurchase, id, types.ErrSettlementIncomplete, serr)
	}

	result = metrics.ResultSuccess
	log.WithFields(logrus.Fields{"seller": sold.Seller, "price": sold.Price.String()}).Debug("listing sold")
	return sold, nil
}

// settle captures payment from the buyer to the seller, then releases
// custody from escrow to the buyer.
func (e *Engine) settle(ctx context.Context, l *types.Listing) error {
	if err := e.payments.Capture(ctx, l.Price, l.Buyer, l.Seller); err != nil {
		return &types.SettlementError{
			Stage: types.StagePayment,
			Err:   fmt.Errorf("%w: %w", types.ErrPayment, err),
		}
	}
	if err := e.assets.TransferCustody(ctx, l.Asset, e.cfg.EscrowAccount, l.Buyer); err != nil {
		return &types.SettlementError{
			Stage: types.StageCustody,
			Err:   fmt.Errorf("%w: %w", types.ErrTransfer, err),
		}
	}
	return nil
}

// Reconcile completes custody for a terminal listing whose asset is still
// held by the escrow account, delivering it to the buyer (sold) or the
// seller (cancelled). It returns the asset's resulting owner and is a
// no-op when the asset already rests with that owner.
//
// Reconcile moves custody only. A sale that failed at the payment stage
// must have its payment settled out of band before it is reconciled.
func (e *Engine) Reconcile(ctx context.Context, id string) (owner string, err error) {
	ctx, sc := e.begin(ctx, OpReconcile, id)
	defer func() { sc.end(err) }()

	l, err := e.store.Get(ctx, id)
	if err != nil {
		return "", fail(OpReconcile, id, storeKind(err), err)
	}
	var target string
	switch l.State {
	case types.StateSold:
		target = l.Buyer
	case types.StateCancelled:
		target = l.Seller
	default:
		return "", fail(OpReconcile, id, types.ErrInvalidState, fmt.Errorf("listing is %s", l.State))
	}
	log := sc.log.WithFields(logrus.Fields{"state": l.State, "owner": target})

	// Escrow custody belongs to an active listing for the same asset, if any.
	active, err := e.store.List(ctx, types.ListingFilter{State: types.StateActive, AssetID: l.Asset.ID})
	if err != nil {
		return "", fail(OpReconcile, id, storeKind(err), err)
	}
	for _, other := range active {
		if other.ListingID != id {
			return "", fail(OpReconcile, id, types.ErrInvalidState,
				fmt.Errorf("asset %s backs active listing %s", l.Asset.ID, other.ListingID))
		}
	}

	holder, err := e.assets.QueryCustody(ctx, l.Asset)
	if err != nil {
		return "", fail(OpReconcile, id, types.ErrTransfer, err)
	}
	switch holder {
	case target:
		log.Debug("custody already attributed")
		return target, nil
	case e.cfg.EscrowAccount:
	default:
		return holder, fail(OpReconcile, id, types.ErrInvalidState,
			fmt.Errorf("asset %s is held by %s, not escrow", l.Asset.ID, holder))
	}

	if rerr := e.releaseTo(ctx, log, l.Asset, target); rerr != nil {
		log.WithError(rerr).Error("reconciliation failed")
		return holder, fail(OpReconcile, id, types.ErrTransfer, rerr)
	}
	log.Info("custody reconciled")
	return target, nil
}
