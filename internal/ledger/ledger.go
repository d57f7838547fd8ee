// Package ledger is a local asset custody and payment ledger. It stands in
// for the external asset ledger so the escrow engine can run end to end
// from the CLI and from tests.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/mesh-intelligence/stall/pkg/types"
)

// Ledger errors.
var (
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrAssetExists       = errors.New("asset already minted")
	ErrNotOwner          = errors.New("account does not hold the asset")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("balance overflow")
)

var (
	_ types.AssetLedger        = (*Ledger)(nil)
	_ types.PaymentCapturer    = (*Ledger)(nil)
	_ types.CollectionResolver = (*Ledger)(nil)
)

// Asset is one unit tracked by the ledger.
type Asset struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Collection string `json:"collection,omitempty"`
	Verified   bool   `json:"verified,omitempty"`
}

// Balance is an account's holding of one denomination.
type Balance struct {
	Account string      `json:"account"`
	Amount  types.Price `json:"amount"`
}

// Ledger keeps asset custody and balances in memory.
type Ledger struct {
	mu       sync.Mutex
	assets   map[string]*Asset
	balances map[string]map[string]*uint256.Int // account -> denom -> amount
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		assets:   make(map[string]*Asset),
		balances: make(map[string]map[string]*uint256.Int),
	}
}

// Mint creates an asset held by owner.
func (l *Ledger) Mint(asset Asset) error {
	if asset.ID == "" || asset.Owner == "" {
		return types.ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.assets[asset.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.ID)
	}
	a := asset
	l.assets[a.ID] = &a
	return nil
}

// Credit adds amount to the account's balance.
func (l *Ledger) Credit(account string, amount types.Price) error {
	if account == "" {
		return types.ErrInvalidArgument
	}
	if err := amount.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(account, types.NormalizeDenom(amount.Denom), amount.Amount)
}

// Balance returns the account's balance in denom.
func (l *Ledger) Balance(account, denom string) types.Price {
	l.mu.Lock()
	defer l.mu.Unlock()
	denom = types.NormalizeDenom(denom)
	out := types.Price{Amount: new(uint256.Int), Denom: denom}
	if v, ok := l.balances[account][denom]; ok {
		out.Amount.Set(v)
	}
	return out
}

func (l *Ledger) addLocked(account, denom string, amount *uint256.Int) error {
	byDenom, ok := l.balances[account]
	if !ok {
		byDenom = make(map[string]*uint256.Int)
		l.balances[account] = byDenom
	}
	cur, ok := byDenom[denom]
	if !ok {
		cur = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return ErrOverflow
	}
	byDenom[denom] = sum
	return nil
}

// TransferCustody moves the asset from one account to another. It is
// idempotent: an asset already held by to is left alone.
func (l *Ledger) TransferCustody(ctx context.Context, asset types.AssetRef, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.assets[asset.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset.ID)
	}
	if a.Owner == to {
		return nil
	}
	if a.Owner != from {
		return fmt.Errorf("%w: %s held by %s, not %s", ErrNotOwner, asset.ID, a.Owner, from)
	}
	a.Owner = to
	return nil
}

// QueryCustody returns the account currently holding the asset.
func (l *Ledger) QueryCustody(ctx context.Context, asset types.AssetRef) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.assets[asset.ID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, asset.ID)
	}
	return a.Owner, nil
}

// AssetCollection reports the collection recorded for the asset at mint.
func (l *Ledger) AssetCollection(ctx context.Context, asset types.AssetRef) (types.Collection, error) {
	if err := ctx.Err(); err != nil {
		return types.Collection{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.assets[asset.ID]
	if !ok {
		return types.Collection{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.ID)
	}
	return types.Collection{Key: a.Collection, Verified: a.Verified}, nil
}

// Capture debits payment from one account and credits it to another as a
// single step.
func (l *Ledger) Capture(ctx context.Context, payment types.Price, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := payment.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	denom := types.NormalizeDenom(payment.Denom)
	bal, ok := l.balances[from][denom]
	if !ok || bal.Lt(payment.Amount) {
		return fmt.Errorf("%w: %s has less than %s", ErrInsufficientFunds, from, payment)
	}
	if from == to {
		return nil
	}
	if err := l.addLocked(to, denom, payment.Amount); err != nil {
		return err
	}
	l.balances[from][denom] = new(uint256.Int).Sub(bal, payment.Amount)
	return nil
}

// Assets returns a copy of every asset ordered by ID.
func (l *Ledger) Assets() []Asset {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Asset, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Balances returns every non-empty balance ordered by account and denom.
func (l *Ledger) Balances() []Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Balance
	for account, byDenom := range l.balances {
		for denom, amt := range byDenom {
			out = append(out, Balance{
				Account: account,
				Amount:  types.Price{Amount: new(uint256.Int).Set(amt), Denom: denom},
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account == out[j].Account {
			return out[i].Amount.Denom < out[j].Amount.Denom
		}
		return out[i].Account < out[j].Account
	})
	return out
}
