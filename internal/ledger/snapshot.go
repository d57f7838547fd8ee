package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/mesh-intelligence/stall/internal/jsonl"
)

// record is one line of a ledger snapshot file.
type record struct {
	Kind    string   `json:"kind"`
	Asset   *Asset   `json:"asset,omitempty"`
	Balance *Balance `json:"balance,omitempty"`
}

const (
	kindAsset   = "asset"
	kindBalance = "balance"
)

// Save writes the ledger to path as JSON Lines, atomically.
func (l *Ledger) Save(path string) error {
	var recs []record
	for _, a := range l.Assets() {
		a := a
		recs = append(recs, record{Kind: kindAsset, Asset: &a})
	}
	for _, b := range l.Balances() {
		b := b
		recs = append(recs, record{Kind: kindBalance, Balance: &b})
	}
	return jsonl.WriteValues(path, recs)
}

// Load reads a snapshot written by Save. A missing file yields an empty
// ledger; a corrupt line fails the load rather than dropping custody.
func Load(path string) (*Ledger, error) {
	recs, err := jsonl.ReadValuesStrict[record](path)
	if err != nil {
		return nil, err
	}
	l := New()
	for i, r := range recs {
		switch r.Kind {
		case kindAsset:
			if r.Asset == nil {
				return nil, fmt.Errorf("snapshot %s record %d: missing asset", path, i)
			}
			a := *r.Asset
			l.assets[a.ID] = &a
		case kindBalance:
			if r.Balance == nil || r.Balance.Amount.Amount == nil {
				return nil, fmt.Errorf("snapshot %s record %d: missing balance", path, i)
			}
			if err := l.addLocked(r.Balance.Account, r.Balance.Amount.Denom,
				new(uint256.Int).Set(r.Balance.Amount.Amount)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("snapshot %s record %d: unknown kind %q", path, i, r.Kind)
		}
	}
	return l, nil
}
