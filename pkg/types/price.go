package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Price is a fixed amount in a denomination. A Payment offered by a buyer
// has the same shape and must match the listing price exactly.
type Price struct {
	Amount *uint256.Int
	Denom  string
}

// NewPrice returns a price with a uint64 amount and a normalized denomination.
func NewPrice(amount uint64, denom string) Price {
	return Price{Amount: uint256.NewInt(amount), Denom: NormalizeDenom(denom)}
}

// ParsePrice parses a decimal amount string and a denomination.
// Returns ErrInvalidPrice if the amount is not a non-negative decimal that
// fits in 256 bits.
func ParsePrice(amount, denom string) (Price, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(amount))
	if err != nil {
		return Price{}, fmt.Errorf("%w: amount %q: %v", ErrInvalidPrice, amount, err)
	}
	return Price{Amount: v, Denom: NormalizeDenom(denom)}, nil
}

// NormalizeDenom returns the canonical uppercase form of a denomination.
func NormalizeDenom(denom string) string {
	return strings.ToUpper(strings.TrimSpace(denom))
}

// Validate checks that the price has a positive amount and a denomination.
func (p Price) Validate() error {
	if p.Amount == nil || p.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPrice)
	}
	if p.Denom == "" {
		return fmt.Errorf("%w: denomination must not be empty", ErrInvalidPrice)
	}
	return nil
}

// Equal reports whether p and o have the same amount and exactly the same
// denomination. NewPrice and ParsePrice normalize the denomination, so
// prices built through them compare equal regardless of input case.
// A nil amount equals only another nil amount.
func (p Price) Equal(o Price) bool {
	if p.Denom != o.Denom {
		return false
	}
	if p.Amount == nil || o.Amount == nil {
		return p.Amount == nil && o.Amount == nil
	}
	return p.Amount.Eq(o.Amount)
}

// Clone returns a copy whose Amount does not alias p.Amount.
func (p Price) Clone() Price {
	c := Price{Denom: p.Denom}
	if p.Amount != nil {
		c.Amount = new(uint256.Int).Set(p.Amount)
	}
	return c
}

// AmountString returns the decimal amount, "0" for a nil amount.
func (p Price) AmountString() string {
	if p.Amount == nil {
		return "0"
	}
	return p.Amount.Dec()
}

func (p Price) String() string {
	return p.AmountString() + " " + p.Denom
}

// priceJSON is the wire shape of Price; the amount is a decimal string so
// values above 2^53 survive JSON consumers.
type priceJSON struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

// MarshalJSON encodes the amount as a decimal string.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceJSON{Amount: p.AmountString(), Denom: p.Denom})
}

// UnmarshalJSON decodes the shape written by MarshalJSON.
func (p *Price) UnmarshalJSON(data []byte) error {
	var raw priceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Amount == "" {
		raw.Amount = "0"
	}
	parsed, err := ParsePrice(raw.Amount, raw.Denom)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
