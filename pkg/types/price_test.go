package types

import (
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceValidate(t *testing.T) {
	tests := []struct {
		name    string
		price   Price
		wantErr error
	}{
		{"positive amount with denom", NewPrice(50, "SOL"), nil},
		{"zero amount", NewPrice(0, "SOL"), ErrInvalidPrice},
		{"nil amount", Price{Denom: "SOL"}, ErrInvalidPrice},
		{"empty denom", NewPrice(1, "  "), ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.price.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPriceEqual(t *testing.T) {
	assert.True(t, NewPrice(50, "sol").Equal(NewPrice(50, "SOL")))
	assert.False(t, NewPrice(49, "SOL").Equal(NewPrice(50, "SOL")))
	assert.False(t, NewPrice(50, "USDC").Equal(NewPrice(50, "SOL")))
	assert.False(t, Price{Denom: "SOL"}.Equal(NewPrice(0, "SOL")))
	assert.True(t, Price{Denom: "SOL"}.Equal(Price{Denom: "SOL"}))

	raw := Price{Amount: uint256.NewInt(50), Denom: "sol"}
	assert.False(t, raw.Equal(NewPrice(50, "SOL")), "denominations compare as given")
	assert.True(t, raw.Equal(Price{Amount: uint256.NewInt(50), Denom: "sol"}))
}

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("115792089237316195423570985008687907853269984665640564039457584007913129639935", "eth")
	require.NoError(t, err)
	assert.Equal(t, "ETH", p.Denom)
	assert.Equal(t, new(uint256.Int).SetAllOne(), p.Amount)

	_, err = ParsePrice("-1", "ETH")
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = ParsePrice("12abc", "ETH")
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestPriceJSON(t *testing.T) {
	data, err := json.Marshal(NewPrice(9007199254740993, "SOL"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"9007199254740993","denom":"SOL"}`, string(data))

	var p Price
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"42","denom":"usdc"}`), &p))
	assert.True(t, p.Equal(NewPrice(42, "USDC")))

	assert.Error(t, json.Unmarshal([]byte(`{"amount":"x","denom":"usdc"}`), &p))
}
