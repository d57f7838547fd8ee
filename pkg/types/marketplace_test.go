package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketplaceValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Marketplace
		wantErr error
	}{
		{"three chars is too short", Marketplace{Name: "abc", Admin: "root"}, ErrInvalidName},
		{"four chars is accepted", Marketplace{Name: "abcd", Admin: "root"}, nil},
		{"thirty two chars is accepted", Marketplace{Name: strings.Repeat("x", 32), Admin: "root"}, nil},
		{"thirty three chars is too long", Marketplace{Name: strings.Repeat("x", 33), Admin: "root"}, ErrInvalidName},
		{"fee above 100 percent", Marketplace{Name: "bazaar", Admin: "root", FeeBps: 10_001}, ErrInvalidFee},
		{"missing admin", Marketplace{Name: "bazaar"}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
