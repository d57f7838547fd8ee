package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingClose(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name      string
		initial   ListingState
		target    ListingState
		wantErr   error
		wantBuyer string
	}{
		{
			name:      "active to sold records buyer",
			initial:   StateActive,
			target:    StateSold,
			wantBuyer: "bob",
		},
		{
			name:    "active to cancelled",
			initial: StateActive,
			target:  StateCancelled,
		},
		{
			name:    "sold is terminal",
			initial: StateSold,
			target:  StateCancelled,
			wantErr: ErrInvalidState,
		},
		{
			name:    "cancelled is terminal",
			initial: StateCancelled,
			target:  StateSold,
			wantErr: ErrInvalidState,
		},
		{
			name:    "active cannot re-enter active",
			initial: StateActive,
			target:  StateActive,
			wantErr: ErrInvalidState,
		},
		{
			name:    "unknown target rejected",
			initial: StateActive,
			target:  "expired",
			wantErr: ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Listing{ListingID: "l1", Seller: "alice", State: tt.initial}
			err := l.Close(tt.target, "bob", at)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.initial, l.State, "state must not change on error")
				assert.Nil(t, l.ClosedAt)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, l.State)
			assert.Equal(t, tt.wantBuyer, l.Buyer)
			assert.Equal(t, "bob", l.ClosedBy)
			require.NotNil(t, l.ClosedAt)
			assert.True(t, at.Equal(*l.ClosedAt))
		})
	}
}

func TestListingStateHelpers(t *testing.T) {
	assert.True(t, StateActive.Valid())
	assert.False(t, ListingState("created").Valid())
	assert.False(t, StateActive.Terminal())
	assert.True(t, StateSold.Terminal())
	assert.True(t, StateCancelled.Terminal())

	st, err := ParseListingState("sold")
	require.NoError(t, err)
	assert.Equal(t, StateSold, st)

	_, err = ParseListingState("bogus")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestListingCloneIsDeep(t *testing.T) {
	exp := time.Now().UTC()
	orig := &Listing{
		ListingID: "l1",
		Seller:    "alice",
		Asset:     AssetRef{ID: "nft-1"},
		Price:     NewPrice(50, "sol"),
		State:     StateActive,
		ExpiresAt: &exp,
	}
	c := orig.Clone()
	c.Price.Amount.SetUint64(1)
	*c.ExpiresAt = exp.Add(time.Hour)
	c.State = StateSold

	assert.Equal(t, uint64(50), orig.Price.Amount.Uint64())
	assert.True(t, orig.ExpiresAt.Equal(exp))
	assert.Equal(t, StateActive, orig.State)

	var nilListing *Listing
	assert.Nil(t, nilListing.Clone())
}

func TestListingFilterMatch(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	expired := &Listing{Seller: "alice", State: StateActive, ExpiresAt: &past}
	fresh := &Listing{Seller: "bob", State: StateActive, ExpiresAt: &future}
	noExpiry := &Listing{Seller: "alice", State: StateSold}

	tests := []struct {
		name   string
		filter ListingFilter
		want   []bool // expired, fresh, noExpiry
	}{
		{"empty filter matches all", ListingFilter{}, []bool{true, true, true}},
		{"state filter", ListingFilter{State: StateActive}, []bool{true, true, false}},
		{"seller filter", ListingFilter{Seller: "alice"}, []bool{true, false, true}},
		{"expires before now", ListingFilter{ExpiresBefore: now}, []bool{true, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []bool{tt.filter.Match(expired), tt.filter.Match(fresh), tt.filter.Match(noExpiry)}
			assert.Equal(t, tt.want, got)
		})
	}
}
