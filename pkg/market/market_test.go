package market

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stall/internal/ledger"
	"github.com/mesh-intelligence/stall/internal/memory"
	"github.com/mesh-intelligence/stall/pkg/types"
)

func newMarket(t *testing.T) (*Market, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	m, err := New(store, l, l, types.Config{Backend: types.BackendMemory})
	require.NoError(t, err)
	return m, l
}

func TestTwoBuyersOneWinner(t *testing.T) {
	m, l := newMarket(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ledger.Asset{ID: "A", Owner: "S"}))
	require.NoError(t, l.Credit("B1", types.NewPrice(50, "SOL")))
	require.NoError(t, l.Credit("B2", types.NewPrice(50, "SOL")))

	id, err := m.OpenListing(ctx, "S", types.AssetRef{ID: "A"}, types.NewPrice(50, "SOL"))
	require.NoError(t, err)

	errs := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, b := range []string{"B1", "B2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.PurchaseListing(ctx, id, b, types.NewPrice(50, "SOL"))
			mu.Lock()
			errs[b] = err
			mu.Unlock()
		}()
	}
	wg.Wait()

	var winner, loser string
	switch {
	case errs["B1"] == nil && errs["B2"] != nil:
		winner, loser = "B1", "B2"
	case errs["B2"] == nil && errs["B1"] != nil:
		winner, loser = "B2", "B1"
	default:
		t.Fatalf("want exactly one winner, got B1=%v B2=%v", errs["B1"], errs["B2"])
	}
	assert.ErrorIs(t, errs[loser], types.ErrAlreadySold)

	owner, err := l.QueryCustody(ctx, types.AssetRef{ID: "A"})
	require.NoError(t, err)
	assert.Equal(t, winner, owner)
	assert.True(t, l.Balance(winner, "SOL").Equal(types.NewPrice(0, "SOL")))
	assert.True(t, l.Balance(loser, "SOL").Equal(types.NewPrice(50, "SOL")))
	assert.True(t, l.Balance("S", "SOL").Equal(types.NewPrice(50, "SOL")))

	view, err := m.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateSold, view.State)
	assert.Equal(t, winner, view.Buyer)
}

func TestOpenCancelRoundTrip(t *testing.T) {
	m, l := newMarket(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ledger.Asset{ID: "A", Owner: "S"}))

	id, err := m.OpenListing(ctx, "S", types.AssetRef{ID: "A"}, types.NewPrice(100, "SOL"))
	require.NoError(t, err)
	require.NoError(t, m.CancelListing(ctx, id, "S"))
	assert.ErrorIs(t, m.CancelListing(ctx, id, "S"), types.ErrInvalidState)

	owner, err := l.QueryCustody(ctx, types.AssetRef{ID: "A"})
	require.NoError(t, err)
	assert.Equal(t, "S", owner)

	hist, err := m.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, types.StateCancelled, hist[1].To)
}

func TestSecondListingOfEscrowedAssetRejected(t *testing.T) {
	m, l := newMarket(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ledger.Asset{ID: "A", Owner: "S"}))
	require.NoError(t, l.Credit("B", types.NewPrice(50, "SOL")))

	id, err := m.OpenListing(ctx, "S", types.AssetRef{ID: "A"}, types.NewPrice(50, "SOL"))
	require.NoError(t, err)

	_, err = m.OpenListing(ctx, "MALLORY", types.AssetRef{ID: "A"}, types.NewPrice(1, "SOL"))
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	owner, err := l.QueryCustody(ctx, types.AssetRef{ID: "A"})
	require.NoError(t, err)
	assert.Equal(t, "escrow", owner)

	view, err := m.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, view.State)

	require.NoError(t, m.PurchaseListing(ctx, id, "B", types.NewPrice(50, "SOL")))
	owner, err = l.QueryCustody(ctx, types.AssetRef{ID: "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", owner)
}

func TestGetListingNotFound(t *testing.T) {
	m, _ := newMarket(t)
	_, err := m.GetListing(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, types.ErrNotFound, types.Kind(err))

	_, err = m.History(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetListingReturnsCopy(t *testing.T) {
	m, l := newMarket(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ledger.Asset{ID: "A", Owner: "S"}))
	id, err := m.OpenListing(ctx, "S", types.AssetRef{ID: "A"}, types.NewPrice(1, "SOL"))
	require.NoError(t, err)

	view, err := m.GetListing(ctx, id)
	require.NoError(t, err)
	view.State = types.StateSold
	view.Price.Amount.SetUint64(999)

	again, err := m.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, again.State)
	assert.True(t, again.Price.Equal(types.NewPrice(1, "SOL")))
}

func TestListListingsFilters(t *testing.T) {
	m, l := newMarket(t)
	ctx := context.Background()
	for _, a := range []string{"A", "B", "C"} {
		require.NoError(t, l.Mint(ledger.Asset{ID: a, Owner: "S"}))
		_, err := m.OpenListing(ctx, "S", types.AssetRef{ID: a}, types.NewPrice(1, "SOL"))
		require.NoError(t, err)
	}
	all, err := m.ListListings(ctx, types.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NoError(t, m.CancelListing(ctx, all[0].ListingID, "S"))

	active, err := m.ListListings(ctx, types.ListingFilter{State: types.StateActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestAdministration(t *testing.T) {
	m, _ := newMarket(t)
	ctx := context.Background()

	def, err := m.Initialize(ctx, "admin", "stall-market", 250)
	require.NoError(t, err)
	assert.Equal(t, "stall-market", def.Name)
	require.NoError(t, m.AddCollection(ctx, "admin", "apes"))

	got, err := m.Marketplace(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(250), got.FeeBps)
	assert.Equal(t, "escrow", m.Config().EscrowAccount)
	assert.NotNil(t, m.Sweeper())
}
