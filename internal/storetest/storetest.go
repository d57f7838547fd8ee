// Package storetest provides the contract test suite every Escrow Store
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stall/pkg/types"
)

// Factory returns a fresh, empty store. The factory registers its own
// cleanup.
type Factory func(t *testing.T) types.Store

// base is the creation time used by fixtures; whole seconds keep every
// backend's time encoding exact.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewListing returns an unsaved listing fixture.
func NewListing(id, seller string, offset time.Duration) *types.Listing {
	return &types.Listing{
		ListingID: id,
		Seller:    seller,
		Asset:     types.AssetRef{ID: "asset-" + id, Collection: "apes"},
		Price:     types.NewPrice(50, "SOL"),
		State:     types.StateActive,
		CreatedAt: base.Add(offset),
	}
}

// Run executes the full contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("create and get", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("create forces active", func(t *testing.T) { testCreateForcesActive(t, newStore(t)) })
	t.Run("duplicate create", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("one active listing per asset", func(t *testing.T) { testActiveAssetUnique(t, newStore(t)) })
	t.Run("asset relisted after close", func(t *testing.T) { testAssetRelist(t, newStore(t)) })
	t.Run("concurrent creates for one asset", func(t *testing.T) { testConcurrentAssetCreate(t, newStore(t)) })
	t.Run("get not found", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("transition to sold", func(t *testing.T) { testTransitionSold(t, newStore(t)) })
	t.Run("transition to cancelled", func(t *testing.T) { testTransitionCancelled(t, newStore(t)) })
	t.Run("stale transition returns current", func(t *testing.T) { testStale(t, newStore(t)) })
	t.Run("illegal edges rejected", func(t *testing.T) { testIllegalEdges(t, newStore(t)) })
	t.Run("transition not found", func(t *testing.T) { testTransitionNotFound(t, newStore(t)) })
	t.Run("concurrent transitions have one winner", func(t *testing.T) { testConcurrentWinner(t, newStore(t)) })
	t.Run("list filters and orders", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("history", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("registry", func(t *testing.T) { testRegistry(t, newStore(t)) })
	t.Run("closed store", func(t *testing.T) { testClosed(t, newStore(t)) })
}

func testCreateGet(t *testing.T, s types.Store) {
	ctx := context.Background()
	l := NewListing("l1", "alice", 0)
	exp := base.Add(time.Hour)
	l.ExpiresAt = &exp
	require.NoError(t, s.Create(ctx, l))

	got, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "l1", got.ListingID)
	assert.Equal(t, "alice", got.Seller)
	assert.Equal(t, l.Asset, got.Asset)
	assert.True(t, got.Price.Equal(l.Price), "price %s", got.Price)
	assert.Equal(t, types.StateActive, got.State)
	assert.True(t, got.CreatedAt.Equal(base), "created_at %s", got.CreatedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(exp))
	assert.Empty(t, got.Buyer)
	assert.Nil(t, got.ClosedAt)

	// The returned record is a copy.
	got.State = types.StateSold
	again, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, again.State)
}

func testCreateForcesActive(t *testing.T, s types.Store) {
	ctx := context.Background()
	l := NewListing("l1", "alice", 0)
	l.State = types.StateSold
	require.NoError(t, s.Create(ctx, l))
	got, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, got.State)
}

func testDuplicate(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))
	err := s.Create(ctx, NewListing("l1", "mallory", time.Second))
	assert.ErrorIs(t, err, types.ErrDuplicateListing)

	got, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Seller)
}

// relisting returns a fixture for id that references the asset of other.
func relisting(id, seller, other string, offset time.Duration) *types.Listing {
	l := NewListing(id, seller, offset)
	l.Asset.ID = "asset-" + other
	return l
}

func testActiveAssetUnique(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))

	err := s.Create(ctx, relisting("l2", "mallory", "l1", time.Second))
	assert.ErrorIs(t, err, types.ErrAssetListed)
	assert.ErrorIs(t, err, types.ErrDuplicateListing)

	_, err = s.Get(ctx, "l2")
	assert.ErrorIs(t, err, types.ErrNotFound)
	active, err := s.List(ctx, types.ListingFilter{State: types.StateActive, AssetID: "asset-l1"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "l1", active[0].ListingID)
	assert.Equal(t, "alice", active[0].Seller)
}

func testAssetRelist(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))
	_, err := s.CompareAndTransition(ctx, "l1", types.StateActive, types.StateCancelled, "alice")
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, relisting("l2", "alice", "l1", time.Second)))
	_, err = s.CompareAndTransition(ctx, "l2", types.StateActive, types.StateSold, "bob")
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, relisting("l3", "bob", "l1", 2*time.Second)))
	err = s.Create(ctx, relisting("l4", "bob", "l1", 3*time.Second))
	assert.ErrorIs(t, err, types.ErrAssetListed)

	all, err := s.List(ctx, types.ListingFilter{AssetID: "asset-l1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testConcurrentAssetCreate(t *testing.T, s types.Store) {
	ctx := context.Background()
	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		clashes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Create(ctx, relisting(fmt.Sprintf("c%d", i), "alice", "shared", time.Duration(i)*time.Second))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, types.ErrAssetListed):
				clashes++
			default:
				t.Errorf("create c%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, clashes)

	active, err := s.List(ctx, types.ListingFilter{State: types.StateActive, AssetID: "asset-shared"})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func testGetNotFound(t *testing.T, s types.Store) {
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testTransitionSold(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))

	got, err := s.CompareAndTransition(ctx, "l1", types.StateActive, types.StateSold, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.StateSold, got.State)
	assert.Equal(t, "bob", got.Buyer)
	assert.Equal(t, "bob", got.ClosedBy)
	require.NotNil(t, got.ClosedAt)

	stored, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, types.StateSold, stored.State)
	assert.Equal(t, "bob", stored.Buyer)
}

func testTransitionCancelled(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))

	got, err := s.CompareAndTransition(ctx, "l1", types.StateActive, types.StateCancelled, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, got.State)
	assert.Empty(t, got.Buyer)
	assert.Equal(t, "alice", got.ClosedBy)
}

func testStale(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))
	_, err := s.CompareAndTransition(ctx, "l1", types.StateActive, types.StateCancelled, "alice")
	require.NoError(t, err)

	current, err := s.CompareAndTransition(ctx, "l1", types.StateActive, types.StateSold, "bob")
	assert.ErrorIs(t, err, types.ErrStaleState)
	require.NotNil(t, current)
	assert.Equal(t, types.StateCancelled, current.State)
	assert.Empty(t, current.Buyer)
}

func testIllegalEdges(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))

	edges := [][2]types.ListingState{
		{types.StateSold, types.StateCancelled},
		{types.StateCancelled, types.StateActive},
		{types.StateSold, types.StateActive},
		{types.StateActive, types.StateActive},
	}
	for _, e := range edges {
		_, err := s.CompareAndTransition(ctx, "l1", e[0], e[1], "x")
		assert.ErrorIs(t, err, types.ErrInvalidState, "%s -> %s", e[0], e[1])
	}
	got, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, got.State)
}

func testTransitionNotFound(t *testing.T, s types.Store) {
	_, err := s.CompareAndTransition(context.Background(), "missing", types.StateActive, types.StateSold, "bob")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testConcurrentWinner(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		stale   int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			next := types.StateSold
			actor := fmt.Sprintf("buyer-%d", i)
			if i%4 == 0 {
				next = types.StateCancelled
				actor = "alice"
			}
			_, err := s.CompareAndTransition(ctx, "l1", types.StateActive, next, actor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, actor)
			case assert.ErrorIs(t, err, types.ErrStaleState):
				stale++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, stale)

	got, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.ClosedBy)

	h, err := s.History(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, h, 2, "one creation and one winning transition")
}

func testList(t *testing.T, s types.Store) {
	ctx := context.Background()
	// Insert out of order to check ordering by CreatedAt.
	require.NoError(t, s.Create(ctx, NewListing("c", "alice", 3*time.Second)))
	require.NoError(t, s.Create(ctx, NewListing("a", "alice", 1*time.Second)))
	exp := base.Add(time.Minute)
	b := NewListing("b", "bob", 2*time.Second)
	b.ExpiresAt = &exp
	require.NoError(t, s.Create(ctx, b))
	_, err := s.CompareAndTransition(ctx, "c", types.StateActive, types.StateSold, "bob")
	require.NoError(t, err)

	ids := func(ls []*types.Listing) []string {
		out := make([]string, len(ls))
		for i, l := range ls {
			out[i] = l.ListingID
		}
		return out
	}

	all, err := s.List(ctx, types.ListingFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(all))

	active, err := s.List(ctx, types.ListingFilter{State: types.StateActive})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(active))

	alice, err := s.List(ctx, types.ListingFilter{Seller: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(alice))

	expired, err := s.List(ctx, types.ListingFilter{State: types.StateActive, ExpiresBefore: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(expired))

	notYet, err := s.List(ctx, types.ListingFilter{ExpiresBefore: base})
	require.NoError(t, err)
	assert.Empty(t, notYet)

	byAsset, err := s.List(ctx, types.ListingFilter{AssetID: "asset-b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(byAsset))

	limited, err := s.List(ctx, types.ListingFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(limited))
}

func testHistory(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewListing("l1", "alice", 0)))
	_, err := s.CompareAndTransition(ctx, "l1", types.StateActive, types.StateSold, "bob")
	require.NoError(t, err)
	// A losing attempt leaves no trace.
	_, err = s.CompareAndTransition(ctx, "l1", types.StateActive, types.StateCancelled, "alice")
	require.ErrorIs(t, err, types.ErrStaleState)

	h, err := s.History(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, types.ListingState(""), h[0].From)
	assert.Equal(t, types.StateActive, h[0].To)
	assert.Equal(t, "alice", h[0].Actor)
	assert.Equal(t, types.StateActive, h[1].From)
	assert.Equal(t, types.StateSold, h[1].To)
	assert.Equal(t, "bob", h[1].Actor)
	assert.Less(t, h[0].Seq, h[1].Seq)

	_, err = s.History(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testRegistry(t *testing.T, s types.Store) {
	ctx := context.Background()
	_, err := s.GetMarketplace(ctx)
	assert.ErrorIs(t, err, types.ErrNotFound)

	m := types.Marketplace{Name: "bazaar", Admin: "root", FeeBps: 250, CreatedAt: base}
	require.NoError(t, s.InitMarketplace(ctx, m))
	assert.ErrorIs(t, s.InitMarketplace(ctx, m), types.ErrAlreadyInitialized)

	got, err := s.GetMarketplace(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bazaar", got.Name)
	assert.Equal(t, "root", got.Admin)
	assert.Equal(t, uint16(250), got.FeeBps)

	ok, err := s.HasCollection(ctx, "apes")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddCollection(ctx, "apes"))
	require.NoError(t, s.AddCollection(ctx, "apes"), "AddCollection is idempotent")
	ok, err = s.HasCollection(ctx, "apes")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testClosed(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	_, err := s.Get(ctx, "l1")
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	assert.ErrorIs(t, s.Create(ctx, NewListing("l1", "alice", 0)), types.ErrStoreClosed)
}
