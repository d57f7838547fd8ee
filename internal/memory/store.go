// Package memory implements an in-process Escrow Store. It is the backend
// used by tests and by the CLI when backend is "memory".
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mesh-intelligence/stall/pkg/types"
)

var _ types.Store = (*Store)(nil)

// Store keeps listings, history, and the registry in maps guarded by one
// mutex. CompareAndTransition holds the mutex for the whole compare and
// write, so it is a single indivisible step.
type Store struct {
	mu          sync.Mutex
	closed      bool
	listings    map[string]*types.Listing
	history     map[string][]types.Transition
	seq         int64
	marketplace *types.Marketplace
	collections map[string]bool
	active      map[string]string // asset ID -> active listing ID
	now         func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		listings:    make(map[string]*types.Listing),
		history:     make(map[string][]types.Transition),
		collections: make(map[string]bool),
		active:      make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) appendHistoryLocked(id string, from, to types.ListingState, actor string, at time.Time) {
	s.seq++
	s.history[id] = append(s.history[id], types.Transition{
		Seq:       s.seq,
		ListingID: id,
		From:      from,
		To:        to,
		Actor:     actor,
		At:        at,
	})
}

// Create inserts an active listing.
func (s *Store) Create(ctx context.Context, l *types.Listing) error {
	if l == nil || l.ListingID == "" {
		return types.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	if _, ok := s.listings[l.ListingID]; ok {
		return types.ErrDuplicateListing
	}
	if _, ok := s.active[l.Asset.ID]; ok {
		return types.AssetListedError(l.Asset.ID)
	}
	rec := l.Clone()
	rec.State = types.StateActive
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.listings[rec.ListingID] = rec
	s.active[rec.Asset.ID] = rec.ListingID
	s.appendHistoryLocked(rec.ListingID, "", types.StateActive, rec.Seller, rec.CreatedAt)
	return nil
}

// Get returns a copy of the listing.
func (s *Store) Get(ctx context.Context, id string) (*types.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	l, ok := s.listings[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return l.Clone(), nil
}

// CompareAndTransition moves id from expected to next under the store lock.
func (s *Store) CompareAndTransition(ctx context.Context, id string, expected, next types.ListingState, actor string) (*types.Listing, error) {
	if !types.CanTransition(expected, next) {
		return nil, types.ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	l, ok := s.listings[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if l.State != expected {
		return l.Clone(), types.ErrStaleState
	}
	at := s.now()
	if err := l.Close(next, actor, at); err != nil {
		return nil, err
	}
	if s.active[l.Asset.ID] == id {
		delete(s.active, l.Asset.ID)
	}
	s.appendHistoryLocked(id, expected, next, actor, at)
	return l.Clone(), nil
}

// List returns matching listings ordered by creation time.
func (s *Store) List(ctx context.Context, filter types.ListingFilter) ([]*types.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	var out []*types.Listing
	for _, l := range s.listings {
		if filter.Match(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ListingID < out[j].ListingID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// History returns a copy of the transitions recorded for id.
func (s *Store) History(ctx context.Context, id string) ([]types.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if _, ok := s.listings[id]; !ok {
		return nil, types.ErrNotFound
	}
	h := s.history[id]
	out := make([]types.Transition, len(h))
	copy(out, h)
	return out, nil
}

// InitMarketplace stores the marketplace definition once.
func (s *Store) InitMarketplace(ctx context.Context, m types.Marketplace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	if s.marketplace != nil {
		return types.ErrAlreadyInitialized
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.marketplace = &m
	return nil
}

// GetMarketplace returns the marketplace definition.
func (s *Store) GetMarketplace(ctx context.Context) (*types.Marketplace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if s.marketplace == nil {
		return nil, types.ErrNotFound
	}
	m := *s.marketplace
	return &m, nil
}

// AddCollection whitelists key.
func (s *Store) AddCollection(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrInvalidCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	s.collections[key] = true
	return nil
}

// HasCollection reports whether key is whitelisted.
func (s *Store) HasCollection(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, types.ErrStoreClosed
	}
	return s.collections[key], nil
}

// Close marks the store closed. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
