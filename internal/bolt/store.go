// Package bolt implements the Escrow Store on a single bbolt file.
// Listings are JSON documents keyed by listing ID; each listing has a
// nested history bucket keyed by a big-endian sequence number.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mesh-intelligence/stall/pkg/types"
)

// DBFile is the database file name inside the data directory.
const DBFile = "stall.bolt"

var (
	bucketListings    = []byte("listings")
	bucketHistory     = []byte("history")
	bucketMeta        = []byte("meta")
	bucketCollections = []byte("collections")
	bucketActive      = []byte("active_assets")

	keyMarketplace = []byte("marketplace")
)

var _ types.Store = (*Store)(nil)

// Store persists listings in bbolt. Writes run inside db.Update, which
// bbolt serializes, so CompareAndTransition is one indivisible step.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
	now    func() time.Time
}

// Open creates dataDir if needed and opens (or migrates) the database.
func Open(dataDir string, options *bolt.Options) (*Store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(filepath.Join(dataDir, DBFile), 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketListings, bucketHistory, bucketMeta, bucketCollections, bucketActive} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	return s.db.Update(fn)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func getListing(tx *bolt.Tx, id string) (*types.Listing, error) {
	raw := tx.Bucket(bucketListings).Get([]byte(id))
	if raw == nil {
		return nil, types.ErrNotFound
	}
	var l types.Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decoding listing %s: %w", id, err)
	}
	return &l, nil
}

func putListing(tx *bolt.Tx, l *types.Listing) error {
	encoded, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketListings).Put([]byte(l.ListingID), encoded)
}

func appendHistory(tx *bolt.Tx, id string, from, to types.ListingState, actor string, at time.Time) error {
	root := tx.Bucket(bucketHistory)
	seq, err := root.NextSequence()
	if err != nil {
		return err
	}
	b, err := root.CreateBucketIfNotExists([]byte(id))
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(types.Transition{
		Seq:       int64(seq),
		ListingID: id,
		From:      from,
		To:        to,
		Actor:     actor,
		At:        at,
	})
	if err != nil {
		return err
	}
	return b.Put(itob(seq), encoded)
}

// Create inserts an active listing and its creation transition.
func (s *Store) Create(ctx context.Context, l *types.Listing) error {
	if l == nil || l.ListingID == "" {
		return types.ErrInvalidArgument
	}
	rec := l.Clone()
	rec.State = types.StateActive
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	return s.update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketListings).Get([]byte(rec.ListingID)) != nil {
			return types.ErrDuplicateListing
		}
		active := tx.Bucket(bucketActive)
		if active.Get([]byte(rec.Asset.ID)) != nil {
			return types.AssetListedError(rec.Asset.ID)
		}
		if err := active.Put([]byte(rec.Asset.ID), []byte(rec.ListingID)); err != nil {
			return err
		}
		if err := putListing(tx, rec); err != nil {
			return err
		}
		return appendHistory(tx, rec.ListingID, "", types.StateActive, rec.Seller, rec.CreatedAt)
	})
}

// Get returns the current record.
func (s *Store) Get(ctx context.Context, id string) (*types.Listing, error) {
	var out *types.Listing
	err := s.view(func(tx *bolt.Tx) error {
		l, err := getListing(tx, id)
		out = l
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// errStale carries the current record out of a rolled-back update.
type errStale struct{ current *types.Listing }

func (e *errStale) Error() string { return types.ErrStaleState.Error() }

// CompareAndTransition reads, compares, and writes inside one bbolt update.
func (s *Store) CompareAndTransition(ctx context.Context, id string, expected, next types.ListingState, actor string) (*types.Listing, error) {
	if !types.CanTransition(expected, next) {
		return nil, types.ErrInvalidState
	}
	var out *types.Listing
	err := s.update(func(tx *bolt.Tx) error {
		l, err := getListing(tx, id)
		if err != nil {
			return err
		}
		if l.State != expected {
			return &errStale{current: l}
		}
		at := s.now()
		if err := l.Close(next, actor, at); err != nil {
			return err
		}
		active := tx.Bucket(bucketActive)
		if string(active.Get([]byte(l.Asset.ID))) == id {
			if err := active.Delete([]byte(l.Asset.ID)); err != nil {
				return err
			}
		}
		if err := putListing(tx, l); err != nil {
			return err
		}
		if err := appendHistory(tx, id, expected, next, actor, at); err != nil {
			return err
		}
		out = l
		return nil
	})
	var stale *errStale
	if errors.As(err, &stale) {
		return stale.current, types.ErrStaleState
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List scans the listings bucket and returns matches ordered by creation
// time.
func (s *Store) List(ctx context.Context, filter types.ListingFilter) ([]*types.Listing, error) {
	var out []*types.Listing
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketListings).ForEach(func(k, v []byte) error {
			var l types.Listing
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("decoding listing %s: %w", k, err)
			}
			if filter.Match(&l) {
				out = append(out, &l)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
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

// History returns the transitions of id in sequence order.
func (s *Store) History(ctx context.Context, id string) ([]types.Transition, error) {
	var out []types.Transition
	err := s.view(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketListings).Get([]byte(id)) == nil {
			return types.ErrNotFound
		}
		b := tx.Bucket(bucketHistory).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var tr types.Transition
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			out = append(out, tr)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InitMarketplace stores the marketplace definition once.
func (s *Store) InitMarketplace(ctx context.Context, m types.Marketplace) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	return s.update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyMarketplace) != nil {
			return types.ErrAlreadyInitialized
		}
		encoded, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return meta.Put(keyMarketplace, encoded)
	})
}

// GetMarketplace returns the marketplace definition or ErrNotFound.
func (s *Store) GetMarketplace(ctx context.Context) (*types.Marketplace, error) {
	var m types.Marketplace
	err := s.view(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyMarketplace)
		if raw == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(raw, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddCollection whitelists key. Idempotent.
func (s *Store) AddCollection(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrInvalidCollection
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollections).Put([]byte(key), []byte{1})
	})
}

// HasCollection reports whether key is whitelisted.
func (s *Store) HasCollection(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.view(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketCollections).Get([]byte(key)) != nil
		return nil
	})
	return ok, err
}
