// Package postgres implements the Escrow Store on PostgreSQL via lib/pq.
// CompareAndTransition is a single UPDATE ... WHERE state = $expected,
// which PostgreSQL re-evaluates after acquiring the row lock, so exactly
// one concurrent caller observes an affected row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/mesh-intelligence/stall/pkg/types"
)

var _ types.Store = (*Store)(nil)

// Store implements types.Store backed by PostgreSQL.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
	now    func() time.Time
}

// New creates a Store using the provided database handle. The schema is
// not applied; call Migrate first.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects to dsn, verifies the connection, and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close closes the database handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) conn() (*sql.DB, error) {
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	return s.db, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*types.Listing, error) {
	var (
		l                   types.Listing
		assetID, collection string
		amount, denom       string
		state               string
		expires, closedAt   sql.NullTime
	)
	if err := row.Scan(&l.ListingID, &l.Seller, &assetID, &collection, &amount, &denom,
		&state, &l.CreatedAt, &expires, &l.Buyer, &l.ClosedBy, &closedAt); err != nil {
		return nil, err
	}
	l.Asset = types.AssetRef{ID: assetID, Collection: collection}
	price, err := types.ParsePrice(amount, denom)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", l.ListingID, err)
	}
	l.Price = price
	if l.State, err = types.ParseListingState(state); err != nil {
		return nil, fmt.Errorf("listing %s: state %q: %w", l.ListingID, state, err)
	}
	l.CreatedAt = l.CreatedAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		l.ExpiresAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		l.ClosedAt = &t
	}
	return &l, nil
}

// Create inserts an active listing and its creation transition.
func (s *Store) Create(ctx context.Context, l *types.Listing) error {
	if l == nil || l.ListingID == "" {
		return types.ErrInvalidArgument
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := l.Clone()
	rec.State = types.StateActive
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	var expires sql.NullTime
	if rec.ExpiresAt != nil {
		expires = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO listings (listing_id, seller, asset_id, collection, amount, denom, state, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT DO NOTHING
		`, rec.ListingID, rec.Seller, rec.Asset.ID, rec.Asset.Collection,
			rec.Price.AmountString(), rec.Price.Denom, string(rec.State), rec.CreatedAt.UTC(), expires)
		if err != nil {
			return fmt.Errorf("inserting listing %s: %w", rec.ListingID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("inserting listing %s: %w", rec.ListingID, err)
		}
		if n == 0 {
			// Either the ID or the active-asset index rejected the row.
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM listings WHERE listing_id = $1`, rec.ListingID).Scan(&one)
			switch {
			case err == nil:
				return types.ErrDuplicateListing
			case errors.Is(err, sql.ErrNoRows):
				return types.AssetListedError(rec.Asset.ID)
			default:
				return fmt.Errorf("checking listing %s: %w", rec.ListingID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO listing_history (listing_id, from_state, to_state, actor, at)
			VALUES ($1, $2, $3, $4, $5)
		`, rec.ListingID, "", string(types.StateActive), rec.Seller, rec.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("recording creation of %s: %w", rec.ListingID, err)
		}
		return nil
	})
}

// Get returns the current record.
func (s *Store) Get(ctx context.Context, id string) (*types.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	l, err := scanListing(db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE listing_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading listing %s: %w", id, err)
	}
	return l, nil
}

// CompareAndTransition moves id from expected to next with a conditional
// UPDATE ... RETURNING and records the transition in the same transaction.
func (s *Store) CompareAndTransition(ctx context.Context, id string, expected, next types.ListingState, actor string) (*types.Listing, error) {
	if !types.CanTransition(expected, next) {
		return nil, types.ErrInvalidState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := s.now()
	buyer := ""
	if next == types.StateSold {
		buyer = actor
	}

	var (
		out   *types.Listing
		stale bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		l, err := scanListing(tx.QueryRowContext(ctx, `
			UPDATE listings
			SET state = $1, buyer = $2, closed_by = $3, closed_at = $4
			WHERE listing_id = $5 AND state = $6
			RETURNING `+listingColumns,
			string(next), buyer, actor, at, id, string(expected)))
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO listing_history (listing_id, from_state, to_state, actor, at)
				VALUES ($1, $2, $3, $4, $5)
			`, id, string(expected), string(next), actor, at); err != nil {
				return fmt.Errorf("recording transition of %s: %w", id, err)
			}
			out = l
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("transitioning listing %s: %w", id, err)
		}

		cur, err := scanListing(tx.QueryRowContext(ctx,
			`SELECT `+listingColumns+` FROM listings WHERE listing_id = $1`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading listing %s: %w", id, err)
		}
		out, stale = cur, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stale {
		return out, types.ErrStaleState
	}
	return out, nil
}

// List returns matching listings ordered by creation time.
func (s *Store) List(ctx context.Context, filter types.ListingFilter) ([]*types.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.State != "" {
		where = append(where, "state = "+arg(string(filter.State)))
	}
	if filter.Seller != "" {
		where = append(where, "seller = "+arg(filter.Seller))
	}
	if filter.AssetID != "" {
		where = append(where, "asset_id = "+arg(filter.AssetID))
	}
	if !filter.ExpiresBefore.IsZero() {
		where = append(where, "expires_at IS NOT NULL AND expires_at <= "+arg(filter.ExpiresBefore.UTC()))
	}
	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, listing_id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing query: %w", err)
	}
	defer rows.Close()

	var out []*types.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// History returns the transitions of id in sequence order.
func (s *Store) History(ctx context.Context, id string) ([]types.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE listing_id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking listing %s: %w", id, err)
	}
	if !exists {
		return nil, types.ErrNotFound
	}

	rows, err := db.QueryContext(ctx, `
		SELECT seq, listing_id, from_state, to_state, actor, at
		FROM listing_history
		WHERE listing_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var out []types.Transition
	for rows.Next() {
		var (
			tr       types.Transition
			from, to string
		)
		if err := rows.Scan(&tr.Seq, &tr.ListingID, &from, &to, &tr.Actor, &tr.At); err != nil {
			return nil, err
		}
		tr.From = types.ListingState(from)
		tr.To = types.ListingState(to)
		tr.At = tr.At.UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

// InitMarketplace stores the marketplace definition once.
func (s *Store) InitMarketplace(ctx context.Context, m types.Marketplace) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO marketplace (id, name, admin, fee_bps, created_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, m.Name, m.Admin, int(m.FeeBps), m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting marketplace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrAlreadyInitialized
	}
	return nil
}

// GetMarketplace returns the marketplace definition or ErrNotFound.
func (s *Store) GetMarketplace(ctx context.Context) (*types.Marketplace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var (
		m   types.Marketplace
		fee int
	)
	err = db.QueryRowContext(ctx,
		`SELECT name, admin, fee_bps, created_at FROM marketplace WHERE id = 1`).
		Scan(&m.Name, &m.Admin, &fee, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading marketplace: %w", err)
	}
	m.FeeBps = uint16(fee)
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// AddCollection whitelists key. Idempotent.
func (s *Store) AddCollection(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrInvalidCollection
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO collections (collection_key) VALUES ($1) ON CONFLICT DO NOTHING`, key); err != nil {
		return fmt.Errorf("adding collection %s: %w", key, err)
	}
	return nil
}

// HasCollection reports whether key is whitelisted.
func (s *Store) HasCollection(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM collections WHERE collection_key = $1)`, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking collection %s: %w", key, err)
	}
	return exists, nil
}
