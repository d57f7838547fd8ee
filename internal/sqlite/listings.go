package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/stall/pkg/types"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanListing hydrates a listing from a row selected with listingColumns.
func scanListing(row rowScanner) (*types.Listing, error) {
	var (
		l                   types.Listing
		assetID, collection string
		amount, denom       string
		state, created      string
		expires, closedAt   sql.NullString
		buyer, closedBy     string
	)
	if err := row.Scan(&l.ListingID, &l.Seller, &assetID, &collection, &amount, &denom,
		&state, &created, &expires, &buyer, &closedBy, &closedAt); err != nil {
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
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("listing %s: created_at: %w", l.ListingID, err)
	}
	if expires.Valid {
		t, err := parseTime(expires.String)
		if err != nil {
			return nil, fmt.Errorf("listing %s: expires_at: %w", l.ListingID, err)
		}
		l.ExpiresAt = &t
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("listing %s: closed_at: %w", l.ListingID, err)
		}
		l.ClosedAt = &t
	}
	l.Buyer = buyer
	l.ClosedBy = closedBy
	return &l, nil
}

// Create inserts an active listing and its creation transition.
func (b *Backend) Create(ctx context.Context, l *types.Listing) error {
	if l == nil || l.ListingID == "" {
		return types.ErrInvalidArgument
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec := l.Clone()
	rec.State = types.StateActive
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = b.now()
	}
	var expires sql.NullString
	if rec.ExpiresAt != nil {
		expires = sql.NullString{String: formatTime(*rec.ExpiresAt), Valid: true}
	}
	created := formatTime(rec.CreatedAt)

	return b.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, listingExists, rec.ListingID).Scan(&one)
		if err == nil {
			return types.ErrDuplicateListing
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking listing %s: %w", rec.ListingID, err)
		}
		err = tx.QueryRowContext(ctx, activeAssetExists, rec.Asset.ID).Scan(&one)
		if err == nil {
			return types.AssetListedError(rec.Asset.ID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking asset %s: %w", rec.Asset.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insertListing,
			rec.ListingID, rec.Seller, rec.Asset.ID, rec.Asset.Collection,
			rec.Price.AmountString(), rec.Price.Denom, string(rec.State),
			created, expires, "", "", nil,
		); err != nil {
			return fmt.Errorf("inserting listing %s: %w", rec.ListingID, err)
		}
		if _, err := tx.ExecContext(ctx, insertHistory,
			rec.ListingID, "", string(types.StateActive), rec.Seller, created,
		); err != nil {
			return fmt.Errorf("recording creation of %s: %w", rec.ListingID, err)
		}
		return nil
	})
}

// Get returns the current record.
func (b *Backend) Get(ctx context.Context, id string) (*types.Listing, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	l, err := scanListing(db.QueryRowContext(ctx, selectListing, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading listing %s: %w", id, err)
	}
	return l, nil
}

// CompareAndTransition issues a conditional UPDATE guarded by the expected
// state. When no row changes, the current record decides between
// ErrNotFound and ErrStaleState.
func (b *Backend) CompareAndTransition(ctx context.Context, id string, expected, next types.ListingState, actor string) (*types.Listing, error) {
	if !types.CanTransition(expected, next) {
		return nil, types.ErrInvalidState
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	at := formatTime(b.now())
	buyer := ""
	if next == types.StateSold {
		buyer = actor
	}

	var out *types.Listing
	var stale bool
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, transitionListing,
			string(next), buyer, actor, at, id, string(expected))
		if err != nil {
			return fmt.Errorf("transitioning listing %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transitioning listing %s: %w", id, err)
		}
		if n == 1 {
			if _, err := tx.ExecContext(ctx, insertHistory,
				id, string(expected), string(next), actor, at); err != nil {
				return fmt.Errorf("recording transition of %s: %w", id, err)
			}
		} else {
			stale = true
		}
		cur, err := scanListing(tx.QueryRowContext(ctx, selectListing, id))
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading listing %s: %w", id, err)
		}
		out = cur
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
func (b *Backend) List(ctx context.Context, filter types.ListingFilter) ([]*types.Listing, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Seller != "" {
		where = append(where, "seller = ?")
		args = append(args, filter.Seller)
	}
	if filter.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	if !filter.ExpiresBefore.IsZero() {
		where = append(where, "expires_at IS NOT NULL AND expires_at <= ?")
		args = append(args, formatTime(filter.ExpiresBefore))
	}
	query := "SELECT " + listingColumns + " FROM listings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, listing_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
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

// History returns the transitions of id ordered by sequence.
func (b *Backend) History(ctx context.Context, id string) ([]types.Transition, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	var one int
	err = db.QueryRowContext(ctx, listingExists, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking listing %s: %w", id, err)
	}

	rows, err := db.QueryContext(ctx, selectHistory, id)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var out []types.Transition
	for rows.Next() {
		var (
			tr       types.Transition
			from, to string
			at       string
		)
		if err := rows.Scan(&tr.Seq, &tr.ListingID, &from, &to, &tr.Actor, &at); err != nil {
			return nil, err
		}
		tr.From = types.ListingState(from)
		tr.To = types.ListingState(to)
		if tr.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("history of %s: %w", id, err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
