package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order by Migrate. Every statement is
// idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		listing_id TEXT PRIMARY KEY,
		seller TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		collection TEXT NOT NULL DEFAULT '',
		amount NUMERIC(78, 0) NOT NULL,
		denom TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ,
		buyer TEXT NOT NULL DEFAULT '',
		closed_by TEXT NOT NULL DEFAULT '',
		closed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS listing_history (
		seq BIGSERIAL PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(listing_id),
		from_state TEXT NOT NULL DEFAULT '',
		to_state TEXT NOT NULL,
		actor TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS marketplace (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		name TEXT NOT NULL,
		admin TEXT NOT NULL,
		fee_bps INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS collections (
		collection_key TEXT PRIMARY KEY
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_state_created ON listings(state, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_listing_history_listing ON listing_history(listing_id, seq)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_active_asset ON listings(asset_id) WHERE state = 'active'`,
}

// Migrate applies the schema to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

const listingColumns = `listing_id, seller, asset_id, collection, amount::TEXT, denom,
	state, created_at, expires_at, buyer, closed_by, closed_at`
