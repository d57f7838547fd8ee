package sqlite

import "time"

// timeLayout stores times in UTC with fixed-width nanoseconds so that
// lexical order on the TEXT columns matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const listingColumns = `listing_id, seller, asset_id, collection, amount, denom,
    state, created_at, expires_at, buyer, closed_by, closed_at`

const (
	insertListing = `INSERT INTO listings (` + listingColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectListing = `SELECT ` + listingColumns + ` FROM listings WHERE listing_id = ?`

	transitionListing = `UPDATE listings
    SET state = ?, buyer = ?, closed_by = ?, closed_at = ?
    WHERE listing_id = ? AND state = ?`

	insertHistory = `INSERT INTO listing_history (listing_id, from_state, to_state, actor, at)
    VALUES (?, ?, ?, ?, ?)`

	selectHistory = `SELECT seq, listing_id, from_state, to_state, actor, at
    FROM listing_history WHERE listing_id = ? ORDER BY seq`

	listingExists = `SELECT 1 FROM listings WHERE listing_id = ?`

	activeAssetExists = `SELECT 1 FROM listings WHERE asset_id = ? AND state = 'active'`

	insertMarketplace = `INSERT INTO marketplace (id, name, admin, fee_bps, created_at)
    VALUES (1, ?, ?, ?, ?)`

	selectMarketplace = `SELECT name, admin, fee_bps, created_at FROM marketplace WHERE id = 1`

	insertCollection = `INSERT OR IGNORE INTO collections (collection_key) VALUES (?)`

	selectCollection = `SELECT 1 FROM collections WHERE collection_key = ?`
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
