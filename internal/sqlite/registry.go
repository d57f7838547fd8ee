package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/stall/pkg/types"
)

// InitMarketplace stores the marketplace definition once.
func (b *Backend) InitMarketplace(ctx context.Context, m types.Marketplace) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = b.now()
	}
	return b.withTx(ctx, func(tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx, "SELECT name FROM marketplace WHERE id = 1").Scan(&name)
		if err == nil {
			return types.ErrAlreadyInitialized
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reading marketplace: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertMarketplace,
			m.Name, m.Admin, int(m.FeeBps), formatTime(m.CreatedAt)); err != nil {
			return fmt.Errorf("inserting marketplace: %w", err)
		}
		return nil
	})
}

// GetMarketplace returns the marketplace definition or ErrNotFound.
func (b *Backend) GetMarketplace(ctx context.Context) (*types.Marketplace, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	var (
		m       types.Marketplace
		fee     int
		created string
	)
	err = db.QueryRowContext(ctx, selectMarketplace).Scan(&m.Name, &m.Admin, &fee, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading marketplace: %w", err)
	}
	m.FeeBps = uint16(fee)
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("marketplace created_at: %w", err)
	}
	return &m, nil
}

// AddCollection whitelists key. Idempotent.
func (b *Backend) AddCollection(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrInvalidCollection
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	db, err := b.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertCollection, key); err != nil {
		return fmt.Errorf("adding collection %s: %w", key, err)
	}
	return nil
}

// HasCollection reports whether key is whitelisted.
func (b *Backend) HasCollection(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	db, err := b.conn()
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, selectCollection, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", key, err)
	}
	return true, nil
}
