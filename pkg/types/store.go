package types

import "context"

// EscrowStore is durable storage of listing records keyed by listing ID.
// Implementations must be safe for concurrent use.
type EscrowStore interface {
	// Create inserts the listing with State forced to active and records the
	// creation transition. Returns ErrDuplicateListing if the ID exists.
	Create(ctx context.Context, l *Listing) error

	// Get returns a copy of the current record or ErrNotFound.
	Get(ctx context.Context, id string) (*Listing, error)

	// CompareAndTransition sets the state to next only if the current state
	// equals expected, as one indivisible step, and records the transition.
	// On a state mismatch it returns the current record and an error
	// wrapping ErrStaleState. Illegal edges return ErrInvalidState.
	// When next is StateSold, actor is recorded as the buyer.
	CompareAndTransition(ctx context.Context, id string, expected, next ListingState, actor string) (*Listing, error)

	// List returns copies of listings matching filter ordered by CreatedAt.
	List(ctx context.Context, filter ListingFilter) ([]*Listing, error)

	// History returns the transitions of a listing ordered by Seq.
	// Returns ErrNotFound if the listing does not exist.
	History(ctx context.Context, id string) ([]Transition, error)
}

// Registry stores the marketplace definition and its collection whitelist.
type Registry interface {
	// InitMarketplace stores the marketplace definition once.
	// Returns ErrAlreadyInitialized on a second call.
	InitMarketplace(ctx context.Context, m Marketplace) error

	// GetMarketplace returns the definition or ErrNotFound.
	GetMarketplace(ctx context.Context) (*Marketplace, error)

	// AddCollection whitelists a collection key. Idempotent.
	AddCollection(ctx context.Context, key string) error

	// HasCollection reports whether key is whitelisted.
	HasCollection(ctx context.Context, key string) (bool, error)
}

// Store is a complete storage backend.
type Store interface {
	EscrowStore
	Registry

	// Close releases backend resources. Idempotent. After Close, operations
	// return ErrStoreClosed.
	Close() error
}
