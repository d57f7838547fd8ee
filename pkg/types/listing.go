package types

import "time"

// ListingState is the lifecycle state of a listing.
type ListingState string

// Listing states. Records are inserted already active; sold and cancelled
// are terminal.
const (
	StateActive    ListingState = "active"
	StateSold      ListingState = "sold"
	StateCancelled ListingState = "cancelled"
)

// validListingStates is the set of recognized listing state values.
var validListingStates = map[ListingState]bool{
	StateActive:    true,
	StateSold:      true,
	StateCancelled: true,
}

// Valid reports whether s is a recognized listing state.
func (s ListingState) Valid() bool {
	return validListingStates[s]
}

// Terminal reports whether no transition may leave s.
func (s ListingState) Terminal() bool {
	return s == StateSold || s == StateCancelled
}

// ParseListingState converts a string into a ListingState.
// Returns ErrInvalidState if the value is not recognized.
func ParseListingState(s string) (ListingState, error) {
	st := ListingState(s)
	if !st.Valid() {
		return "", ErrInvalidState
	}
	return st, nil
}

// CanTransition reports whether from -> to is a legal edge of the listing
// state machine. The only legal edges leave active.
func CanTransition(from, to ListingState) bool {
	return from == StateActive && (to == StateSold || to == StateCancelled)
}

// AssetRef is an opaque reference to exactly one escrowed asset unit.
type AssetRef struct {
	// ID identifies the asset unit on the asset ledger (e.g. a mint address).
	ID string `json:"id" yaml:"id"`

	// Collection is the collection the asset claims to belong to. The
	// authoritative value comes from a CollectionResolver when one is wired.
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`
}

// Listing is a fixed-price offer of one asset unit held in escrow custody.
type Listing struct {
	ListingID string       `json:"listing_id"` // UUID v7, generated on creation.
	Seller    string       `json:"seller"`     // Account that owned the asset.
	Asset     AssetRef     `json:"asset"`      // The escrowed unit.
	Price     Price        `json:"price"`      // Exact payment required.
	State     ListingState `json:"state"`      // One of the State constants.
	CreatedAt time.Time    `json:"created_at"` // Ordering key.
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Buyer     string       `json:"buyer,omitempty"`     // Set on active -> sold.
	ClosedBy  string       `json:"closed_by,omitempty"` // Actor of the terminal transition.
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
}

// Clone returns a deep copy of the listing so callers can mutate the copy
// without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	c.Price = l.Price.Clone()
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// Expired reports whether the listing carries an expiry at or before now.
func (l *Listing) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Close applies a legal terminal transition to the listing in place.
// Stores call Close after their own compare step has succeeded.
// Returns ErrInvalidState for illegal edges.
func (l *Listing) Close(next ListingState, actor string, at time.Time) error {
	if !CanTransition(l.State, next) {
		return ErrInvalidState
	}
	l.State = next
	l.ClosedBy = actor
	at = at.UTC()
	l.ClosedAt = &at
	if next == StateSold {
		l.Buyer = actor
	}
	return nil
}

// ListingView is the read-only snapshot returned by the public surface.
type ListingView = Listing

// ListingFilter selects listings for List. Zero values match everything.
type ListingFilter struct {
	State         ListingState
	Seller        string
	AssetID       string
	ExpiresBefore time.Time // Matches listings with ExpiresAt <= ExpiresBefore.
	Limit         int
}

// Match reports whether l satisfies the filter (Limit is ignored).
func (f ListingFilter) Match(l *Listing) bool {
	if f.State != "" && l.State != f.State {
		return false
	}
	if f.Seller != "" && l.Seller != f.Seller {
		return false
	}
	if f.AssetID != "" && l.Asset.ID != f.AssetID {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !l.Expired(f.ExpiresBefore) {
		return false
	}
	return true
}

// Transition records one change of a listing's state. From is empty for the
// creation entry.
type Transition struct {
	Seq       int64        `json:"seq"`
	ListingID string       `json:"listing_id"`
	From      ListingState `json:"from,omitempty"`
	To        ListingState `json:"to"`
	Actor     string       `json:"actor"`
	At        time.Time    `json:"at"`
}
