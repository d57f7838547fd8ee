package types

import "time"

// Marketplace name bounds: the name must be longer than MinNameLen and
// shorter than MaxNameLen characters.
const (
	MinNameLen = 3
	MaxNameLen = 33
	MaxFeeBps  = 10_000
)

// Marketplace is the named venue listings are opened in.
type Marketplace struct {
	Name      string    `json:"name"`
	Admin     string    `json:"admin"`
	FeeBps    uint16    `json:"fee_bps"` // Recorded only; fees are not computed.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the name bounds and fee range.
func (m Marketplace) Validate() error {
	if len(m.Name) <= MinNameLen || len(m.Name) >= MaxNameLen {
		return ErrInvalidName
	}
	if m.FeeBps > MaxFeeBps {
		return ErrInvalidFee
	}
	if m.Admin == "" {
		return ErrInvalidArgument
	}
	return nil
}
