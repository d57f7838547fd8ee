package types

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors.
var (
	ErrInvalidPrice      = errors.New("invalid price")
	ErrPriceMismatch     = errors.New("payment does not match listing price")
	ErrUnauthorized      = errors.New("requester is not authorized")
	ErrDuplicateListing  = errors.New("listing already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidName       = errors.New("invalid name: must be >3 and <33 chars")
	ErrInvalidFee        = errors.New("fee bps out of range")
	ErrInvalidCollection = errors.New("invalid collection")
	ErrCollectionNotSet  = errors.New("asset does not belong to a collection")
)

// State errors.
var (
	ErrInvalidState       = errors.New("invalid listing state")
	ErrAlreadySold        = errors.New("listing already sold")
	ErrStaleState         = errors.New("listing state changed concurrently")
	ErrAlreadyInitialized = errors.New("marketplace already initialized")
	ErrAssetListed        = errors.New("asset already has an active listing")
)

// Lookup errors.
var (
	ErrNotFound = errors.New("listing not found")
)

// External dependency errors. Adapter failures are wrapped with one of these
// so callers can tell custody failures from payment failures.
var (
	ErrTransfer = errors.New("custody transfer failed")
	ErrPayment  = errors.New("payment capture failed")
)

// Operation outcome errors.
var (
	ErrCreateFailed         = errors.New("listing creation failed")
	ErrReleaseIncomplete    = errors.New("custody release incomplete")
	ErrSettlementIncomplete = errors.New("settlement incomplete: reconciliation required")
	ErrStoreClosed          = errors.New("store is closed")
)

// ListingError carries the listing identifier, the operation, the error
// kind (one of the sentinels above), and the underlying cause.
// errors.Is matches both Kind and Err.
type ListingError struct {
	Op        string
	ListingID string
	Kind      error
	Err       error
}

func (e *ListingError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" listing")
	if e.ListingID != "" {
		b.WriteString(" ")
		b.WriteString(e.ListingID)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ListingError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil && e.Err != e.Kind {
		errs = append(errs, e.Err)
	}
	return errs
}

// Settlement stages reported by SettlementError.
const (
	StagePayment = "payment"
	StageCustody = "custody"
)

// SettlementError describes which leg of a committed purchase failed.
type SettlementError struct {
	Stage string
	Err   error
}

func (e *SettlementError) Error() string {
	return "settlement " + e.Stage + " stage: " + e.Err.Error()
}

func (e *SettlementError) Unwrap() error { return e.Err }

// AssetListedError reports that assetID is already referenced by an active
// listing. It matches both ErrDuplicateListing and ErrAssetListed.
func AssetListedError(assetID string) error {
	return fmt.Errorf("%w: %w: %s", ErrDuplicateListing, ErrAssetListed, assetID)
}

// Kind returns the sentinel kind carried by a *ListingError in err's chain,
// or nil.
func Kind(err error) error {
	var le *ListingError
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}
