package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingErrorMatchesKindAndCause(t *testing.T) {
	cause := fmt.Errorf("%w: ledger offline", ErrTransfer)
	err := error(&ListingError{Op: "open", ListingID: "l1", Kind: ErrCreateFailed, Err: cause})

	assert.ErrorIs(t, err, ErrCreateFailed)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.NotErrorIs(t, err, ErrPayment)
	assert.Equal(t, ErrCreateFailed, Kind(err))
	assert.Equal(t, "open listing l1: listing creation failed: custody transfer failed: ledger offline", err.Error())

	wrapped := fmt.Errorf("cli: %w", err)
	assert.Equal(t, ErrCreateFailed, Kind(wrapped))
	assert.Nil(t, Kind(errors.New("plain")))
}

func TestListingErrorWithoutCause(t *testing.T) {
	err := &ListingError{Op: "cancel", ListingID: "l2", Kind: ErrUnauthorized}
	assert.Equal(t, "cancel listing l2: requester is not authorized", err.Error())
	assert.Len(t, err.Unwrap(), 1)
}

func TestSettlementErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("%w: card declined", ErrPayment)
	err := error(&ListingError{
		Op: "purchase", ListingID: "l3", Kind: ErrSettlementIncomplete,
		Err: &SettlementError{Stage: StagePayment, Err: cause},
	})

	var se *SettlementError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StagePayment, se.Stage)
	assert.ErrorIs(t, err, ErrPayment)
	assert.ErrorIs(t, err, ErrSettlementIncomplete)
}
