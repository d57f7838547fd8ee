package escrow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stall/pkg/types"
)

func TestInitializeNameBounds(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{"abc", types.ErrInvalidName},
		{"abcd", nil},
		{strings.Repeat("x", 32), nil},
		{strings.Repeat("x", 33), types.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			m, err := h.engine.Initialize(context.Background(), "admin", tt.name, 100)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, m.Name)
		})
	}
}

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.Initialize(ctx, "admin", "stall-market", 250)
	require.NoError(t, err)

	_, err = h.engine.Initialize(ctx, "other", "another-market", 0)
	assert.ErrorIs(t, err, types.ErrAlreadyInitialized)

	m, err := h.engine.Marketplace(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", m.Admin)
	assert.Equal(t, uint16(250), m.FeeBps)
}

func TestInitializeRejectsFee(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Initialize(context.Background(), "admin", "stall-market", 10_001)
	assert.ErrorIs(t, err, types.ErrInvalidFee)
}

func TestAddCollectionRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.engine.AddCollection(ctx, "admin", "apes")
	assert.ErrorIs(t, err, types.ErrNotFound, "marketplace must exist")

	_, err = h.engine.Initialize(ctx, "admin", "stall-market", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.AddCollection(ctx, "mallory", "apes"), types.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.AddCollection(ctx, "admin", ""), types.ErrInvalidCollection)
	require.NoError(t, h.engine.AddCollection(ctx, "admin", "apes"))

	ok, err := h.store.HasCollection(ctx, "apes")
	require.NoError(t, err)
	assert.True(t, ok)
}
