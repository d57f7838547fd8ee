package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stall/internal/storetest"
	"github.com/mesh-intelligence/stall/pkg/types"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) types.Store {
		b, err := Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestAttachCreatesDatabaseFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	b, err := Open(dir)
	require.NoError(t, err)
	defer b.Close()

	_, err = os.Stat(filepath.Join(dir, DBFile))
	assert.NoError(t, err)
}

func TestAttachTwiceFails(t *testing.T) {
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	err = b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestAttachRejectsInvalidConfig(t *testing.T) {
	b := NewBackend()
	assert.ErrorIs(t, b.Attach(types.Config{}), types.ErrBackendEmpty)
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, b.Create(ctx, storetest.NewListing("l1", "alice", 0)))
	_, err = b.CompareAndTransition(ctx, "l1", types.StateActive, types.StateSold, "bob")
	require.NoError(t, err)
	require.NoError(t, b.AddCollection(ctx, "apes"))
	require.NoError(t, b.Close())

	b, err = Open(dir)
	require.NoError(t, err)
	defer b.Close()

	got, err := b.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, types.StateSold, got.State)
	assert.Equal(t, "bob", got.Buyer)

	hist, err := b.History(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	ok, err := b.HasCollection(ctx, "apes")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	l := storetest.NewListing("a", "alice", 0)
	early := formatTime(l.CreatedAt)
	later := formatTime(l.CreatedAt.Add(1500))
	assert.Less(t, early, later)

	parsed, err := parseTime(later)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(l.CreatedAt.Add(1500)))
}
