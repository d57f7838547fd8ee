package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stall/internal/storetest"
	"github.com/mesh-intelligence/stall/pkg/types"
)

var listingCols = []string{
	"listing_id", "seller", "asset_id", "collection", "amount", "denom",
	"state", "created_at", "expires_at", "buyer", "closed_by", "closed_at",
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(db)
	s.now = func() time.Time { return created.Add(time.Minute) }
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func listingRow(state types.ListingState, buyer string) *sqlmock.Rows {
	var closedAt any
	closedBy := ""
	if state != types.StateActive {
		closedAt = created.Add(time.Minute)
		closedBy = buyer
	}
	return sqlmock.NewRows(listingCols).AddRow(
		"l1", "alice", "asset-l1", "apes", "50", "SOL",
		string(state), created, nil, buyer, closedBy, closedAt,
	)
}

func TestMigrateExecutesAllStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range migrations {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsListingAndHistory(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO listings").
		WithArgs("l1", "alice", "asset-l1", "apes", "50", "SOL", "active", created, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO listing_history").
		WithArgs("l1", "", "active", "alice", created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Create(context.Background(), storetest.NewListing("l1", "alice", 0)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO listings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM listings WHERE listing_id").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err := s.Create(context.Background(), storetest.NewListing("l1", "alice", 0))
	assert.ErrorIs(t, err, types.ErrDuplicateListing)
	assert.NotErrorIs(t, err, types.ErrAssetListed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAssetAlreadyListed(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO listings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM listings WHERE listing_id").
		WithArgs("l2").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	l := storetest.NewListing("l2", "alice", 0)
	l.Asset.ID = "asset-l1"
	err := s.Create(context.Background(), l)
	assert.ErrorIs(t, err, types.ErrAssetListed)
	assert.ErrorIs(t, err, types.ErrDuplicateListing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRowsAffectedError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO listings").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver lost row count")))
	mock.ExpectRollback()

	err := s.Create(context.Background(), storetest.NewListing("l1", "alice", 0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrDuplicateListing)
	assert.Contains(t, err.Error(), "driver lost row count")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndTransitionWinner(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE listings").
		WithArgs("sold", "bob", "bob", sqlmock.AnyArg(), "l1", "active").
		WillReturnRows(listingRow(types.StateSold, "bob"))
	mock.ExpectExec("INSERT INTO listing_history").
		WithArgs("l1", "active", "sold", "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	l, err := s.CompareAndTransition(context.Background(), "l1", types.StateActive, types.StateSold, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.StateSold, l.State)
	assert.Equal(t, "bob", l.Buyer)
	require.NotNil(t, l.ClosedAt)
	assert.True(t, l.Price.Equal(types.NewPrice(50, "SOL")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndTransitionStale(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE listings").WillReturnRows(sqlmock.NewRows(listingCols))
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE listing_id").
		WithArgs("l1").
		WillReturnRows(listingRow(types.StateCancelled, ""))
	mock.ExpectCommit()

	l, err := s.CompareAndTransition(context.Background(), "l1", types.StateActive, types.StateSold, "bob")
	assert.ErrorIs(t, err, types.ErrStaleState)
	require.NotNil(t, l)
	assert.Equal(t, types.StateCancelled, l.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndTransitionNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE listings").WillReturnRows(sqlmock.NewRows(listingCols))
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE listing_id").WillReturnRows(sqlmock.NewRows(listingCols))
	mock.ExpectRollback()

	_, err := s.CompareAndTransition(context.Background(), "nope", types.StateActive, types.StateCancelled, "alice")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndTransitionIllegalEdgeSkipsDatabase(t *testing.T) {
	s, mock := newMock(t)

	_, err := s.CompareAndTransition(context.Background(), "l1", types.StateSold, types.StateCancelled, "alice")
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM listings").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListBuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	cutoff := created.Add(time.Hour)

	mock.ExpectQuery(`WHERE state = \$1 AND seller = \$2 AND expires_at IS NOT NULL AND expires_at <= \$3 ORDER BY created_at, listing_id LIMIT \$4`).
		WithArgs("active", "alice", cutoff, 10).
		WillReturnRows(listingRow(types.StateActive, ""))

	out, err := s.List(context.Background(), types.ListingFilter{
		State:         types.StateActive,
		Seller:        "alice",
		ExpiresBefore: cutoff,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "l1", out[0].ListingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiltersByAsset(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`WHERE state = \$1 AND asset_id = \$2 ORDER BY created_at, listing_id`).
		WithArgs("active", "asset-l1").
		WillReturnRows(listingRow(types.StateActive, ""))

	out, err := s.List(context.Background(), types.ListingFilter{
		State:   types.StateActive,
		AssetID: "asset-l1",
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "asset-l1", out[0].Asset.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitMarketplaceTwice(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("INSERT INTO marketplace").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.InitMarketplace(context.Background(), types.Marketplace{Name: "stall", Admin: "admin"})
	assert.ErrorIs(t, err, types.ErrAlreadyInitialized)
}

func TestClosedStore(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectClose()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "l1")
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	assert.ErrorIs(t, s.AddCollection(context.Background(), "apes"), types.ErrStoreClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreContractIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	storetest.Run(t, func(t *testing.T) types.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		require.NoError(t, err)
		_, err = s.db.ExecContext(ctx,
			`TRUNCATE listing_history, listings, marketplace, collections RESTART IDENTITY`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
