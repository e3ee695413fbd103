package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecscrape/scraper-service/internal/adapter/postgres"
	"github.com/ecscrape/scraper-service/internal/entity"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestConfigRepo_Get(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewConfigRepo(mock)
	updated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM extraction_configs")).
		WithArgs("rakuten", entity.KindSearch).
		WillReturnRows(pgxmock.NewRows([]string{"version", "body", "updated_at"}).AddRow(3, "- {locator: li, repeat: true}", updated))
	mock.ExpectQuery(regexp.QuoteMeta("FROM extraction_configs")).
		WithArgs("rakuten", entity.KindProduct).
		WillReturnError(pgx.ErrNoRows)

	cfg, err := repo.Get(context.Background(), "rakuten", entity.KindSearch)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Version)
	assert.Equal(t, updated, cfg.UpdatedAt)

	_, err = repo.Get(context.Background(), "rakuten", entity.KindProduct)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestConfigRepo_SaveReportsCreated(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewConfigRepo(mock)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO extraction_configs")).
		WithArgs("rakuten", entity.KindSearch, "text").
		WillReturnRows(pgxmock.NewRows([]string{"version", "updated_at", "created"}).AddRow(2, now, false))

	cfg := &entity.ExtractionConfig{Site: "rakuten", Kind: entity.KindSearch, Text: "text"}
	created, err := repo.Save(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, cfg.Version)
}

func TestSnapshotRepo_LoadStore(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewSnapshotRepo(mock)
	captured := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM snapshots")).
		WithArgs("amazon", entity.KindProduct, "B1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO snapshots")).
		WithArgs("amazon", entity.KindProduct, "B1", []byte(`{"id":"B1"}`), "abc", captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM snapshots")).
		WithArgs("amazon", entity.KindProduct, "B1").
		WillReturnRows(pgxmock.NewRows([]string{"payload", "fingerprint", "captured_at"}).AddRow([]byte(`{"id":"B1"}`), "abc", captured))

	_, err := repo.Load(context.Background(), "amazon", entity.KindProduct, "B1")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	require.NoError(t, repo.Store(context.Background(), &entity.Snapshot{
		Site: "amazon", Kind: entity.KindProduct, Key: "B1",
		Payload: []byte(`{"id":"B1"}`), Fingerprint: "abc", CapturedAt: captured,
	}))

	snap, err := repo.Load(context.Background(), "amazon", entity.KindProduct, "B1")
	require.NoError(t, err)
	assert.Equal(t, "abc", snap.Fingerprint)
	assert.JSONEq(t, `{"id":"B1"}`, string(snap.Payload))
}

func TestSnapshotRepo_StoreError(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewSnapshotRepo(mock)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO snapshots")).
		WillReturnError(errors.New("connection reset"))

	err := repo.Store(context.Background(), &entity.Snapshot{Site: "amazon", Kind: entity.KindProduct, Key: "B1"})
	assert.ErrorContains(t, err, "connection reset")
}

func TestAccountRepo_UpdateSessionBlob(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewAccountRepo(mock)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(int64(7), "blob").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(int64(8), "blob").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.UpdateSessionBlob(context.Background(), 7, "blob"))
	assert.ErrorIs(t, repo.UpdateSessionBlob(context.Background(), 8, "blob"), entity.ErrNotFound)
}

func TestRecordRepo_SaveNothing(t *testing.T) {
	repo := postgres.NewRecordRepo(newMock(t))
	assert.NoError(t, repo.Save(context.Background(), entity.KindProduct, nil))
}

func TestRecordRepo_LatestNotFound(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewRecordRepo(mock)

	mock.ExpectQuery(regexp.QuoteMeta("FROM records")).
		WithArgs(int64(3), entity.KindPurchaseHistory).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Latest(context.Background(), 3, entity.KindPurchaseHistory)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}
