package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

func TestAddIfNewInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "seen_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	canonical := "https://example.com/page"
	rec := crawl.URLRecord{
		CanonicalURL: canonical,
		URLHash:      crawl.HashURL(canonical),
		Domain:       "example.com",
		FirstSeenAt:  now,
	}

	mock.ExpectExec("INSERT INTO seen_urls").
		WithArgs(rec.URLHash, rec.CanonicalURL, rec.Domain, rec.FirstSeenAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	first, err := store.AddIfNew(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, first)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddIfNewDuplicateAffectsNoRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "seen_urls")
	require.NoError(t, err)

	canonical := "https://example.com/page"
	rec := crawl.URLRecord{
		CanonicalURL: canonical,
		URLHash:      crawl.HashURL(canonical),
		Domain:       "example.com",
		FirstSeenAt:  time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO seen_urls").
		WithArgs(rec.URLHash, rec.CanonicalURL, rec.Domain, rec.FirstSeenAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	first, err := store.AddIfNew(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, first, "conflict must report a duplicate, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasSeen(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "seen_urls")
	require.NoError(t, err)

	hash := crawl.HashURL("https://example.com/known")
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(hash).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	seen, err := store.HasSeen(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "seen_urls")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "seen; DROP TABLE users")
	require.Error(t, err)
}
