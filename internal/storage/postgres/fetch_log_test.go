package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/satview/internal/imagery"
)

func TestRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log, err := NewFetchLogWithPool(mock, "image_fetches")
	require.NoError(t, err)

	attempt := imagery.Attempt{
		ID:         "0190c0de-0000-7000-8000-000000000001",
		StartedAt:  time.Unix(1700000000, 0).UTC(),
		Duration:   1500 * time.Millisecond,
		Success:    true,
		StatusCode: 200,
		Bytes:      4096,
		Digest:     "abc123",
		BlobURI:    "file:///data/satellite_image.jpg",
	}

	mock.ExpectExec("INSERT INTO image_fetches").
		WithArgs(
			attempt.ID,
			attempt.StartedAt,
			int64(1500),
			true,
			int32(200),
			int32(4096),
			"abc123",
			"file:///data/satellite_image.jpg",
			"",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, log.Record(context.Background(), attempt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log, err := NewFetchLogWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, log.Record(context.Background(), imagery.Attempt{}))
}

func TestRecordWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log, err := NewFetchLogWithPool(mock, "")
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO image_fetches").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(boom)

	err = log.Record(context.Background(), imagery.Attempt{ID: "a1", StartedAt: time.Unix(0, 0)})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log, err := NewFetchLogWithPool(mock, "")
	require.NoError(t, err)

	newer := time.Unix(1700003600, 0).UTC()
	older := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "started_at", "duration_ms", "success", "status_code", "bytes", "digest", "blob_uri", "reason",
	}).
		AddRow("a2", newer, int64(250), false, int32(500), int32(0), "", "", "unexpected status 500").
		AddRow("a1", older, int64(900), true, int32(200), int32(2048), "d1", "memory://img", "")

	mock.ExpectQuery("SELECT id, started_at").WithArgs(5).WillReturnRows(rows)

	got, err := log.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a2", got[0].ID)
	require.False(t, got[0].Success)
	require.Equal(t, 500, got[0].StatusCode)
	require.Equal(t, 250*time.Millisecond, got[0].Duration)
	require.Equal(t, 2048, got[1].Bytes)
	require.Equal(t, "d1", got[1].Digest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log, err := NewFetchLogWithPool(mock, "attempts")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS attempts").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, log.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewFetchLogWithPool(mock, "drop table;")
	require.Error(t, err)
	_, err = NewFetchLogWithPool(nil, "")
	require.Error(t, err)
}
