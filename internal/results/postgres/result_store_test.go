package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

func testRecord() pipeline.ResultRecord {
	now := time.Unix(1700000000, 0).UTC()
	return pipeline.ResultRecord{
		Key:    "https://example.com/policies/mp-123",
		TaskID: "task-1",
		Document: pipeline.ExtractedDocument{
			Key:       "https://example.com/policies/mp-123",
			SourceURL: "https://example.com/policies/mp-123",
			Title:     "Medical Policy 123",
			Codes:     []string{"97110"},
			Fields:    map[string]string{"category": "therapy"},
		},
		ExtractedAt: now,
	}
}

func TestWriteInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock, "extraction_results")
	require.NoError(t, err)

	rec := testRecord()
	mock.ExpectExec("INSERT INTO extraction_results").
		WithArgs(
			rec.Key,
			rec.TaskID,
			rec.Document.SourceURL,
			rec.Document.Title,
			rec.Document.EffectiveAt,
			[]byte(`["97110"]`),
			[]byte(`{"category":"therapy"}`),
			rec.ExtractedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.Write(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteDuplicateKeyIsNoOp(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock, "extraction_results")
	require.NoError(t, err)

	rec := testRecord()
	mock.ExpectExec("INSERT INTO extraction_results").
		WithArgs(
			rec.Key,
			rec.TaskID,
			rec.Document.SourceURL,
			rec.Document.Title,
			rec.Document.EffectiveAt,
			[]byte(`["97110"]`),
			[]byte(`{"category":"therapy"}`),
			rec.ExtractedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.Write(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRequiresKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock, "")
	require.NoError(t, err)

	_, err = store.Write(context.Background(), pipeline.ResultRecord{})
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock, "extraction_results")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("known-key").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Exists(context.Background(), "known-key")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsQueryFailureIsInfrastructure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock, "extraction_results")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("key").
		WillReturnError(context.DeadlineExceeded)

	_, err = store.Exists(context.Background(), "key")
	require.Error(t, err)
	require.Equal(t, pipeline.KindInfrastructure, pipeline.ClassifyError(err))
}

func TestNewResultStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewResultStoreWithPool(mock, "results; DROP TABLE x")
	require.Error(t, err)
}
