package migrator_test

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/caretakerhq/caretaker/pkg/checksum"
	"github.com/caretakerhq/caretaker/pkg/history"
	"github.com/caretakerhq/caretaker/pkg/migration"
	. "github.com/caretakerhq/caretaker/pkg/migrator"
	"github.com/caretakerhq/caretaker/pkg/placeholder"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	insertPattern = regexp.QuoteMeta("INSERT INTO [dbo].[flyway_schema_history]")
	rankPattern   = regexp.QuoteMeta("SELECT ISNULL(MAX([installed_rank]), -1) + 1")
)

func testTable() *history.Table {
	return history.New("dbo", "flyway_schema_history")
}

func expectRank(mock sqlmock.Sqlmock, next int) {
	mock.ExpectQuery(rankPattern).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(next))
}

func TestExecutorPerRun(t *testing.T) {
	t.Run("commits all migrations and history rows together", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		v1 := versioned("1", "first")
		v2 := versioned("2", "second")

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta(v1.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertPattern).
			WithArgs(1, "1", "first", history.TypeSQL, v1.Script, v1.Checksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(v2.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertPattern).
			WithArgs(2, "2", "second", history.TypeSQL, v2.Script, v2.Checksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		executor := NewExecutor(ExecutorConfig{
			DB:      db,
			History: testTable(),
			User:    "deploy",
			Mode:    TransactionPerRun,
		})

		applied, err := executor.Execute(context.Background(), []*migration.Resolved{v1, v2})
		require.NoError(t, err)
		require.Len(t, applied, 2)
		require.Equal(t, "V1__first.sql", applied[0].Script)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls everything back on the first failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		v1 := versioned("1", "first")
		v2 := versioned("2", "boom")

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta(v1.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertPattern).
			WithArgs(1, "1", "first", history.TypeSQL, v1.Script, v1.Checksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(v2.SQL)).WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		executor := NewExecutor(ExecutorConfig{
			DB:      db,
			History: testTable(),
			User:    "deploy",
			Mode:    TransactionPerRun,
		})

		applied, err := executor.Execute(context.Background(), []*migration.Resolved{v1, v2})
		require.Error(t, err)
		require.Empty(t, applied)

		var batchErr *BatchError
		require.True(t, errors.As(err, &batchErr))
		require.Equal(t, "2", batchErr.Version)
		require.Equal(t, "V2__boom.sql", batchErr.Script)
		require.Contains(t, batchErr.Preview, "boom")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty pending set touches nothing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		executor := NewExecutor(ExecutorConfig{DB: db, History: testTable(), User: "deploy"})

		applied, err := executor.Execute(context.Background(), nil)
		require.NoError(t, err)
		require.Empty(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutorPerMigration(t *testing.T) {
	t.Run("each migration commits separately", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		v1 := versioned("1", "first")
		v2 := versioned("2", "second")

		for i, m := range []*migration.Resolved{v1, v2} {
			mock.ExpectBegin()
			expectRank(mock, i+1)
			mock.ExpectExec(regexp.QuoteMeta(m.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(insertPattern).
				WithArgs(i+1, m.Version, m.Description, history.TypeSQL, m.Script, m.Checksum, "deploy", sqlmock.AnyArg(), true).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
		}

		executor := NewExecutor(ExecutorConfig{
			DB:      db,
			History: testTable(),
			User:    "deploy",
			Mode:    TransactionPerMigration,
		})

		applied, err := executor.Execute(context.Background(), []*migration.Resolved{v1, v2})
		require.NoError(t, err)
		require.Len(t, applied, 2)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure keeps earlier migrations and records a failed row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		v1 := versioned("1", "first")
		v2 := versioned("2", "boom")

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta(v1.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertPattern).
			WithArgs(1, "1", "first", history.TypeSQL, v1.Script, v1.Checksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		expectRank(mock, 2)
		mock.ExpectExec(regexp.QuoteMeta(v2.SQL)).WillReturnError(errors.New("conversion failed"))
		mock.ExpectRollback()

		// The failed row rides outside the rolled-back transaction.
		expectRank(mock, 2)
		mock.ExpectExec(insertPattern).
			WithArgs(2, "2", "boom", history.TypeSQL, v2.Script, v2.Checksum, "deploy", 0, false).
			WillReturnResult(sqlmock.NewResult(0, 1))

		executor := NewExecutor(ExecutorConfig{
			DB:              db,
			History:         testTable(),
			User:            "deploy",
			Mode:            TransactionPerMigration,
			InsertFailedRow: true,
		})

		applied, err := executor.Execute(context.Background(), []*migration.Resolved{v1, v2})
		require.Error(t, err)
		require.Len(t, applied, 1)
		require.Equal(t, "V1__first.sql", applied[0].Script)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed row insertion can be disabled", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		v1 := versioned("1", "boom")

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta(v1.SQL)).WillReturnError(errors.New("nope"))
		mock.ExpectRollback()

		executor := NewExecutor(ExecutorConfig{
			DB:      db,
			History: testTable(),
			User:    "deploy",
			Mode:    TransactionPerMigration,
		})

		_, err = executor.Execute(context.Background(), []*migration.Resolved{v1})
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutorBatches(t *testing.T) {
	t.Run("GO batches execute in order with repetitions", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeVersioned,
			Version:     "1",
			Description: "batches",
			Filename:    "V1__batches.sql",
			Script:      "V1__batches.sql",
		}, "CREATE TABLE t (id INT);\nGO\nINSERT INTO t VALUES (1);\nGO 3")

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE t (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
		for i := 0; i < 3; i++ {
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO t VALUES (1);")).WillReturnResult(sqlmock.NewResult(0, 1))
		}
		mock.ExpectExec(insertPattern).
			WithArgs(1, "1", "batches", history.TypeSQL, m.Script, m.Checksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		executor := NewExecutor(ExecutorConfig{DB: db, History: testTable(), User: "deploy"})

		applied, err := executor.Execute(context.Background(), []*migration.Resolved{m})
		require.NoError(t, err)
		require.Len(t, applied, 1)
		require.Equal(t, 2, applied[0].Batches)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutorPlaceholders(t *testing.T) {
	t.Run("substitutes known placeholders before splitting", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeVersioned,
			Version:     "1",
			Description: "schema bound",
			Filename:    "V1__schema_bound.sql",
			Script:      "V1__schema_bound.sql",
		}, "CREATE TABLE [${flyway:defaultSchema}].[t] (id INT); -- ${unknown}")

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE [__mj].[t] (id INT); -- ${unknown}")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertPattern).
			WithArgs(1, "1", "schema bound", history.TypeSQL, m.Script, m.Checksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		executor := NewExecutor(ExecutorConfig{
			DB:      db,
			History: testTable(),
			User:    "deploy",
			Context: placeholder.Context{DefaultSchema: "__mj"},
		})

		_, err = executor.Execute(context.Background(), []*migration.Resolved{m})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeatable checksum binds to the substituted body", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		body := "CREATE VIEW v AS SELECT '${flyway:timestamp}' AS stamped;"
		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeRepeatable,
			Description: "stamped view",
			Filename:    "R__stamped_view.sql",
			Script:      "R__stamped_view.sql",
		}, body)
		rawChecksum := m.Checksum

		substituted := strings.ReplaceAll(body, "${flyway:timestamp}", "2026-01-30T00:00:00Z")
		wantChecksum := checksum.Compute(substituted)
		require.NotEqual(t, rawChecksum, wantChecksum)

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta(substituted)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertPattern).
			WithArgs(1, nil, "stamped view", history.TypeSQL, m.Script, wantChecksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		executor := NewExecutor(ExecutorConfig{
			DB:      db,
			History: testTable(),
			User:    "deploy",
			Context: placeholder.Context{Timestamp: "2026-01-30T00:00:00Z"},
		})

		_, err = executor.Execute(context.Background(), []*migration.Resolved{m})
		require.NoError(t, err)
		require.Equal(t, wantChecksum, m.Checksum)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filename built-in is bound per script", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeVersioned,
			Version:     "1",
			Description: "self aware",
			Filename:    "V1__self_aware.sql",
			Script:      "V1__self_aware.sql",
		}, "INSERT INTO audit (source) VALUES ('${flyway:filename}');")

		mock.ExpectBegin()
		expectRank(mock, 1)
		mock.ExpectExec(regexp.QuoteMeta("VALUES ('V1__self_aware.sql')")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertPattern).
			WithArgs(1, "1", "self aware", history.TypeSQL, m.Script, m.Checksum, "deploy", sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		executor := NewExecutor(ExecutorConfig{DB: db, History: testTable(), User: "deploy"})

		_, err = executor.Execute(context.Background(), []*migration.Resolved{m})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
