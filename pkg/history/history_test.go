package history_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/caretakerhq/caretaker/pkg/history"
	"github.com/caretakerhq/caretaker/pkg/migration"
	"github.com/stretchr/testify/require"
)

func TestCreateTableDDL(t *testing.T) {
	table := New("dbo", "flyway_schema_history")
	ddl := table.CreateTableDDL()

	// The table shape is a compatibility surface; pin the exact columns.
	require.Contains(t, ddl, "CREATE TABLE [dbo].[flyway_schema_history]")
	require.Contains(t, ddl, "[installed_rank] INT NOT NULL")
	require.Contains(t, ddl, "[version] NVARCHAR(50),")
	require.Contains(t, ddl, "[description] NVARCHAR(200) NOT NULL")
	require.Contains(t, ddl, "[type] NVARCHAR(20) NOT NULL")
	require.Contains(t, ddl, "[script] NVARCHAR(1000) NOT NULL")
	require.Contains(t, ddl, "[checksum] INT,")
	require.Contains(t, ddl, "[installed_by] NVARCHAR(100) NOT NULL")
	require.Contains(t, ddl, "[installed_on] DATETIME NOT NULL DEFAULT GETDATE()")
	require.Contains(t, ddl, "[execution_time] INT NOT NULL")
	require.Contains(t, ddl, "[success] BIT NOT NULL")
	require.Contains(t, ddl, "CONSTRAINT [flyway_schema_history_pk] PRIMARY KEY ([installed_rank])")
}

func TestQualified(t *testing.T) {
	require.Equal(t, "[dbo].[flyway_schema_history]", New("dbo", "flyway_schema_history").Qualified())
	require.Equal(t, "[__mj].[flyway_schema_history]", New("__mj", "flyway_schema_history").Qualified())
}

func TestExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	table := New("dbo", "flyway_schema_history")

	mock.ExpectQuery("SELECT COUNT\\(\\*\\)\\s+FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("dbo", "flyway_schema_history").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := table.Exists(context.Background(), db)
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAllRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	table := New("dbo", "flyway_schema_history")
	installed := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"installed_rank", "version", "description", "type", "script",
		"checksum", "installed_by", "installed_on", "execution_time", "success",
	}).
		AddRow(0, nil, SchemaMarkerDescription, TypeSchema, "[dbo]", nil, "deploy", installed, 0, true).
		AddRow(1, "1", "init", TypeSQL, "V1__init.sql", int32(12345), "deploy", installed, 42, true).
		AddRow(2, nil, "views", TypeSQL, "R__views.sql", int32(-99), "deploy", installed, 7, true)

	mock.ExpectQuery(regexp.QuoteMeta("FROM [dbo].[flyway_schema_history]")).WillReturnRows(rows)

	records, err := table.GetAllRecords(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, records, 3)

	marker := records[0]
	require.Equal(t, 0, marker.InstalledRank)
	require.Nil(t, marker.Version)
	require.Nil(t, marker.Checksum)
	require.Equal(t, TypeSchema, marker.Type)
	require.True(t, marker.Success)

	v1 := records[1]
	require.NotNil(t, v1.Version)
	require.Equal(t, "1", *v1.Version)
	require.NotNil(t, v1.Checksum)
	require.Equal(t, int32(12345), *v1.Checksum)

	rep := records[2]
	require.Nil(t, rep.Version)
	require.Equal(t, int32(-99), *rep.Checksum)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNextRank(t *testing.T) {
	t.Run("empty table starts at zero", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		table := New("dbo", "flyway_schema_history")
		mock.ExpectQuery(regexp.QuoteMeta("SELECT ISNULL(MAX([installed_rank]), -1) + 1")).
			WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(0))

		next, err := table.GetNextRank(context.Background(), db)
		require.NoError(t, err)
		require.Equal(t, 0, next)
	})

	t.Run("advances past the max rank", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		table := New("dbo", "flyway_schema_history")
		mock.ExpectQuery(regexp.QuoteMeta("SELECT ISNULL(MAX([installed_rank]), -1) + 1")).
			WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(4))

		next, err := table.GetNextRank(context.Background(), db)
		require.NoError(t, err)
		require.Equal(t, 4, next)
	})
}

func TestInsertSchemaMarker(t *testing.T) {
	t.Run("inserts rank zero when absent", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		table := New("dbo", "flyway_schema_history")

		mock.ExpectQuery(regexp.QuoteMeta("WHERE [installed_rank] = 0")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO [dbo].[flyway_schema_history]")).
			WithArgs(0, nil, SchemaMarkerDescription, TypeSchema, "[dbo]", nil, "deploy", 0, true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, table.InsertSchemaMarker(context.Background(), db, "deploy"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no-op when rank zero exists", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		table := New("dbo", "flyway_schema_history")

		mock.ExpectQuery(regexp.QuoteMeta("WHERE [installed_rank] = 0")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		require.NoError(t, table.InsertSchemaMarker(context.Background(), db, "deploy"))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInsertAppliedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	table := New("dbo", "flyway_schema_history")

	t.Run("versioned records as SQL", func(t *testing.T) {
		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeVersioned,
			Version:     "1",
			Description: "init",
			Script:      "V1__init.sql",
		}, "SELECT 1;")

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO [dbo].[flyway_schema_history]")).
			WithArgs(1, "1", "init", TypeSQL, "V1__init.sql", m.Checksum, "deploy", 42, true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, table.InsertAppliedMigration(context.Background(), db, m, 1, 42, "deploy"))
	})

	t.Run("baseline records as SQL_BASELINE", func(t *testing.T) {
		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeBaseline,
			Version:     "20260122",
			Description: "v3 Baseline",
			Script:      "B20260122__v3.sql",
		}, "CREATE TABLE t (id INT);")

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO [dbo].[flyway_schema_history]")).
			WithArgs(2, "20260122", "v3 Baseline", TypeSQLBaseline, "B20260122__v3.sql", m.Checksum, "deploy", 10, true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, table.InsertAppliedMigration(context.Background(), db, m, 2, 10, "deploy"))
	})

	t.Run("repeatable records as SQL with null version", func(t *testing.T) {
		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeRepeatable,
			Description: "views",
			Script:      "R__views.sql",
		}, "CREATE VIEW v AS SELECT 1;")

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO [dbo].[flyway_schema_history]")).
			WithArgs(3, nil, "views", TypeSQL, "R__views.sql", m.Checksum, "deploy", 5, true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, table.InsertAppliedMigration(context.Background(), db, m, 3, 5, "deploy"))
	})

	t.Run("failed insert records success false", func(t *testing.T) {
		m := migration.NewResolved(migration.Info{
			Type:        migration.TypeVersioned,
			Version:     "2",
			Description: "boom",
			Script:      "V2__boom.sql",
		}, "bad sql")

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO [dbo].[flyway_schema_history]")).
			WithArgs(4, "2", "boom", TypeSQL, "V2__boom.sql", m.Checksum, "deploy", 3, false).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, table.InsertFailedMigration(context.Background(), db, m, 4, 3, "deploy"))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBaseline(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	table := New("dbo", "flyway_schema_history")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO [dbo].[flyway_schema_history]")).
		WithArgs(1, "5", BaselineDescription, TypeBaseline, BaselineDescription, nil, "deploy", 0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, table.InsertBaseline(context.Background(), db, 1, "5", "deploy"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepairMutations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	table := New("dbo", "flyway_schema_history")

	mock.ExpectExec(regexp.QuoteMeta("UPDATE [dbo].[flyway_schema_history] SET [checksum] = @p1")).
		WithArgs(int32(777), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, table.UpdateChecksum(context.Background(), db, 3, 777))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM [dbo].[flyway_schema_history] WHERE [installed_rank] = @p1")).
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, table.DeleteRecord(context.Background(), db, 5))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasMigrationRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	table := New("dbo", "flyway_schema_history")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE [type] <> @p1")).
		WithArgs(TypeSchema).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	has, err := table.HasMigrationRows(context.Background(), db)
	require.NoError(t, err)
	require.False(t, has)
	require.NoError(t, mock.ExpectationsWereMet())
}
