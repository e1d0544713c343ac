// Package history manages the schema history table.
//
// The table's shape — column names, widths, nullability, the primary key
// and index names — is a compatibility surface shared with the reference
// tool and reproduced exactly. Identifiers are interpolated as bracketed
// names; every row value is bound as a parameter.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/caretakerhq/caretaker/pkg/migration"
	"github.com/caretakerhq/caretaker/pkg/utils"
)

// Row types recorded in the history table's type column.
const (
	// TypeSchema marks the rank-0 row recording schema creation.
	TypeSchema = "SCHEMA"

	// TypeSQL is a versioned or repeatable script execution.
	TypeSQL = "SQL"

	// TypeSQLBaseline is an executed baseline script.
	TypeSQLBaseline = "SQL_BASELINE"

	// TypeBaseline is the marker row inserted by the baseline command.
	TypeBaseline = "BASELINE"
)

// SchemaMarkerDescription is the description of the rank-0 schema row.
const SchemaMarkerDescription = "<< Flyway Schema Creation >>"

// BaselineDescription is the description and script of a BASELINE marker row.
const BaselineDescription = "<< Flyway Baseline >>"

type (
	// Querier is the subset of database/sql needed by the table manager.
	// Both *sql.DB and *sql.Tx satisfy it, so every method can run inside
	// or outside a transaction.
	Querier interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	}

	// Record is a row of the schema history table.
	Record struct {
		// InstalledRank is the primary key, monotone with insertion order.
		InstalledRank int

		// Version is nil for repeatable rows and the schema marker.
		Version *string

		// Description is the human text from the filename (or a marker).
		Description string

		// Type is one of SCHEMA, SQL, SQL_BASELINE, BASELINE.
		Type string

		// Script is the location-relative script path (or a marker).
		Script string

		// Checksum is nil for the schema marker and baseline markers.
		Checksum *int32

		// InstalledBy is the database user that recorded the row.
		InstalledBy string

		// InstalledOn is the server clock at insertion.
		InstalledOn time.Time

		// ExecutionTime is the execution duration in milliseconds.
		ExecutionTime int

		// Success records whether the migration completed.
		Success bool
	}

	// Table reads and writes the schema history table for one schema/name
	// pair.
	Table struct {
		schema string
		name   string
	}
)

// New returns a Table manager for the history table in the given schema.
func New(schema, name string) *Table {
	return &Table{schema: schema, name: name}
}

// Schema returns the schema hosting the history table.
func (t *Table) Schema() string { return t.schema }

// Name returns the bare table name.
func (t *Table) Name() string { return t.name }

// Qualified returns the bracketed schema-qualified table name.
func (t *Table) Qualified() string {
	return utils.BracketQualifiedName(t.schema, t.name)
}

// Exists reports whether the history table exists.
func (t *Table) Exists(ctx context.Context, q Querier) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
	`, t.schema, t.name).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to check for history table")
	}

	return count > 0, nil
}

// EnsureExists creates the target schema, the history table and its success
// index if any are absent. Idempotent.
func (t *Table) EnsureExists(ctx context.Context, q Querier) error {
	schemaDDL := fmt.Sprintf(
		"IF NOT EXISTS (SELECT * FROM sys.schemas WHERE name = @p1) EXEC(N'CREATE SCHEMA %s')",
		utils.BracketIdentifier(t.schema),
	)
	if _, err := q.ExecContext(ctx, schemaDDL, t.schema); err != nil {
		return errors.Wrapf(err, "failed to create schema: %s", t.schema)
	}

	exists, err := t.Exists(ctx, q)
	if err != nil {
		return err
	}

	if !exists {
		if _, err := q.ExecContext(ctx, t.CreateTableDDL()); err != nil {
			return errors.Wrapf(err, "failed to create history table: %s", t.Qualified())
		}
	}

	indexDDL := fmt.Sprintf(`
		IF NOT EXISTS (
			SELECT * FROM sys.indexes
			WHERE name = @p1 AND object_id = OBJECT_ID(@p2)
		)
		CREATE INDEX %s ON %s ([success])
	`, utils.BracketIdentifier(t.name+"_s_idx"), t.Qualified())
	if _, err := q.ExecContext(ctx, indexDDL, t.name+"_s_idx", t.schema+"."+t.name); err != nil {
		return errors.Wrap(err, "failed to create success index")
	}

	return nil
}

// CreateTableDDL returns the exact CREATE TABLE statement for the history
// table. Widths, nullability, column names and the primary key name are
// compatibility surfaces.
func (t *Table) CreateTableDDL() string {
	return fmt.Sprintf(`CREATE TABLE %s (
    [installed_rank] INT NOT NULL,
    [version] NVARCHAR(50),
    [description] NVARCHAR(200) NOT NULL,
    [type] NVARCHAR(20) NOT NULL,
    [script] NVARCHAR(1000) NOT NULL,
    [checksum] INT,
    [installed_by] NVARCHAR(100) NOT NULL,
    [installed_on] DATETIME NOT NULL DEFAULT GETDATE(),
    [execution_time] INT NOT NULL,
    [success] BIT NOT NULL,
    CONSTRAINT %s PRIMARY KEY ([installed_rank])
)`, t.Qualified(), utils.BracketIdentifier(t.name+"_pk"))
}

// GetAllRecords returns every history row ordered by installed_rank.
func (t *Table) GetAllRecords(ctx context.Context, q Querier) ([]*Record, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT [installed_rank], [version], [description], [type], [script],
		       [checksum], [installed_by], [installed_on], [execution_time], [success]
		FROM %s
		ORDER BY [installed_rank] ASC
	`, t.Qualified()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load history records")
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		record := &Record{}
		var (
			version sql.NullString
			chksum  sql.NullInt64
		)

		if err := rows.Scan(
			&record.InstalledRank,
			&version,
			&record.Description,
			&record.Type,
			&record.Script,
			&chksum,
			&record.InstalledBy,
			&record.InstalledOn,
			&record.ExecutionTime,
			&record.Success,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan history record")
		}

		if version.Valid {
			v := version.String
			record.Version = &v
		}
		if chksum.Valid {
			c := int32(chksum.Int64)
			record.Checksum = &c
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history records")
	}

	return records, nil
}

// GetNextRank returns the rank for the next insertion:
// max(installed_rank) + 1, or 0 for an empty table.
func (t *Table) GetNextRank(ctx context.Context, q Querier) (int, error) {
	var next int
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT ISNULL(MAX([installed_rank]), -1) + 1 FROM %s", t.Qualified(),
	)).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, "failed to compute next rank")
	}

	return next, nil
}

// InsertSchemaMarker inserts the rank-0 SCHEMA row recording schema
// creation. No-op if a rank-0 row already exists.
func (t *Table) InsertSchemaMarker(ctx context.Context, q Querier, user string) error {
	var count int
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE [installed_rank] = 0", t.Qualified(),
	)).Scan(&count)
	if err != nil {
		return errors.Wrap(err, "failed to check for schema marker")
	}
	if count > 0 {
		return nil
	}

	return t.insert(ctx, q, &Record{
		InstalledRank: 0,
		Description:   SchemaMarkerDescription,
		Type:          TypeSchema,
		Script:        utils.BracketIdentifier(t.schema),
		InstalledBy:   user,
		ExecutionTime: 0,
		Success:       true,
	})
}

// InsertAppliedMigration records a successful migration execution at the
// given rank. Baseline scripts record as SQL_BASELINE, everything else as
// SQL.
func (t *Table) InsertAppliedMigration(ctx context.Context, q Querier, m *migration.Resolved, rank, executionMS int, user string) error {
	return t.insertMigration(ctx, q, m, rank, executionMS, user, true)
}

// InsertFailedMigration records a failed migration execution at the given
// rank with success = false.
func (t *Table) InsertFailedMigration(ctx context.Context, q Querier, m *migration.Resolved, rank, executionMS int, user string) error {
	return t.insertMigration(ctx, q, m, rank, executionMS, user, false)
}

func (t *Table) insertMigration(ctx context.Context, q Querier, m *migration.Resolved, rank, executionMS int, user string, success bool) error {
	record := &Record{
		InstalledRank: rank,
		Description:   m.Description,
		Type:          rowType(m.Type),
		Script:        m.Script,
		InstalledBy:   user,
		ExecutionTime: executionMS,
		Success:       success,
	}

	if m.Version != "" {
		v := m.Version
		record.Version = &v
	}
	c := m.Checksum
	record.Checksum = &c

	return t.insert(ctx, q, record)
}

// InsertBaseline inserts a BASELINE marker row at the given version, used
// by the baseline command (not by executing baseline scripts).
func (t *Table) InsertBaseline(ctx context.Context, q Querier, rank int, version, user string) error {
	v := version
	return t.insert(ctx, q, &Record{
		InstalledRank: rank,
		Version:       &v,
		Description:   BaselineDescription,
		Type:          TypeBaseline,
		Script:        BaselineDescription,
		InstalledBy:   user,
		ExecutionTime: 0,
		Success:       true,
	})
}

// UpdateChecksum rewrites the checksum of the row at rank. Used only by
// repair.
func (t *Table) UpdateChecksum(ctx context.Context, q Querier, rank int, chksum int32) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET [checksum] = @p1 WHERE [installed_rank] = @p2", t.Qualified(),
	), chksum, rank)
	return errors.Wrapf(err, "failed to update checksum for rank %d", rank)
}

// DeleteRecord removes the row at rank. Used only by repair.
func (t *Table) DeleteRecord(ctx context.Context, q Querier, rank int) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE [installed_rank] = @p1", t.Qualified(),
	), rank)
	return errors.Wrapf(err, "failed to delete record at rank %d", rank)
}

// HasMigrationRows reports whether any row other than the SCHEMA marker
// exists. The baseline command refuses to run when it does.
func (t *Table) HasMigrationRows(ctx context.Context, q Querier) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE [type] <> @p1", t.Qualified(),
	), TypeSchema).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to count migration rows")
	}

	return count > 0, nil
}

func (t *Table) insert(ctx context.Context, q Querier, record *Record) error {
	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (
			[installed_rank], [version], [description], [type], [script],
			[checksum], [installed_by], [execution_time], [success]
		) VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9)
	`, t.Qualified())

	var version any
	if record.Version != nil {
		version = *record.Version
	}
	var chksum any
	if record.Checksum != nil {
		chksum = *record.Checksum
	}

	_, err := q.ExecContext(ctx, insertSQL,
		record.InstalledRank,
		version,
		record.Description,
		record.Type,
		record.Script,
		chksum,
		record.InstalledBy,
		record.ExecutionTime,
		record.Success,
	)

	return errors.Wrapf(err, "failed to insert history record at rank %d", record.InstalledRank)
}

func rowType(t migration.Type) string {
	if t == migration.TypeBaseline {
		return TypeSQLBaseline
	}
	return TypeSQL
}
