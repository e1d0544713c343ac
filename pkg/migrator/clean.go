package migrator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/caretakerhq/caretaker/pkg/utils"
)

// CleanResult is the outcome of a Clean call.
type CleanResult struct {
	Success        bool
	DroppedObjects int
	ErrorMessage   string
}

// Clean drops every object in the default schema: foreign keys first (so
// tables can go), then tables, views, procedures and scalar/table
// functions. The schema itself survives. The history table is dropped with
// the rest; the next migrate rebuilds it.
func (m *Migrator) Clean(ctx context.Context) (*CleanResult, error) {
	result := &CleanResult{}
	db := m.client.DB()

	steps := []func(context.Context, *sql.DB) (int, error){
		m.dropForeignKeys,
		m.dropObjects("U", "TABLE"),
		m.dropObjects("V", "VIEW"),
		m.dropObjects("P", "PROCEDURE"),
		m.dropObjects("FN", "FUNCTION"),
		m.dropObjects("IF", "FUNCTION"),
		m.dropObjects("TF", "FUNCTION"),
	}

	for _, step := range steps {
		dropped, err := step(ctx, db)
		if err != nil {
			result.ErrorMessage = err.Error()
			return result, nil
		}
		result.DroppedObjects += dropped
	}

	result.Success = true
	return result, nil
}

func (m *Migrator) dropForeignKeys(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT fk.name, OBJECT_NAME(fk.parent_object_id)
		FROM sys.foreign_keys fk
		JOIN sys.schemas s ON s.schema_id = fk.schema_id
		WHERE s.name = @p1
	`, m.cfg.DefaultSchema)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list foreign keys")
	}
	defer func() { _ = rows.Close() }()

	type fk struct{ name, table string }
	var fks []fk
	for rows.Next() {
		var f fk
		if err := rows.Scan(&f.name, &f.table); err != nil {
			return 0, errors.Wrap(err, "failed to scan foreign key")
		}
		fks = append(fks, f)
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to iterate foreign keys")
	}

	for _, f := range fks {
		stmt := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
			utils.BracketQualifiedName(m.cfg.DefaultSchema, f.table),
			utils.BracketIdentifier(f.name),
		)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, errors.Wrapf(err, "failed to drop foreign key: %s", f.name)
		}
	}

	return len(fks), nil
}

// dropObjects returns a step that drops every object of the given catalog
// type (sys.objects type codes) using the matching DROP keyword.
func (m *Migrator) dropObjects(typeCode, keyword string) func(context.Context, *sql.DB) (int, error) {
	return func(ctx context.Context, db *sql.DB) (int, error) {
		rows, err := db.QueryContext(ctx, `
			SELECT o.name
			FROM sys.objects o
			JOIN sys.schemas s ON s.schema_id = o.schema_id
			WHERE s.name = @p1 AND o.type = @p2
		`, m.cfg.DefaultSchema, typeCode)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to list objects of type %s", typeCode)
		}
		defer func() { _ = rows.Close() }()

		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return 0, errors.Wrap(err, "failed to scan object name")
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			return 0, errors.Wrap(err, "failed to iterate object names")
		}

		for _, name := range names {
			stmt := fmt.Sprintf("DROP %s %s", keyword,
				utils.BracketQualifiedName(m.cfg.DefaultSchema, name))
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return 0, errors.Wrapf(err, "failed to drop %s: %s", keyword, name)
			}
		}

		return len(names), nil
	}
}
