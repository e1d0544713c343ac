package mssql

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/caretakerhq/caretaker/pkg/utils"
)

// DatabaseExists reports whether the named database exists on the server.
func DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sys.databases WHERE name = @p1", name,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check for database: %s", name)
	}

	return count > 0, nil
}

// EnsureDatabase creates the named database if it does not already exist.
// The connection must be to a database the login can issue CREATE DATABASE
// from (typically master).
func EnsureDatabase(ctx context.Context, db *sql.DB, name string) error {
	exists, err := DatabaseExists(ctx, db, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+utils.BracketIdentifier(name)); err != nil {
		return errors.Wrapf(err, "failed to create database: %s", name)
	}

	return nil
}

// DropDatabase drops the named database if it exists, first forcing it to
// single-user mode to sever open sessions.
func DropDatabase(ctx context.Context, db *sql.DB, name string) error {
	exists, err := DatabaseExists(ctx, db, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	ident := utils.BracketIdentifier(name)
	if _, err := db.ExecContext(ctx,
		"ALTER DATABASE "+ident+" SET SINGLE_USER WITH ROLLBACK IMMEDIATE",
	); err != nil {
		return errors.Wrapf(err, "failed to take database offline: %s", name)
	}

	if _, err := db.ExecContext(ctx, "DROP DATABASE "+ident); err != nil {
		return errors.Wrapf(err, "failed to drop database: %s", name)
	}

	return nil
}
