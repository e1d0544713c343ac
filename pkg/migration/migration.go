// Package migration provides discovery and classification of SQL migration
// scripts on disk.
//
// Scripts are classified by filename: versioned (V), baseline (B) and
// repeatable (R) migrations, with the version and human description parsed
// out of the name. The scanner walks configured locations, reads script
// bodies and computes the checksum recorded in the schema history table.
package migration

import "github.com/caretakerhq/caretaker/pkg/checksum"

type (
	// Type classifies a migration by its filename prefix.
	Type string

	// Info is the metadata parsed from a migration filename.
	//
	// Invariant: Type == TypeRepeatable exactly when Version is empty.
	Info struct {
		// Type is the migration kind (versioned, baseline, repeatable).
		Type Type

		// Version is the version string for versioned and baseline
		// migrations; empty for repeatable migrations.
		Version string

		// Description is the human-readable text from the filename, with
		// underscores replaced by spaces.
		Description string

		// Filename is the base name of the file (e.g. "V1__init.sql").
		Filename string

		// Path is the absolute path of the file on disk.
		Path string

		// Script is the path relative to the location root it was
		// discovered under, normalized to forward slashes. It is recorded
		// verbatim in the history table's script column.
		Script string
	}

	// Resolved is a migration ready for execution: parsed filename metadata
	// plus the script body and its checksum.
	//
	// A Resolved value is immutable once built, except that a repeatable
	// migration's checksum is recomputed over the placeholder-substituted
	// body just before its history row is recorded. That binding is what
	// forces re-execution when runtime-varying placeholders are present.
	Resolved struct {
		Info

		// SQL is the script body decoded as UTF-8.
		SQL string

		// Checksum is the signed 32-bit CRC32 of the script content.
		Checksum int32
	}
)

const (
	// TypeVersioned is a migration applied at most once, ordered by version.
	TypeVersioned Type = "versioned"

	// TypeBaseline is a migration subsuming all versioned migrations at or
	// below its version, applied only to databases with no prior history.
	TypeBaseline Type = "baseline"

	// TypeRepeatable is a migration re-applied whenever its
	// post-substitution checksum changes, identified by description.
	TypeRepeatable Type = "repeatable"
)

// NewResolved builds a Resolved migration from parsed info and the raw
// script body, computing the content checksum.
func NewResolved(info Info, sql string) *Resolved {
	return &Resolved{
		Info:     info,
		SQL:      sql,
		Checksum: checksum.Compute(sql),
	}
}
