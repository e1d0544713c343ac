package migration

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// WarningFunc receives non-fatal scanner diagnostics: unparseable filenames
// and missing locations. A nil WarningFunc is a no-op.
type WarningFunc func(msg string)

// Scan walks each location recursively, resolving every .sql file into a
// migration with its body and checksum.
//
// Files whose names match no migration pattern and locations that don't
// exist are reported through onWarning and skipped; neither aborts the scan.
// The returned order is unspecified — the resolver sorts.
func Scan(locations []string, onWarning WarningFunc) ([]*Resolved, error) {
	warn := func(msg string) {
		if onWarning != nil {
			onWarning(msg)
		}
	}

	var resolved []*Resolved
	for _, location := range locations {
		root, err := filepath.Abs(location)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve location: %s", location)
		}

		if _, err := os.Stat(root); os.IsNotExist(err) {
			warn("location not found, skipping: " + location)
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "failed to stat location: %s", location)
		}

		// NB: WalkDir always walks in lexical order.
		if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".sql") {
				return nil
			}

			info, err := Parse(path, root)
			if err != nil {
				warn("skipping " + filepath.Base(path) + ": " + err.Error())
				return nil
			}

			body, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read migration: %s", path)
			}

			resolved = append(resolved, NewResolved(info, string(body)))
			return nil
		}); err != nil {
			return nil, errors.Wrapf(err, "failed to walk location: %s", location)
		}
	}

	return resolved, nil
}
