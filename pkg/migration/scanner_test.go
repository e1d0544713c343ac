package migration_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caretakerhq/caretaker/pkg/checksum"
	"github.com/caretakerhq/caretaker/pkg/consts"
	. "github.com/caretakerhq/caretaker/pkg/migration"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, consts.ModeDir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), consts.ModeFile))
}

func TestScan(t *testing.T) {
	t.Run("resolves sql files with bodies and checksums", func(t *testing.T) {
		dir := t.TempDir()
		writeScript(t, dir, "V1__init.sql", "CREATE TABLE a (id INT);")
		writeScript(t, dir, "R__views.sql", "CREATE VIEW v AS SELECT 1;")

		resolved, err := Scan([]string{dir}, nil)
		require.NoError(t, err)
		require.Len(t, resolved, 2)

		byName := map[string]*Resolved{}
		for _, m := range resolved {
			byName[m.Filename] = m
		}

		v1 := byName["V1__init.sql"]
		require.NotNil(t, v1)
		require.Equal(t, "CREATE TABLE a (id INT);", v1.SQL)
		require.Equal(t, checksum.Compute(v1.SQL), v1.Checksum)
		require.Equal(t, TypeVersioned, v1.Type)

		r := byName["R__views.sql"]
		require.NotNil(t, r)
		require.Equal(t, TypeRepeatable, r.Type)
	})

	t.Run("walks nested directories and keeps relative script paths", func(t *testing.T) {
		dir := t.TempDir()
		writeScript(t, filepath.Join(dir, "core"), "V1__init.sql", "SELECT 1;")

		resolved, err := Scan([]string{dir}, nil)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		require.Equal(t, "core/V1__init.sql", resolved[0].Script)
	})

	t.Run("unparseable names warn and skip", func(t *testing.T) {
		dir := t.TempDir()
		writeScript(t, dir, "V1__ok.sql", "SELECT 1;")
		writeScript(t, dir, "V1_broken.sql", "SELECT 2;")

		var warnings []string
		resolved, err := Scan([]string{dir}, func(msg string) { warnings = append(warnings, msg) })
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		require.Len(t, warnings, 1)
		require.Contains(t, warnings[0], "V1_broken.sql")
	})

	t.Run("missing locations warn and skip", func(t *testing.T) {
		dir := t.TempDir()
		writeScript(t, dir, "V1__ok.sql", "SELECT 1;")

		var warnings []string
		resolved, err := Scan(
			[]string{filepath.Join(dir, "nope"), dir},
			func(msg string) { warnings = append(warnings, msg) },
		)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		require.Len(t, warnings, 1)
		require.Contains(t, warnings[0], "location not found")
	})

	t.Run("non-sql files are ignored", func(t *testing.T) {
		dir := t.TempDir()
		writeScript(t, dir, "V1__ok.sql", "SELECT 1;")
		writeScript(t, dir, "README.md", "docs")

		resolved, err := Scan([]string{dir}, nil)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
	})

	t.Run("multiple locations accumulate", func(t *testing.T) {
		a, b := t.TempDir(), t.TempDir()
		writeScript(t, a, "V1__a.sql", "SELECT 1;")
		writeScript(t, b, "V2__b.sql", "SELECT 2;")

		resolved, err := Scan([]string{a, b}, nil)
		require.NoError(t, err)
		require.Len(t, resolved, 2)
	})
}
