package migration

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidName reports a .sql file whose name matches no migration
// pattern. The scanner downgrades it to a warning and skips the file.
var ErrInvalidName = errors.New("invalid migration filename")

// Parse classifies a migration file by name and extracts its metadata.
//
// Recognized patterns (prefix letter is case-insensitive):
//
//	V<digits>__<description>.sql   versioned
//	B<digits>__<description>.sql   baseline
//	R__<description>.sql           repeatable
//
// Only the leading digits after the prefix form the version; any non-digit
// characters between the version and the first "__" stay in the description
// with the separator underscores preserved (as spaces). Underscores in the
// description become spaces.
//
// The root is the location directory the file was discovered under; the
// returned Script is the root-relative path with forward slashes.
func Parse(path, root string) (Info, error) {
	name := filepath.Base(path)

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = name
	}
	script := filepath.ToSlash(rel)

	stem, ok := strings.CutSuffix(name, ".sql")
	if !ok {
		// Tolerate upper/mixed-case extensions.
		if len(name) < 4 || !strings.EqualFold(name[len(name)-4:], ".sql") {
			return Info{}, errors.Wrap(ErrInvalidName, name)
		}
		stem = name[:len(name)-4]
	}

	if stem == "" {
		return Info{}, errors.Wrap(ErrInvalidName, name)
	}

	info := Info{
		Filename: name,
		Path:     path,
		Script:   script,
	}

	switch stem[0] {
	case 'R', 'r':
		desc, ok := strings.CutPrefix(stem[1:], "__")
		if !ok || desc == "" {
			return Info{}, errors.Wrap(ErrInvalidName, name)
		}
		info.Type = TypeRepeatable
		info.Description = describe(desc)
		return info, nil

	case 'V', 'v':
		info.Type = TypeVersioned
	case 'B', 'b':
		info.Type = TypeBaseline
	default:
		return Info{}, errors.Wrap(ErrInvalidName, name)
	}

	version, rest := leadingDigits(stem[1:])
	if version == "" || !strings.Contains(rest, "__") {
		return Info{}, errors.Wrap(ErrInvalidName, name)
	}

	// The immediate "__" is the separator; any other characters before a
	// later "__" belong to the description.
	desc := strings.TrimPrefix(rest, "__")
	if strings.TrimSpace(describe(desc)) == "" {
		return Info{}, errors.Wrap(ErrInvalidName, name)
	}

	info.Version = version
	info.Description = describe(desc)
	return info, nil
}

// leadingDigits splits s into its greedy leading-digit run and the rest.
func leadingDigits(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

func describe(raw string) string {
	return strings.ReplaceAll(raw, "_", " ")
}
