package utils

import "strings"

// BracketIdentifier wraps an identifier in T-SQL brackets, handling qualified
// names. It properly handles schema.table style identifiers by bracketing
// each part, and escapes any closing bracket inside the name by doubling it.
//
// Examples:
//   - "table" -> "[table]"
//   - "dbo.table" -> "[dbo].[table]"
//   - "[table]" -> "[table]" (already bracketed, not double-bracketed)
//   - "" -> ""
//
// This function is used for every identifier interpolated into DDL and
// catalog statements; row values are always bound as parameters instead.
func BracketIdentifier(name string) string {
	if name == "" {
		return ""
	}

	// A single already-bracketed identifier (possibly containing dots) is
	// returned as-is.
	if IsBracketed(name) {
		return name
	}

	parts := strings.Split(name, ".")
	for i, part := range parts {
		if IsBracketed(part) {
			continue
		}
		parts[i] = "[" + strings.ReplaceAll(part, "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}

// BracketQualifiedName formats a schema-qualified name with proper brackets.
// If schema is empty, only the name is bracketed.
//
// Examples:
//   - ("dbo", "flyway_schema_history") -> "[dbo].[flyway_schema_history]"
//   - ("", "flyway_schema_history") -> "[flyway_schema_history]"
func BracketQualifiedName(schema, name string) string {
	if schema != "" {
		return BracketIdentifier(schema) + "." + BracketIdentifier(name)
	}
	return BracketIdentifier(name)
}

// IsBracketed checks if a string is already wrapped in a single pair of
// T-SQL brackets.
//
// Examples:
//   - "[table]" -> true
//   - "table" -> false
//   - "[dbo].[table]" -> false (qualified name, not a single identifier)
func IsBracketed(s string) bool {
	return len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' &&
		!strings.ContainsAny(s[1:len(s)-1], "[]")
}

// StripBrackets removes brackets from an identifier if present.
//
// Examples:
//   - "[table]" -> "table"
//   - "table" -> "table"
//   - "[dbo].[table]" -> "dbo.table"
func StripBrackets(s string) string {
	s = strings.ReplaceAll(s, "[", "")
	return strings.ReplaceAll(s, "]", "")
}
