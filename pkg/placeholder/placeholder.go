// Package placeholder substitutes ${...} tokens in migration scripts.
//
// Only recognized names are replaced: the flyway:* built-ins and any keys
// the user registers. An unrecognized ${...} sequence is copied through
// verbatim, so scripts containing literal dollar-brace text (dynamic SQL,
// sqlcmd variables) survive substitution untouched.
package placeholder

import "strings"

// builtinPrefix is the reserved namespace for built-in placeholders. Names
// under it match case-insensitively; user-registered keys match exactly.
const builtinPrefix = "flyway:"

// Context carries the built-in placeholder values. Empty fields are not
// registered, so their placeholders pass through unchanged.
type Context struct {
	// DefaultSchema is the value of ${flyway:defaultSchema}.
	DefaultSchema string

	// Timestamp is the value of ${flyway:timestamp}.
	Timestamp string

	// Database is the value of ${flyway:database}.
	Database string

	// User is the value of ${flyway:user}.
	User string

	// Filename is the value of ${flyway:filename}. Set per script by the
	// executor.
	Filename string

	// Table is the value of ${flyway:table}, the history table name.
	Table string
}

// Substituter replaces recognized placeholders in SQL text. A user key
// shadows a built-in of the same name.
type Substituter struct {
	builtins map[string]string
	user     map[string]string
}

// New builds a Substituter from the built-in context and the user map.
func New(ctx Context, userMap map[string]string) *Substituter {
	builtins := make(map[string]string, 6)

	register := func(name, value string) {
		if value != "" {
			builtins[strings.ToLower(name)] = value
		}
	}

	register("flyway:defaultSchema", ctx.DefaultSchema)
	register("flyway:timestamp", ctx.Timestamp)
	register("flyway:database", ctx.Database)
	register("flyway:user", ctx.User)
	register("flyway:filename", ctx.Filename)
	register("flyway:table", ctx.Table)

	user := make(map[string]string, len(userMap))
	for name, value := range userMap {
		user[name] = value
	}

	return &Substituter{builtins: builtins, user: user}
}

// Substitute performs a single left-to-right pass over sql, replacing each
// ${name} whose name is recognized. The replacement is inserted literally:
// no nested expansion happens even when a replacement itself contains ${...}.
func (s *Substituter) Substitute(sql string) string {
	var out strings.Builder
	out.Grow(len(sql))

	for {
		open := strings.Index(sql, "${")
		if open < 0 {
			out.WriteString(sql)
			return out.String()
		}

		closing := strings.Index(sql[open+2:], "}")
		if closing < 0 {
			out.WriteString(sql)
			return out.String()
		}

		name := sql[open+2 : open+2+closing]
		end := open + 2 + closing + 1

		value, ok := s.lookup(name)
		if ok {
			out.WriteString(sql[:open])
			out.WriteString(value)
		} else {
			out.WriteString(sql[:end])
		}
		sql = sql[end:]
	}
}

// lookup resolves a placeholder name. User keys match exactly and shadow
// built-ins; the flyway: namespace is reserved and matches
// case-insensitively.
func (s *Substituter) lookup(name string) (string, bool) {
	if name == "" {
		return "", false
	}

	if value, ok := s.user[name]; ok {
		return value, true
	}

	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, builtinPrefix) {
		value, ok := s.builtins[lower]
		return value, ok
	}

	return "", false
}
