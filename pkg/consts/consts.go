package consts

import "os"

const (
	// ModeDir is the standard file mode for creating directories
	ModeDir = os.FileMode(0o755)

	// ModeFile is the standard file mode for creating files
	ModeFile = os.FileMode(0o644)

	// DefaultHistoryTable is the name of the schema history table when the
	// config doesn't override it. The name (and the table's shape) is a
	// compatibility surface shared with the reference tool.
	DefaultHistoryTable = "flyway_schema_history"

	// DefaultSchema is the schema hosting the history table by default.
	DefaultSchema = "dbo"

	// DefaultPort is the default SQL Server TCP port.
	DefaultPort = 1433

	// DefaultRequestTimeoutMS bounds each batch sent to the server.
	DefaultRequestTimeoutMS = 300_000

	// DefaultConnectionTimeoutMS bounds the initial connection handshake.
	DefaultConnectionTimeoutMS = 30_000

	// BaselineVersionSentinel is the "not explicitly set" baseline version.
	// When the configured baseline version equals this value and no baseline
	// file matches it exactly, the highest-versioned baseline is auto-selected.
	BaselineVersionSentinel = "1"
)
