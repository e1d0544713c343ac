package migrator

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/caretakerhq/caretaker/pkg/consts"
	"github.com/caretakerhq/caretaker/pkg/history"
	"github.com/caretakerhq/caretaker/pkg/migration"
	"github.com/caretakerhq/caretaker/pkg/mssql"
	"github.com/caretakerhq/caretaker/pkg/placeholder"
)

type (
	// Config is the runtime configuration recognized by the orchestrator.
	Config struct {
		// Locations is the ordered list of directories to scan.
		Locations []string

		// DefaultSchema hosts the history table and is the value of the
		// flyway:defaultSchema placeholder. Defaults to dbo.
		DefaultSchema string

		// HistoryTable is the history table name. Defaults to
		// flyway_schema_history.
		HistoryTable string

		// BaselineVersion selects the baseline script; the sentinel "1"
		// enables auto-selection.
		BaselineVersion string

		// BaselineOnMigrate enables baseline application on empty
		// databases.
		BaselineOnMigrate bool

		// OutOfOrder permits applying migrations whose version precedes
		// the highest applied.
		OutOfOrder bool

		// Placeholders are user placeholder keys and values.
		Placeholders map[string]string

		// TransactionMode selects per-run or per-migration transactions.
		TransactionMode TransactionMode

		// DryRun reports pending migrations without executing anything.
		DryRun bool

		// InsertFailedRow records a failed history row after a failure in
		// per-migration mode. The reference tool inserts one.
		InsertFailedRow bool
	}

	// Callbacks is an optional set of progress hooks. Nil entries are
	// no-ops, so callers attach only what they need.
	Callbacks struct {
		OnMigrationStart   func(m *migration.Resolved)
		OnMigrationSuccess func(m *migration.Resolved, elapsed time.Duration)
		OnMigrationFailed  func(m *migration.Resolved, err error)
		OnWarning          func(msg string)
	}

	// Migrator composes the scanner, resolver, history table and executor
	// behind the public Migrate/Info/Validate/Baseline/Repair/Clean
	// operations.
	Migrator struct {
		client    *mssql.Client
		cfg       Config
		history   *history.Table
		callbacks Callbacks
	}

	// MigrateResult is the outcome of a Migrate call. Execution errors are
	// reported here, not raised.
	MigrateResult struct {
		Success        bool
		Applied        []*Applied
		Pending        []*Status
		DryRun         bool
		ErrorMessage   string
		FailedVersion  string
		FailedBatch    string
		Warnings       []string
		BaselineChosen string
	}

	// InfoResult classifies every known migration for display.
	InfoResult struct {
		Entries      []*Status
		PendingCount int
	}

	// ValidationError is one validate finding.
	ValidationError struct {
		Version string
		Script  string
		Message string
	}

	// ValidateResult aggregates validate findings; it is never raised as
	// an error.
	ValidateResult struct {
		Valid  bool
		Errors []ValidationError
	}

	// BaselineResult is the outcome of the baseline command.
	BaselineResult struct {
		Success      bool
		Version      string
		ErrorMessage string
	}
)

// New creates a Migrator over an established client connection, applying
// config defaults.
func New(client *mssql.Client, cfg Config) *Migrator {
	if cfg.DefaultSchema == "" {
		cfg.DefaultSchema = consts.DefaultSchema
	}
	if cfg.HistoryTable == "" {
		cfg.HistoryTable = consts.DefaultHistoryTable
	}
	if cfg.BaselineVersion == "" {
		cfg.BaselineVersion = consts.BaselineVersionSentinel
	}
	if cfg.TransactionMode == "" {
		cfg.TransactionMode = TransactionPerRun
	}

	return &Migrator{
		client:  client,
		cfg:     cfg,
		history: history.New(cfg.DefaultSchema, cfg.HistoryTable),
	}
}

// WithCallbacks attaches progress callbacks and returns the Migrator for
// chaining.
func (m *Migrator) WithCallbacks(callbacks Callbacks) *Migrator {
	m.callbacks = callbacks
	return m
}

// History exposes the history table manager (used by commands and tests).
func (m *Migrator) History() *history.Table {
	return m.history
}

// Migrate applies all pending migrations: ensure the history table, insert
// the schema marker on a fresh database, scan locations, resolve the
// pending set and execute it under the configured transaction discipline.
//
// Execution and driver errors are reported through the result; the returned
// error is reserved for misconfiguration.
func (m *Migrator) Migrate(ctx context.Context) (*MigrateResult, error) {
	result := &MigrateResult{DryRun: m.cfg.DryRun}

	warn := func(msg string) {
		result.Warnings = append(result.Warnings, msg)
		m.callbacks.warn(msg)
	}

	db := m.client.DB()
	if err := m.history.EnsureExists(ctx, db); err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	if err := m.history.InsertSchemaMarker(ctx, db, m.client.User()); err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	resolution, err := m.resolve(ctx, warn)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	if resolution.BaselineAutoSelected {
		result.BaselineChosen = resolution.EffectiveBaselineVersion
	}

	if m.cfg.DryRun {
		// Report the execution set, not every PENDING entry: an
		// out-of-order migration is visible in Info but not executed.
		byScript := make(map[string]*Status, len(resolution.Report))
		for _, status := range resolution.Report {
			byScript[status.Script] = status
		}
		for _, mig := range resolution.Pending {
			if status := byScript[mig.Script]; status != nil {
				result.Pending = append(result.Pending, status)
			}
		}
		result.Success = true
		return result, nil
	}

	executor := NewExecutor(ExecutorConfig{
		DB:              db,
		History:         m.history,
		User:            m.client.User(),
		Context:         m.placeholderContext(),
		Placeholders:    m.cfg.Placeholders,
		RequestTimeout:  m.client.RequestTimeout(),
		Mode:            m.cfg.TransactionMode,
		InsertFailedRow: m.cfg.InsertFailedRow,
		Callbacks:       m.callbacks,
	})

	applied, err := executor.Execute(ctx, resolution.Pending)
	result.Applied = applied
	if err != nil {
		result.ErrorMessage = err.Error()

		var batchErr *BatchError
		if errors.As(err, &batchErr) {
			result.FailedVersion = batchErr.Version
			result.FailedBatch = batchErr.Preview
		}
		return result, nil
	}

	result.Success = true
	return result, nil
}

// Info classifies every discovered and recorded migration without touching
// the database state. A missing history table reports everything PENDING.
func (m *Migrator) Info(ctx context.Context) (*InfoResult, error) {
	resolution, err := m.resolve(ctx, m.callbacks.warn)
	if err != nil {
		return nil, err
	}

	result := &InfoResult{Entries: resolution.Report}
	for _, status := range resolution.Report {
		if status.State == StatePending || status.State == StateOutdated {
			result.PendingCount++
		}
	}

	return result, nil
}

// Validate checks every versioned history row against the scripts on disk:
// a failed row, a missing script or a drifted checksum is a finding.
// Findings aggregate into the result; they are never raised.
func (m *Migrator) Validate(ctx context.Context) (*ValidateResult, error) {
	result := &ValidateResult{Valid: true}

	db := m.client.DB()
	exists, err := m.history.Exists(ctx, db)
	if err != nil {
		return nil, err
	}
	if !exists {
		return result, nil
	}

	records, err := m.history.GetAllRecords(ctx, db)
	if err != nil {
		return nil, err
	}

	discovered, err := migration.Scan(m.cfg.Locations, m.callbacks.warn)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*migration.Resolved)
	for _, d := range discovered {
		if d.Version != "" {
			byVersion[d.Version] = d
		}
	}

	for _, record := range records {
		if record.Version == nil || record.Type == history.TypeSchema || record.Type == history.TypeBaseline {
			continue
		}

		if !record.Success {
			result.Errors = append(result.Errors, ValidationError{
				Version: *record.Version,
				Script:  record.Script,
				Message: "migration recorded as failed; run repair to remove the row",
			})
			continue
		}

		found, ok := byVersion[*record.Version]
		if !ok {
			result.Errors = append(result.Errors, ValidationError{
				Version: *record.Version,
				Script:  record.Script,
				Message: "applied migration not found on disk",
			})
			continue
		}

		if record.Checksum == nil || *record.Checksum != found.Checksum {
			result.Errors = append(result.Errors, ValidationError{
				Version: *record.Version,
				Script:  record.Script,
				Message: "checksum mismatch between history and disk",
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

// Baseline marks an existing database as already at the given version:
// ensure the history table, refuse when migration rows exist, insert the
// schema marker if absent and record a BASELINE row.
func (m *Migrator) Baseline(ctx context.Context, version string) (*BaselineResult, error) {
	if version == "" {
		return nil, errors.New("baseline version is required")
	}

	result := &BaselineResult{Version: version}
	db := m.client.DB()

	if err := m.history.EnsureExists(ctx, db); err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	hasRows, err := m.history.HasMigrationRows(ctx, db)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}
	if hasRows {
		result.ErrorMessage = "history table already contains migrations; baseline applies only to unmigrated databases"
		return result, nil
	}

	if err := m.history.InsertSchemaMarker(ctx, db, m.client.User()); err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	rank, err := m.history.GetNextRank(ctx, db)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	if err := m.history.InsertBaseline(ctx, db, rank, version, m.client.User()); err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	result.Success = true
	return result, nil
}

// resolve scans the configured locations and diffs them against history.
func (m *Migrator) resolve(ctx context.Context, warn migration.WarningFunc) (*Resolution, error) {
	discovered, err := migration.Scan(m.cfg.Locations, warn)
	if err != nil {
		return nil, err
	}

	var applied []*history.Record
	db := m.client.DB()
	exists, err := m.history.Exists(ctx, db)
	if err != nil {
		return nil, err
	}
	if exists {
		applied, err = m.history.GetAllRecords(ctx, db)
		if err != nil {
			return nil, err
		}
	}

	return Resolve(ResolveParams{
		Discovered:        discovered,
		Applied:           applied,
		BaselineVersion:   m.cfg.BaselineVersion,
		BaselineOnMigrate: m.cfg.BaselineOnMigrate,
		OutOfOrder:        m.cfg.OutOfOrder,
	}), nil
}

func (m *Migrator) placeholderContext() placeholder.Context {
	return placeholder.Context{
		DefaultSchema: m.cfg.DefaultSchema,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Database:      m.client.Database(),
		User:          m.client.User(),
		Table:         m.cfg.HistoryTable,
	}
}

func (c Callbacks) migrationStart(m *migration.Resolved) {
	if c.OnMigrationStart != nil {
		c.OnMigrationStart(m)
	}
}

func (c Callbacks) migrationSuccess(m *migration.Resolved, elapsed time.Duration) {
	if c.OnMigrationSuccess != nil {
		c.OnMigrationSuccess(m, elapsed)
	}
}

func (c Callbacks) migrationFailed(m *migration.Resolved, err error) {
	if c.OnMigrationFailed != nil {
		c.OnMigrationFailed(m, err)
	}
}

func (c Callbacks) warn(msg string) {
	if c.OnWarning != nil {
		c.OnWarning(msg)
	}
}
