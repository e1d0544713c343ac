package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/caretakerhq/caretaker/pkg/checksum"
	"github.com/caretakerhq/caretaker/pkg/history"
	"github.com/caretakerhq/caretaker/pkg/migration"
	"github.com/caretakerhq/caretaker/pkg/placeholder"
	"github.com/caretakerhq/caretaker/pkg/sqlbatch"
)

// TransactionMode selects the transaction discipline for a run.
type TransactionMode string

const (
	// TransactionPerRun wraps every pending migration in one transaction:
	// the database ends fully migrated with all history rows visible, or
	// entirely unchanged.
	TransactionPerRun TransactionMode = "per-run"

	// TransactionPerMigration commits each migration separately; on
	// failure earlier migrations stay committed.
	TransactionPerMigration TransactionMode = "per-migration"
)

// batchPreviewLen bounds the failing-batch prefix carried in errors.
const batchPreviewLen = 200

type (
	// BatchError reports a failed batch with enough context to locate it:
	// the migration's script and version, the batch's starting line, and a
	// truncated prefix of the batch text.
	BatchError struct {
		Version string
		Script  string
		Line    int
		Preview string
		Err     error
	}

	// Applied describes one successfully executed migration.
	Applied struct {
		Version       string
		Description   string
		Script        string
		Type          migration.Type
		Batches       int
		ExecutionTime time.Duration
	}

	// Executor runs pending migrations against a single connection under
	// the configured transaction discipline, recording history rows in
	// the same transaction as the schema changes.
	Executor struct {
		db              *sql.DB
		history         *history.Table
		user            string
		context         placeholder.Context
		placeholders    map[string]string
		requestTimeout  time.Duration
		mode            TransactionMode
		insertFailedRow bool
		callbacks       Callbacks
	}

	// ExecutorConfig configures a new Executor.
	ExecutorConfig struct {
		// DB is the connection pool (sized 1) for the run.
		DB *sql.DB

		// History is the schema history table manager.
		History *history.Table

		// User is recorded in the installed_by column.
		User string

		// Context supplies the built-in placeholder values. Filename is
		// filled per script by the executor.
		Context placeholder.Context

		// Placeholders are the user placeholder keys.
		Placeholders map[string]string

		// RequestTimeout bounds each batch; zero means no bound.
		RequestTimeout time.Duration

		// Mode is the transaction discipline.
		Mode TransactionMode

		// InsertFailedRow records a success = false row after a failure
		// in per-migration mode.
		InsertFailedRow bool

		// Callbacks receive progress notifications; nil entries are
		// no-ops.
		Callbacks Callbacks
	}
)

// Error implements error, naming the script and line of the failing batch.
func (e *BatchError) Error() string {
	return fmt.Sprintf("migration %s failed at line %d: %v", e.Script, e.Line, e.Err)
}

// Unwrap exposes the underlying driver error.
func (e *BatchError) Unwrap() error { return e.Err }

// NewExecutor creates an executor for a run.
func NewExecutor(cfg ExecutorConfig) *Executor {
	mode := cfg.Mode
	if mode == "" {
		mode = TransactionPerRun
	}

	return &Executor{
		db:              cfg.DB,
		history:         cfg.History,
		user:            cfg.User,
		context:         cfg.Context,
		placeholders:    cfg.Placeholders,
		requestTimeout:  cfg.RequestTimeout,
		mode:            mode,
		insertFailedRow: cfg.InsertFailedRow,
		callbacks:       cfg.Callbacks,
	}
}

// Execute runs the pending migrations in order under the configured
// transaction discipline. On success it returns one Applied entry per
// migration. On failure it returns the migrations that remain committed
// (none in per-run mode) together with the error, normally a *BatchError.
func (e *Executor) Execute(ctx context.Context, pending []*migration.Resolved) ([]*Applied, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	if e.mode == TransactionPerMigration {
		return e.executePerMigration(ctx, pending)
	}
	return e.executePerRun(ctx, pending)
}

func (e *Executor) executePerRun(ctx context.Context, pending []*migration.Resolved) ([]*Applied, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}

	rank, err := e.history.GetNextRank(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	var applied []*Applied
	for _, m := range pending {
		result, err := e.executeOne(ctx, tx, m)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return nil, errors.Wrapf(err, "rollback also failed: %v", rbErr)
			}
			return nil, err
		}

		ms := int(result.ExecutionTime.Milliseconds())
		if err := e.history.InsertAppliedMigration(ctx, tx, m, rank, ms, e.user); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		rank++
		applied = append(applied, result)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit migration transaction")
	}

	return applied, nil
}

func (e *Executor) executePerMigration(ctx context.Context, pending []*migration.Resolved) ([]*Applied, error) {
	var applied []*Applied

	for _, m := range pending {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return applied, errors.Wrap(err, "failed to begin transaction")
		}

		rank, err := e.history.GetNextRank(ctx, tx)
		if err != nil {
			_ = tx.Rollback()
			return applied, err
		}

		result, execErr := e.executeOne(ctx, tx, m)
		if execErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return applied, errors.Wrapf(execErr, "rollback also failed: %v", rbErr)
			}

			if e.insertFailedRow {
				// The transaction is gone; the failed row rides its own
				// autocommit statement.
				if err := e.recordFailure(ctx, m); err != nil {
					e.callbacks.warn("failed to record failure row: " + err.Error())
				}
			}

			return applied, execErr
		}

		ms := int(result.ExecutionTime.Milliseconds())
		if err := e.history.InsertAppliedMigration(ctx, tx, m, rank, ms, e.user); err != nil {
			_ = tx.Rollback()
			return applied, err
		}

		if err := tx.Commit(); err != nil {
			return applied, errors.Wrapf(err, "failed to commit migration %s", m.Script)
		}

		applied = append(applied, result)
	}

	return applied, nil
}

// executeOne substitutes placeholders, splits the script and sends every
// batch to the server over q. For repeatable migrations the checksum is
// recomputed over the substituted body first, so the recorded row reflects
// what actually ran (and runtime-varying placeholders force the next run to
// classify the script OUTDATED).
func (e *Executor) executeOne(ctx context.Context, q history.Querier, m *migration.Resolved) (*Applied, error) {
	e.callbacks.migrationStart(m)

	pctx := e.context
	pctx.Filename = m.Filename
	body := placeholder.New(pctx, e.placeholders).Substitute(m.SQL)

	if m.Type == migration.TypeRepeatable {
		m.Checksum = checksum.Compute(body)
	}

	batches := sqlbatch.Split(body)

	start := time.Now()
	for _, batch := range batches {
		for i := 0; i < batch.RepeatCount; i++ {
			if err := e.execBatch(ctx, q, batch.SQL); err != nil {
				batchErr := &BatchError{
					Version: m.Version,
					Script:  m.Script,
					Line:    batch.StartLine,
					Preview: preview(batch.SQL),
					Err:     err,
				}
				e.callbacks.migrationFailed(m, batchErr)
				return nil, batchErr
			}
		}
	}
	elapsed := time.Since(start)

	result := &Applied{
		Version:       m.Version,
		Description:   m.Description,
		Script:        m.Script,
		Type:          m.Type,
		Batches:       len(batches),
		ExecutionTime: elapsed,
	}
	e.callbacks.migrationSuccess(m, elapsed)

	return result, nil
}

func (e *Executor) execBatch(ctx context.Context, q history.Querier, batchSQL string) error {
	if e.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.requestTimeout)
		defer cancel()
	}

	_, err := q.ExecContext(ctx, batchSQL)
	return err
}

func (e *Executor) recordFailure(ctx context.Context, m *migration.Resolved) error {
	rank, err := e.history.GetNextRank(ctx, e.db)
	if err != nil {
		return err
	}

	return e.history.InsertFailedMigration(ctx, e.db, m, rank, 0, e.user)
}

func preview(batchSQL string) string {
	if len(batchSQL) <= batchPreviewLen {
		return batchSQL
	}
	return batchSQL[:batchPreviewLen] + "..."
}
