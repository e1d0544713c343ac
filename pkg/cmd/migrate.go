package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/caretakerhq/caretaker/pkg/config"
	"github.com/caretakerhq/caretaker/pkg/migration"
	"github.com/caretakerhq/caretaker/pkg/migrator"
)

type migrateParams struct {
	fx.In

	Config *config.Config
}

// migrate creates the migrate command for applying pending migrations.
//
// The migrate command executes all pending migrations against the
// configured SQL Server database, updating the schema history table in the
// same transaction(s) as the schema changes.
//
// Example usage:
//
//	# Apply all pending migrations
//	caretaker migrate
//
//	# Show what would be executed without applying
//	caretaker migrate --dry-run
//
//	# Apply each migration in its own transaction
//	caretaker migrate --transaction-mode per-migration
func migrate(p migrateParams) *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"apply"},
		Usage:   "Apply pending migrations to SQL Server",
		Description: `Apply all pending migrations to the configured SQL Server database.

Migrations execute in resolver order: the selected baseline (when baselining
an empty database), versioned migrations by ascending version, then changed
repeatable migrations. History rows are written in the same transaction as
the schema changes, so a failed run never leaves progress recorded without
the corresponding change.

Transaction modes:
- per-run (default): one transaction around the whole run; any failure
  rolls back every change and every history row.
- per-migration: each migration commits separately; a failure stops the
  run but keeps earlier migrations.`,
		Before: requireConfig(p.Config),
		Flags: append(connectionFlags(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Show what would be executed without applying changes",
			},
			&cli.StringFlag{
				Name:   "transaction-mode",
				Usage:  "per-run or per-migration",
				Config: cli.StringConfig{TrimSpace: true},
			},
			&cli.BoolFlag{
				Name:  "out-of-order",
				Usage: "Apply migrations whose version precedes the highest applied",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runMigrate(ctx, cmd, p)
		},
	}
}

func runMigrate(ctx context.Context, cmd *cli.Command, p migrateParams) error {
	dryRun := cmd.Bool("dry-run")

	slog.Info("Starting migration run",
		"locations", p.Config.Locations,
		"schema", p.Config.DefaultSchema,
		"dry_run", dryRun,
	)

	client, err := connect(ctx, p.Config, cmd)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SQL Server")
	}
	defer func() { _ = client.Close() }()

	mcfg := p.Config.MigratorConfig()
	mcfg.DryRun = dryRun
	if mode := cmd.String("transaction-mode"); mode != "" {
		mcfg.TransactionMode = migrator.TransactionMode(mode)
	}
	if cmd.Bool("out-of-order") {
		mcfg.OutOfOrder = true
	}

	m := migrator.New(client, mcfg).WithCallbacks(migrator.Callbacks{
		OnMigrationStart: func(mig *migration.Resolved) {
			fmt.Printf("  ▶  %s\n", mig.Script)
		},
		OnMigrationSuccess: func(mig *migration.Resolved, elapsed time.Duration) {
			fmt.Printf("  ✅ %s completed in %v\n", mig.Script, elapsed)
		},
		OnMigrationFailed: func(mig *migration.Resolved, err error) {
			fmt.Printf("  ❌ %s failed: %v\n", mig.Script, err)
		},
		OnWarning: func(msg string) {
			slog.Warn(msg)
		},
	})

	result, err := m.Migrate(ctx)
	if err != nil {
		return err
	}

	return reportMigrate(result)
}

func reportMigrate(result *migrator.MigrateResult) error {
	fmt.Println()

	if result.DryRun {
		if len(result.Pending) == 0 {
			fmt.Println("Dry run: all migrations are up to date.")
			return nil
		}

		fmt.Printf("Dry run: %d migration(s) would be executed:\n", len(result.Pending))
		for _, status := range result.Pending {
			fmt.Printf("  ▶  %s (%s)\n", status.Script, status.State)
		}
		return nil
	}

	if result.BaselineChosen != "" {
		fmt.Printf("Auto-selected baseline version %s\n", result.BaselineChosen)
	}

	if !result.Success {
		fmt.Printf("❌ Migration run failed: %s\n", result.ErrorMessage)
		if result.FailedVersion != "" {
			fmt.Printf("   Failing version: %s\n", result.FailedVersion)
		}
		if result.FailedBatch != "" {
			fmt.Printf("   Failing batch: %s\n", result.FailedBatch)
		}
		return errors.New(result.ErrorMessage)
	}

	if len(result.Applied) == 0 {
		fmt.Println("ℹ️  All migrations are up to date.")
		return nil
	}

	fmt.Printf("✅ Applied %d migration(s) successfully.\n", len(result.Applied))
	return nil
}
