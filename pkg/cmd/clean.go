package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/caretakerhq/caretaker/pkg/config"
)

type cleanParams struct {
	fx.In

	Config *config.Config
}

// clean creates the clean command for dropping every object in the default
// schema.
func clean(p cleanParams) *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Drop all objects in the default schema",
		Description: `Drop every object in the configured default schema: foreign keys, tables
(including the history table), views, procedures and functions. The schema
itself is kept. The next migrate run starts from scratch.

This is destructive and intended for development databases; it refuses to
run without --force.`,
		Before: requireConfig(p.Config),
		Flags: append(connectionFlags(),
			&cli.BoolFlag{
				Name:  "force",
				Usage: "confirm dropping every object in the schema",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runClean(ctx, cmd, p)
		},
	}
}

func runClean(ctx context.Context, cmd *cli.Command, p cleanParams) error {
	if !cmd.Bool("force") {
		return errors.New("clean drops every object in the schema; re-run with --force to confirm")
	}

	slog.Info("Cleaning schema", "schema", p.Config.DefaultSchema)

	client, err := connect(ctx, p.Config, cmd)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SQL Server")
	}
	defer func() { _ = client.Close() }()

	result, err := newMigrator(client, p.Config).Clean(ctx)
	if err != nil {
		return err
	}

	if !result.Success {
		fmt.Printf("❌ Clean failed: %s\n", result.ErrorMessage)
		return errors.New(result.ErrorMessage)
	}

	fmt.Printf("✅ Dropped %d object(s) from schema %s.\n", result.DroppedObjects, p.Config.DefaultSchema)
	return nil
}
