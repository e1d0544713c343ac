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

type baselineParams struct {
	fx.In

	Config *config.Config
}

// baseline creates the baseline command for marking an existing database
// as already migrated up to a version.
func baseline(p baselineParams) *cli.Command {
	return &cli.Command{
		Name:  "baseline",
		Usage: "Mark an existing database as baselined at a version",
		Description: `Record a BASELINE row in the schema history table, declaring that the
database already contains everything up to the given version. Subsequent
migrate runs skip versioned migrations at or below it.

The command refuses to run against a database that already has migration
history; only the schema creation marker may exist.`,
		Before: requireConfig(p.Config),
		Flags: append(connectionFlags(),
			&cli.StringFlag{
				Name:     "version",
				Usage:    "the baseline version to record",
				Required: true,
				Config:   cli.StringConfig{TrimSpace: true},
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runBaseline(ctx, cmd, p)
		},
	}
}

func runBaseline(ctx context.Context, cmd *cli.Command, p baselineParams) error {
	version := cmd.String("version")

	slog.Info("Recording baseline", "version", version)

	client, err := connect(ctx, p.Config, cmd)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SQL Server")
	}
	defer func() { _ = client.Close() }()

	result, err := newMigrator(client, p.Config).Baseline(ctx, version)
	if err != nil {
		return err
	}

	if !result.Success {
		fmt.Printf("❌ Baseline failed: %s\n", result.ErrorMessage)
		return errors.New(result.ErrorMessage)
	}

	fmt.Printf("✅ Baseline recorded at version %s.\n", result.Version)
	return nil
}
