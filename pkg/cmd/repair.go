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

type repairParams struct {
	fx.In

	Config *config.Config
}

// repair creates the repair command for cleaning up the history table.
func repair(p repairParams) *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Remove failed rows and realign checksums in the history table",
		Description: `Repair performs the two history mutations nothing else is allowed to:

- delete rows recorded with success = false (left by failed runs in
  per-migration mode), and
- rewrite recorded checksums to match the scripts currently on disk.

Run it after deliberately editing an already-applied migration, or to clear
a failed row before retrying.`,
		Before: requireConfig(p.Config),
		Flags:  connectionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runRepair(ctx, cmd, p)
		},
	}
}

func runRepair(ctx context.Context, cmd *cli.Command, p repairParams) error {
	slog.Info("Repairing history table", "locations", p.Config.Locations)

	client, err := connect(ctx, p.Config, cmd)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SQL Server")
	}
	defer func() { _ = client.Close() }()

	result, err := newMigrator(client, p.Config).Repair(ctx)
	if err != nil {
		return err
	}

	if !result.Success {
		fmt.Printf("❌ Repair failed: %s\n", result.ErrorMessage)
		return errors.New(result.ErrorMessage)
	}

	fmt.Printf("✅ Repair complete: removed %d failed row(s), realigned %d checksum(s).\n",
		result.RemovedFailed, result.AlignedRecords)
	return nil
}
