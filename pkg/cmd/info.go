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

type infoParams struct {
	fx.In

	Config *config.Config
}

// info creates the info command for showing migration status.
//
// Example usage:
//
//	# Show the classified state of every migration
//	caretaker info
func info(p infoParams) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show migration status",
		Description: `Display the classified state of every known migration: the union of
scripts discovered on disk and rows recorded in the schema history table.

States:
- PENDING         not applied yet (or skipped as out-of-order)
- APPLIED         recorded as successfully applied
- FAILED          recorded with success = false
- OUTDATED        repeatable script whose checksum drifted; will re-run
- MISSING         applied row whose script no longer exists on disk
- BASELINE        baseline entries and markers
- ABOVE_BASELINE  versioned migration subsumed by the selected baseline`,
		Before: requireConfig(p.Config),
		Flags:  connectionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runInfo(ctx, cmd, p)
		},
	}
}

func runInfo(ctx context.Context, cmd *cli.Command, p infoParams) error {
	slog.Info("Collecting migration status", "locations", p.Config.Locations)

	client, err := connect(ctx, p.Config, cmd)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SQL Server")
	}
	defer func() { _ = client.Close() }()

	result, err := newMigrator(client, p.Config).Info(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to collect migration status")
	}

	if len(result.Entries) == 0 {
		fmt.Println("No migrations found.")
		return nil
	}

	fmt.Printf("%-15s %-14s %-40s %s\n", "Version", "State", "Description", "Installed On")
	for _, entry := range result.Entries {
		version := entry.Version
		if version == "" {
			version = "-"
		}

		installed := ""
		if entry.InstalledOn != nil {
			installed = entry.InstalledOn.Format("2006-01-02 15:04:05")
		}

		fmt.Printf("%-15s %-14s %-40s %s\n", version, entry.State, entry.Description, installed)
	}

	fmt.Println()
	fmt.Printf("%d migration(s) pending.\n", result.PendingCount)

	return nil
}
