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

type validateParams struct {
	fx.In

	Config *config.Config
}

// validate creates the validate command for checking applied migrations
// against the scripts on disk.
func validate(p validateParams) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Verify applied migrations against scripts on disk",
		Description: `Compare every versioned history row against the scripts currently on
disk. A row recorded as failed, a script that no longer exists, or a
checksum that differs from the recorded value is reported as a finding.

Findings indicate failed runs or migration files edited or removed after
being applied. Use repair to remove failed rows and realign recorded
checksums once the drift is understood.`,
		Before: requireConfig(p.Config),
		Flags:  connectionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runValidate(ctx, cmd, p)
		},
	}
}

func runValidate(ctx context.Context, cmd *cli.Command, p validateParams) error {
	slog.Info("Validating applied migrations", "locations", p.Config.Locations)

	client, err := connect(ctx, p.Config, cmd)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SQL Server")
	}
	defer func() { _ = client.Close() }()

	result, err := newMigrator(client, p.Config).Validate(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to validate migrations")
	}

	if result.Valid {
		fmt.Println("✅ All applied migrations match the scripts on disk.")
		return nil
	}

	fmt.Printf("❌ Validation failed with %d finding(s):\n", len(result.Errors))
	for _, finding := range result.Errors {
		fmt.Printf("  - version %s (%s): %s\n", finding.Version, finding.Script, finding.Message)
	}

	return errors.Errorf("validation failed with %d finding(s)", len(result.Errors))
}
