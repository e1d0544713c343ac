package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/caretakerhq/caretaker/pkg/config"
)

type (
	// Params collects everything the CLI application needs from the fx
	// graph.
	Params struct {
		fx.In

		Args       []string
		Commands   []*cli.Command `group:"commands"`
		Ctx        context.Context
		Lifecycle  fx.Lifecycle
		Shutdowner fx.Shutdowner
		Version    *Version
	}

	// Version carries build metadata stamped by the release pipeline.
	Version struct {
		Version   string
		Commit    string
		Timestamp string
	}
)

// Run creates and executes the main caretaker CLI application.
//
// The application wires the registered commands, handles the global --dir
// flag for selecting the project directory, and propagates the context for
// cancellation support.
func Run(p Params) {
	cli.VersionPrinter = func(cmd *cli.Command) {
		fmt.Fprintln(cmd.Writer, "Version:", p.Version.Version)
		fmt.Fprintln(cmd.Writer, "Commit:", p.Version.Commit)
		fmt.Fprintln(cmd.Writer, "Date:", p.Version.Timestamp)
	}

	app := &cli.Command{
		Name:  "caretaker",
		Usage: "A schema migration tool for Microsoft SQL Server",
		Description: `caretaker discovers versioned, baseline and repeatable SQL migration
scripts on disk, determines which are pending by consulting the schema
history table, and applies them inside database transactions. The history
table format is wire-compatible with Flyway.`,
		Version: p.Version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "the project directory",
				Value:       ".",
				DefaultText: "Current directory",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := os.Chdir(cmd.String("dir")); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Commands: p.Commands,
	}

	p.Lifecycle.Append(fx.StartHook(func() {
		if err := app.Run(p.Ctx, p.Args); err != nil {
			slog.Error("Error running command", "err", err)
			_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
			return
		}

		_ = p.Shutdowner.Shutdown(fx.ExitCode(0))
	}))
}

func requireConfig(cfg *config.Config) func(context.Context, *cli.Command) (context.Context, error) {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		if cfg == nil {
			return ctx, errors.New(config.ConfigFile + " not found")
		}

		return ctx, nil
	}
}
