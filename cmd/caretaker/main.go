package main

import (
	"context"
	"os"

	"go.uber.org/fx"

	"github.com/caretakerhq/caretaker/pkg/cmd"
	"github.com/caretakerhq/caretaker/pkg/config"
)

// NB: These are set by GoReleaser during a build.
var (
	version string
	commit  string
	date    string
)

func main() {
	fx.New(
		fx.NopLogger,
		fx.Provide(
			func() []string { return os.Args },
			func() context.Context { return context.Background() },
			func() *cmd.Version {
				return &cmd.Version{Version: version, Commit: commit, Timestamp: date}
			},
		),
		config.Module,
		cmd.Module,
	).Run()
}
