package cmd

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/caretakerhq/caretaker/pkg/config"
	"github.com/caretakerhq/caretaker/pkg/migrator"
	"github.com/caretakerhq/caretaker/pkg/mssql"
)

// Connection flags shared by every command that talks to the database.
// Values from caretaker.yaml act as defaults; flags and environment
// variables override them.
func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "SQL Server hostname",
			Sources: cli.EnvVars("CARETAKER_SERVER"),
			Config:  cli.StringConfig{TrimSpace: true},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "SQL Server TCP port",
			Sources: cli.EnvVars("CARETAKER_PORT"),
		},
		&cli.StringFlag{
			Name:    "database",
			Usage:   "target database name",
			Sources: cli.EnvVars("CARETAKER_DATABASE"),
			Config:  cli.StringConfig{TrimSpace: true},
		},
		&cli.StringFlag{
			Name:    "user",
			Usage:   "SQL login name",
			Sources: cli.EnvVars("CARETAKER_USER"),
			Config:  cli.StringConfig{TrimSpace: true},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "SQL login password",
			Sources: cli.EnvVars("CARETAKER_PASSWORD"),
		},
	}
}

// connect builds the connection parameters from config plus flag
// overrides and opens the single-connection pool.
func connect(ctx context.Context, cfg *config.Config, cmd *cli.Command) (*mssql.Client, error) {
	params := cfg.ConnectionParams()

	if s := cmd.String("server"); s != "" {
		params.Server = s
	}
	if p := cmd.Int("port"); p != 0 {
		params.Port = int(p)
	}
	if d := cmd.String("database"); d != "" {
		params.Database = d
	}
	if u := cmd.String("user"); u != "" {
		params.User = u
	}
	if pw := cmd.String("password"); pw != "" {
		params.Password = pw
	}

	return mssql.Connect(ctx, params)
}

// newMigrator builds the orchestrator over an established connection.
func newMigrator(client *mssql.Client, cfg *config.Config) *migrator.Migrator {
	return migrator.New(client, cfg.MigratorConfig())
}
