// Package testutil provides docker-gated helpers for integration tests.
package testutil

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmssql "github.com/testcontainers/testcontainers-go/modules/mssql"

	"github.com/caretakerhq/caretaker/pkg/mssql"
)

// SQLServerImage is the container image used for integration tests.
const SQLServerImage = "mcr.microsoft.com/mssql/server:2022-latest"

// SQLServerPassword satisfies the image's password policy.
const SQLServerPassword = "Caretaker(!)Str0ng"

// SkipIfNoDocker skips the test if Docker is not available.
func SkipIfNoDocker(t *testing.T) {
	t.Helper()

	// Check if Docker binary exists
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("Docker not available")
	}

	// Check if Docker daemon is running
	cmd := exec.CommandContext(t.Context(), "docker", "ps")
	if err := cmd.Run(); err != nil {
		t.Skip("Docker daemon not running")
	}
}

// StartSQLServerContainer starts a SQL Server container and returns
// connection parameters pointed at its master database. The container is
// stopped when the test finishes.
func StartSQLServerContainer(t *testing.T) mssql.ConnectionParams {
	t.Helper()

	SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tcmssql.Run(ctx, SQLServerImage,
		tcmssql.WithAcceptEULA(),
		tcmssql.WithPassword(SQLServerPassword),
	)
	require.NoError(t, err, "Failed to start SQL Server container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err, "Failed to resolve container host")

	port, err := container.MappedPort(ctx, "1433/tcp")
	require.NoError(t, err, "Failed to resolve container port")

	params := mssql.Defaults()
	params.Server = host
	params.Port = port.Int()
	params.Database = "master"
	params.User = "sa"
	params.Password = SQLServerPassword
	params.Encrypt = false

	return params
}
