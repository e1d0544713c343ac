// Package mssql wraps the SQL Server driver connection used by the
// migration engine.
//
// The pool is deliberately sized to a single connection: a migration run
// holds one transaction across many batches, and the transaction is only
// coherent when every batch travels over the same connection.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	// Registers the "sqlserver" database/sql driver.
	_ "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"

	"github.com/caretakerhq/caretaker/pkg/consts"
)

type (
	// ConnectionParams holds everything needed to reach a SQL Server
	// instance. Server, Database and User are required.
	ConnectionParams struct {
		// Server is the hostname or IP of the SQL Server instance.
		Server string

		// Port is the TCP port (default 1433).
		Port int

		// Database is the target database name.
		Database string

		// User is the SQL login name.
		User string

		// Password is the SQL login password.
		Password string

		// Encrypt enables TLS on the connection. Defaults to true for
		// cloud compatibility.
		Encrypt bool

		// TrustServerCertificate skips certificate chain validation.
		// Defaults to true.
		TrustServerCertificate bool

		// RequestTimeout bounds each batch sent to the server
		// (default 300s).
		RequestTimeout time.Duration

		// ConnectionTimeout bounds the initial handshake (default 30s).
		ConnectionTimeout time.Duration
	}

	// Client represents a SQL Server database connection.
	Client struct {
		db     *sql.DB
		params ConnectionParams
	}
)

// Defaults returns ConnectionParams with every optional field set to its
// default value.
func Defaults() ConnectionParams {
	return ConnectionParams{
		Port:                   consts.DefaultPort,
		Encrypt:                true,
		TrustServerCertificate: true,
		RequestTimeout:         consts.DefaultRequestTimeoutMS * time.Millisecond,
		ConnectionTimeout:      consts.DefaultConnectionTimeoutMS * time.Millisecond,
	}
}

// Connect opens a connection to SQL Server and verifies it with a ping.
//
// Example:
//
//	params := mssql.Defaults()
//	params.Server = "localhost"
//	params.Database = "app"
//	params.User = "sa"
//	params.Password = "..."
//
//	client, err := mssql.Connect(ctx, params)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
func Connect(ctx context.Context, params ConnectionParams) (*Client, error) {
	dsn, err := DSN(params)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open connection")
	}

	// One connection for the whole run keeps the transaction coherent
	// across batches.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, params.ConnectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s:%d", params.Server, params.Port)
	}

	return &Client{db: db, params: params}, nil
}

// NewClientWithDB wraps an already-open pool. Used by tests and embedders
// that manage the connection themselves; the pool should be sized 1 so
// transactions stay coherent across batches.
func NewClientWithDB(db *sql.DB, params ConnectionParams) *Client {
	return &Client{db: db, params: params}
}

// DSN builds the sqlserver:// connection string for the given parameters.
// It fails on missing required fields (server, database, user), the only
// errors that escape public entry points as misconfiguration.
func DSN(params ConnectionParams) (string, error) {
	if params.Server == "" {
		return "", errors.New("connection parameter server is required")
	}
	if params.Database == "" {
		return "", errors.New("connection parameter database is required")
	}
	if params.User == "" {
		return "", errors.New("connection parameter user is required")
	}

	port := params.Port
	if port == 0 {
		port = consts.DefaultPort
	}

	query := url.Values{}
	query.Set("database", params.Database)
	query.Set("encrypt", boolParam(params.Encrypt))
	query.Set("TrustServerCertificate", boolParam(params.TrustServerCertificate))
	if params.ConnectionTimeout > 0 {
		seconds := int(params.ConnectionTimeout / time.Second)
		query.Set("dial timeout", fmt.Sprintf("%d", seconds))
		query.Set("connection timeout", fmt.Sprintf("%d", seconds))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(params.User, params.Password),
		Host:     fmt.Sprintf("%s:%d", params.Server, port),
		RawQuery: query.Encode(),
	}

	return u.String(), nil
}

// DB exposes the underlying pool (sized 1) for the executor and history
// table manager.
func (c *Client) DB() *sql.DB {
	return c.db
}

// RequestTimeout returns the configured per-batch timeout.
func (c *Client) RequestTimeout() time.Duration {
	return c.params.RequestTimeout
}

// Database returns the connected database name.
func (c *Client) Database() string {
	return c.params.Database
}

// User returns the login name used for the connection; it is recorded in
// the history table's installed_by column.
func (c *Client) User() string {
	return c.params.User
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
