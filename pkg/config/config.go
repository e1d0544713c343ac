package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/caretakerhq/caretaker/pkg/consts"
	"github.com/caretakerhq/caretaker/pkg/migrator"
	"github.com/caretakerhq/caretaker/pkg/mssql"
)

type (
	// Connection holds the SQL Server connection settings.
	Connection struct {
		// Server is the hostname or IP of the SQL Server instance.
		Server string `yaml:"server"`

		// Port is the TCP port (default 1433).
		Port int `yaml:"port,omitempty"`

		// Database is the target database name.
		Database string `yaml:"database"`

		// User is the SQL login name.
		User string `yaml:"user"`

		// Password is the SQL login password. Prefer supplying it via the
		// CARETAKER_PASSWORD environment variable over the config file.
		Password string `yaml:"password,omitempty"`

		// Encrypt enables TLS (default true for cloud compatibility).
		Encrypt *bool `yaml:"encrypt,omitempty"`

		// TrustServerCertificate skips certificate chain validation
		// (default true).
		TrustServerCertificate *bool `yaml:"trust_server_certificate,omitempty"`

		// RequestTimeoutMS bounds each batch (default 300000).
		RequestTimeoutMS int `yaml:"request_timeout_ms,omitempty"`

		// ConnectionTimeoutMS bounds the connection handshake
		// (default 30000).
		ConnectionTimeoutMS int `yaml:"connection_timeout_ms,omitempty"`
	}

	// Config represents the project configuration for SQL Server schema
	// migrations.
	Config struct {
		// Connection contains the SQL Server connection settings.
		Connection Connection `yaml:"connection"`

		// Locations is the ordered list of migration directories to scan.
		Locations []string `yaml:"locations"`

		// DefaultSchema hosts the history table and feeds the
		// flyway:defaultSchema placeholder (default dbo).
		DefaultSchema string `yaml:"default_schema,omitempty"`

		// HistoryTable is the history table name (default
		// flyway_schema_history).
		HistoryTable string `yaml:"history_table,omitempty"`

		// BaselineVersion selects the baseline script; "1" (the default)
		// means auto-select the highest-versioned baseline.
		BaselineVersion string `yaml:"baseline_version,omitempty"`

		// BaselineOnMigrate enables baseline application on empty
		// databases.
		BaselineOnMigrate bool `yaml:"baseline_on_migrate,omitempty"`

		// OutOfOrder permits applying migrations older than the highest
		// applied version.
		OutOfOrder bool `yaml:"out_of_order,omitempty"`

		// Placeholders maps user placeholder keys to values.
		Placeholders map[string]string `yaml:"placeholders,omitempty"`

		// TransactionMode is per-run (default) or per-migration.
		TransactionMode string `yaml:"transaction_mode,omitempty"`

		// InsertFailedRow records a failed history row after a failure in
		// per-migration mode (default true, matching the reference tool).
		InsertFailedRow *bool `yaml:"insert_failed_row,omitempty"`
	}
)

// Load parses a project configuration from the provided io.Reader and
// applies defaults for everything left unset.
//
// Example:
//
//	yamlData := `
//	connection:
//	  server: localhost
//	  database: app
//	  user: sa
//	locations:
//	  - db/migrations
//	`
//
//	cfg, err := config.Load(strings.NewReader(yamlData))
//	if err != nil {
//		panic(err)
//	}
func Load(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFile loads a project configuration from the specified file path.
// This is a convenience function that opens the file and calls Load.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

func (c *Config) applyDefaults() {
	if len(c.Locations) == 0 {
		c.Locations = []string{"db/migrations"}
	}
	if c.DefaultSchema == "" {
		c.DefaultSchema = consts.DefaultSchema
	}
	if c.HistoryTable == "" {
		c.HistoryTable = consts.DefaultHistoryTable
	}
	if c.BaselineVersion == "" {
		c.BaselineVersion = consts.BaselineVersionSentinel
	}
	if c.TransactionMode == "" {
		c.TransactionMode = string(migrator.TransactionPerRun)
	}
	if c.Connection.Port == 0 {
		c.Connection.Port = consts.DefaultPort
	}
	if c.Connection.RequestTimeoutMS == 0 {
		c.Connection.RequestTimeoutMS = consts.DefaultRequestTimeoutMS
	}
	if c.Connection.ConnectionTimeoutMS == 0 {
		c.Connection.ConnectionTimeoutMS = consts.DefaultConnectionTimeoutMS
	}
}

// ConnectionParams converts the config's connection section into driver
// parameters.
func (c *Config) ConnectionParams() mssql.ConnectionParams {
	params := mssql.Defaults()
	params.Server = c.Connection.Server
	params.Port = c.Connection.Port
	params.Database = c.Connection.Database
	params.User = c.Connection.User
	params.Password = c.Connection.Password
	params.RequestTimeout = time.Duration(c.Connection.RequestTimeoutMS) * time.Millisecond
	params.ConnectionTimeout = time.Duration(c.Connection.ConnectionTimeoutMS) * time.Millisecond

	if c.Connection.Encrypt != nil {
		params.Encrypt = *c.Connection.Encrypt
	}
	if c.Connection.TrustServerCertificate != nil {
		params.TrustServerCertificate = *c.Connection.TrustServerCertificate
	}

	return params
}

// MigratorConfig converts the config into the orchestrator's runtime
// configuration.
func (c *Config) MigratorConfig() migrator.Config {
	insertFailedRow := true
	if c.InsertFailedRow != nil {
		insertFailedRow = *c.InsertFailedRow
	}

	return migrator.Config{
		Locations:         c.Locations,
		DefaultSchema:     c.DefaultSchema,
		HistoryTable:      c.HistoryTable,
		BaselineVersion:   c.BaselineVersion,
		BaselineOnMigrate: c.BaselineOnMigrate,
		OutOfOrder:        c.OutOfOrder,
		Placeholders:      c.Placeholders,
		TransactionMode:   migrator.TransactionMode(c.TransactionMode),
		InsertFailedRow:   insertFailedRow,
	}
}
