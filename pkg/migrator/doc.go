// Package migrator orchestrates SQL Server schema migrations.
//
// The package composes the filename scanner, the resolver that diffs
// discovered scripts against the schema history table, and the executor
// that runs batches under one of two transaction disciplines:
//
//   - per-run: one transaction around every pending migration; a failure
//     rolls everything back, including the history rows, so the database is
//     either fully migrated or untouched.
//   - per-migration: a transaction per script; a failure stops the run but
//     earlier migrations stay committed.
//
// History rows are inserted inside the same transaction as the schema
// changes they describe, so progress is never observable without the
// corresponding change (or vice-versa).
//
// All database work is strictly sequential over a single connection: one
// migration in flight at a time, one batch in flight at a time. No
// concurrency is introduced anywhere in the pipeline.
//
// Example usage:
//
//	client, err := mssql.Connect(ctx, params)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	m := migrator.New(client, migrator.Config{
//		Locations: []string{"db/migrations"},
//	}).WithCallbacks(migrator.Callbacks{
//		OnMigrationSuccess: func(mig *migration.Resolved, elapsed time.Duration) {
//			fmt.Printf("applied %s in %v\n", mig.Script, elapsed)
//		},
//	})
//
//	result, err := m.Migrate(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if !result.Success {
//		log.Fatalf("migration failed: %s", result.ErrorMessage)
//	}
package migrator
