// Package cmd implements the caretaker CLI commands.
//
// Each command is constructed by a function taking an fx.In parameter
// struct and registered into the fx command group (see fx.go). Commands
// read their defaults from caretaker.yaml via pkg/config and accept flag
// and environment-variable overrides for connection settings.
//
// Commands:
//   - migrate: apply pending migrations (supports --dry-run)
//   - info: show the classified state of every migration
//   - validate: verify applied migrations against scripts on disk
//   - baseline: mark an unmigrated database as baselined at a version
//   - repair: delete failed rows and realign recorded checksums
//   - clean: drop every object in the default schema (requires --force)
package cmd
