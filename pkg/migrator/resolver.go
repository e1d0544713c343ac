package migrator

import (
	"sort"
	"time"

	"github.com/caretakerhq/caretaker/pkg/consts"
	"github.com/caretakerhq/caretaker/pkg/history"
	"github.com/caretakerhq/caretaker/pkg/migration"
)

// State classifies a migration for reporting. States other than PENDING and
// OUTDATED never enter the pending execution list.
type State string

const (
	// StatePending is a migration that has not been applied yet.
	StatePending State = "PENDING"

	// StateApplied is a migration recorded as successfully applied.
	StateApplied State = "APPLIED"

	// StateMissing is a history row whose script no longer exists on disk.
	StateMissing State = "MISSING"

	// StateFailed is a migration recorded with success = false.
	StateFailed State = "FAILED"

	// StateOutdated is a repeatable migration whose checksum drifted from
	// its last recorded run; it will be re-executed.
	StateOutdated State = "OUTDATED"

	// StateBaseline is a baseline entry (a marker row, an applied baseline
	// script, or an unselected baseline file).
	StateBaseline State = "BASELINE"

	// StateAboveBaseline is a versioned migration subsumed by the selected
	// baseline and therefore never executed.
	StateAboveBaseline State = "ABOVE_BASELINE"
)

type (
	// ResolveParams are the inputs to Resolve.
	ResolveParams struct {
		// Discovered is every migration found on disk, in discovery order.
		Discovered []*migration.Resolved

		// Applied is the full history table, ordered by installed_rank.
		Applied []*history.Record

		// BaselineVersion selects the baseline script when baselining an
		// empty database. The sentinel "1" means "not explicitly set" and
		// enables auto-selection of the highest-versioned baseline.
		BaselineVersion string

		// BaselineOnMigrate enables baseline application on databases with
		// no prior migration history.
		BaselineOnMigrate bool

		// OutOfOrder permits executing a migration whose version precedes
		// the highest applied version.
		OutOfOrder bool
	}

	// Status is one classified entry of the status report, the union of
	// disk and history entries.
	Status struct {
		Type        migration.Type
		Version     string
		Description string
		Script      string
		State       State
		InstalledOn *time.Time
	}

	// Resolution is the outcome of diffing discovered migrations against
	// recorded history.
	Resolution struct {
		// Pending lists the migrations to execute, in execution order:
		// the selected baseline (if any), then versioned migrations by
		// ascending version, then repeatables in discovery order.
		Pending []*migration.Resolved

		// Report classifies every disk and history entry for Info.
		Report []*Status

		// ShouldBaseline reports whether baselining applies (enabled and
		// no migration history exists).
		ShouldBaseline bool

		// EffectiveBaselineVersion is the version of the selected
		// baseline, empty when none was selected.
		EffectiveBaselineVersion string

		// BaselineAutoSelected reports whether the baseline was chosen by
		// the highest-version rule rather than an explicit match.
		BaselineAutoSelected bool

		// BaselineFileCount is the number of baseline scripts discovered.
		BaselineFileCount int
	}
)

// Resolve diffs discovered migrations against applied history and produces
// the ordered pending list and the classified status report.
func Resolve(params ResolveParams) *Resolution {
	var versioned, baselines, repeatables []*migration.Resolved
	for _, m := range params.Discovered {
		switch m.Type {
		case migration.TypeVersioned:
			versioned = append(versioned, m)
		case migration.TypeBaseline:
			baselines = append(baselines, m)
		case migration.TypeRepeatable:
			repeatables = append(repeatables, m)
		}
	}

	// Version strings compare lexicographically; timestamp versions sort
	// correctly this way.
	sortByVersion(versioned)
	sortByVersion(baselines)

	appliedByVersion := make(map[string]*history.Record)
	appliedRepeatables := make(map[string]*history.Record)
	hasMigrationRows := false
	highestApplied := ""

	for _, record := range params.Applied {
		if record.Type == history.TypeSchema {
			continue
		}

		switch record.Type {
		case history.TypeSQL, history.TypeSQLBaseline, history.TypeBaseline:
			hasMigrationRows = true
		}

		if record.Version != nil {
			appliedByVersion[*record.Version] = record
			if *record.Version > highestApplied {
				highestApplied = *record.Version
			}
		} else if record.Type == history.TypeSQL {
			// Latest row per description reflects the live state; older
			// rows remain for audit.
			appliedRepeatables[record.Description] = record
		}
	}

	res := &Resolution{
		ShouldBaseline:    params.BaselineOnMigrate && !hasMigrationRows,
		BaselineFileCount: len(baselines),
	}

	selected := selectBaseline(res, baselines, params.BaselineVersion)
	if selected != nil {
		res.Pending = append(res.Pending, selected)
		res.Report = append(res.Report, &Status{
			Type:        migration.TypeBaseline,
			Version:     selected.Version,
			Description: selected.Description,
			Script:      selected.Script,
			State:       StatePending,
		})
	}

	for _, b := range baselines {
		if b == selected {
			continue
		}
		res.Report = append(res.Report, statusForBaselineFile(b, appliedByVersion))
	}

	for _, m := range versioned {
		status := &Status{
			Type:        migration.TypeVersioned,
			Version:     m.Version,
			Description: m.Description,
			Script:      m.Script,
		}
		res.Report = append(res.Report, status)

		if record, ok := appliedByVersion[m.Version]; ok {
			status.State = StateApplied
			status.InstalledOn = &record.InstalledOn
			if !record.Success {
				status.State = StateFailed
			}
			continue
		}

		if res.ShouldBaseline && selected != nil && m.Version <= res.EffectiveBaselineVersion {
			status.State = StateAboveBaseline
			continue
		}

		status.State = StatePending
		if !params.OutOfOrder && highestApplied != "" && m.Version < highestApplied {
			// Visible but skipped: executing it would run behind already
			// applied versions.
			continue
		}

		res.Pending = append(res.Pending, m)
	}

	res.Report = append(res.Report, missingStatuses(params.Applied, versioned, baselines)...)

	for _, m := range repeatables {
		status := &Status{
			Type:        migration.TypeRepeatable,
			Description: m.Description,
			Script:      m.Script,
		}
		res.Report = append(res.Report, status)

		record, ok := appliedRepeatables[m.Description]
		switch {
		case !ok:
			status.State = StatePending
			res.Pending = append(res.Pending, m)
		case record.Checksum == nil || *record.Checksum != m.Checksum:
			status.State = StateOutdated
			status.InstalledOn = &record.InstalledOn
			res.Pending = append(res.Pending, m)
		default:
			status.State = StateApplied
			status.InstalledOn = &record.InstalledOn
		}
	}

	return res
}

// selectBaseline picks the baseline to apply when baselining is in effect.
// An exact version match always wins; the auto-select branch (highest
// version) fires only for the "not explicitly set" sentinel.
func selectBaseline(res *Resolution, baselines []*migration.Resolved, baselineVersion string) *migration.Resolved {
	if !res.ShouldBaseline || len(baselines) == 0 {
		return nil
	}

	for _, b := range baselines {
		if b.Version == baselineVersion {
			res.EffectiveBaselineVersion = b.Version
			return b
		}
	}

	if baselineVersion == consts.BaselineVersionSentinel {
		highest := baselines[len(baselines)-1]
		res.EffectiveBaselineVersion = highest.Version
		res.BaselineAutoSelected = true
		return highest
	}

	return nil
}

func statusForBaselineFile(b *migration.Resolved, appliedByVersion map[string]*history.Record) *Status {
	status := &Status{
		Type:        migration.TypeBaseline,
		Version:     b.Version,
		Description: b.Description,
		Script:      b.Script,
		State:       StateBaseline,
	}

	if record, ok := appliedByVersion[b.Version]; ok {
		status.InstalledOn = &record.InstalledOn
		if record.Success {
			status.State = StateApplied
		} else {
			status.State = StateFailed
		}
	}

	return status
}

// missingStatuses reports applied versioned rows whose scripts are no
// longer on disk. Baseline marker rows (inserted by the baseline command,
// no script by construction) report as BASELINE instead.
func missingStatuses(applied []*history.Record, versioned, baselines []*migration.Resolved) []*Status {
	onDisk := make(map[string]bool, len(versioned)+len(baselines))
	for _, m := range versioned {
		onDisk[m.Version] = true
	}
	for _, m := range baselines {
		onDisk[m.Version] = true
	}

	var statuses []*Status
	for _, record := range applied {
		if record.Type == history.TypeSchema || record.Version == nil || onDisk[*record.Version] {
			continue
		}

		state := StateMissing
		if record.Type == history.TypeBaseline {
			state = StateBaseline
		}

		statuses = append(statuses, &Status{
			Version:     *record.Version,
			Description: record.Description,
			Script:      record.Script,
			State:       state,
			InstalledOn: &record.InstalledOn,
		})
	}

	return statuses
}

func sortByVersion(migrations []*migration.Resolved) {
	sort.SliceStable(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
}
