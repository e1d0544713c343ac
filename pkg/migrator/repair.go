package migrator

import (
	"context"

	"github.com/caretakerhq/caretaker/pkg/history"
	"github.com/caretakerhq/caretaker/pkg/migration"
)

// RepairResult is the outcome of a Repair call.
type RepairResult struct {
	Success        bool
	RemovedFailed  int
	AlignedRecords int
	ErrorMessage   string
}

// Repair performs the only history mutations allowed outside the executor:
// it deletes failed rows and realigns recorded checksums with the scripts
// currently on disk. Versioned and baseline rows match by version,
// repeatable rows by description.
func (m *Migrator) Repair(ctx context.Context) (*RepairResult, error) {
	result := &RepairResult{}
	db := m.client.DB()

	exists, err := m.history.Exists(ctx, db)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}
	if !exists {
		result.Success = true
		return result, nil
	}

	records, err := m.history.GetAllRecords(ctx, db)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	discovered, err := migration.Scan(m.cfg.Locations, m.callbacks.warn)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	byVersion := make(map[string]*migration.Resolved)
	byDescription := make(map[string]*migration.Resolved)
	for _, d := range discovered {
		if d.Version != "" {
			byVersion[d.Version] = d
		} else {
			byDescription[d.Description] = d
		}
	}

	for _, record := range records {
		if record.Type == history.TypeSchema || record.Type == history.TypeBaseline {
			continue
		}

		if !record.Success {
			if err := m.history.DeleteRecord(ctx, db, record.InstalledRank); err != nil {
				result.ErrorMessage = err.Error()
				return result, nil
			}
			result.RemovedFailed++
			continue
		}

		var found *migration.Resolved
		if record.Version != nil {
			found = byVersion[*record.Version]
		} else {
			found = byDescription[record.Description]
		}
		if found == nil {
			continue
		}

		if record.Checksum == nil || *record.Checksum != found.Checksum {
			if err := m.history.UpdateChecksum(ctx, db, record.InstalledRank, found.Checksum); err != nil {
				result.ErrorMessage = err.Error()
				return result, nil
			}
			result.AlignedRecords++
		}
	}

	result.Success = true
	return result, nil
}
