package engine

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/model"
)

// Syncable is satisfied by every record kind that participates in the
// last-writer-wins merge.
type Syncable interface {
	RecordID() string
	LastModified() time.Time
}

// mergeByID resolves local and remote copies per record: a remote record
// wins when the local store has no copy or when its timestamp is
// greater-than-or-equal to the local one. The tie goes to remote, favoring
// convergence across devices over preserving an in-flight local edit at
// the exact same instant. Local-only records survive untouched, so the
// merge is idempotent.
func mergeByID[T Syncable](local, remote []T) []T {
	merged := make([]T, len(local))
	copy(merged, local)

	position := make(map[string]int, len(merged))
	for i, record := range merged {
		position[record.RecordID()] = i
	}

	for _, record := range remote {
		i, known := position[record.RecordID()]
		if !known {
			position[record.RecordID()] = len(merged)
			merged = append(merged, record)
			continue
		}
		if !record.LastModified().Before(merged[i].LastModified()) {
			merged[i] = record
		}
	}
	return merged
}

// mergeUsageByID is a pure set-union: usage events are immutable and
// append-only, so a remote event is added only when its id is unknown
// locally and no overwrite ever occurs.
func mergeUsageByID(local, remote []model.InventoryUsage) []model.InventoryUsage {
	merged := make([]model.InventoryUsage, len(local))
	copy(merged, local)

	known := make(map[string]struct{}, len(merged))
	for _, usage := range merged {
		known[usage.ID] = struct{}{}
	}

	for _, usage := range remote {
		if _, exists := known[usage.ID]; exists {
			continue
		}
		known[usage.ID] = struct{}{}
		merged = append(merged, usage)
	}
	return merged
}

// dropIDs filters records whose ids were tombstoned when the sync started,
// so a stale remote copy pulled mid-sync cannot resurrect a deletion.
func dropIDs[T Syncable](records []T, ids []string) []T {
	if len(ids) == 0 {
		return records
	}
	dead := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		dead[id] = struct{}{}
	}
	out := records[:0]
	for _, record := range records {
		if _, gone := dead[record.RecordID()]; !gone {
			out = append(out, record)
		}
	}
	return out
}

// buildRows flattens all four collections into the uniform transport shape.
func buildRows(farmID string, entries []model.Entry, fields []model.Field, inventory []model.InventoryItem, usage []model.InventoryUsage) ([]model.Row, error) {
	rows := make([]model.Row, 0, len(entries)+len(fields)+len(inventory)+len(usage))
	for _, entry := range entries {
		row, err := model.NewRow(farmID, model.DataTypeEntry, entry)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	for _, field := range fields {
		row, err := model.NewRow(farmID, model.DataTypeField, field)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	for _, item := range inventory {
		row, err := model.NewRow(farmID, model.DataTypeInventory, item)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	for _, event := range usage {
		row, err := model.NewRow(farmID, model.DataTypeInventoryUsage, event)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// remoteSnapshot is the pulled farm state partitioned back into the four
// record kinds.
type remoteSnapshot struct {
	entries   []model.Entry
	fields    []model.Field
	inventory []model.InventoryItem
	usage     []model.InventoryUsage
}

// partitionRows decodes pulled rows by data_type. A row that fails to
// decode is skipped with a warning rather than failing the sync: one
// corrupt row must not permanently wedge the cycle.
func partitionRows(rows []model.Row, logger *zap.Logger) remoteSnapshot {
	var snapshot remoteSnapshot
	for _, row := range rows {
		switch row.DataType {
		case model.DataTypeEntry:
			var entry model.Entry
			if err := json.Unmarshal(row.Data, &entry); err != nil {
				logRowSkip(logger, row, err)
				continue
			}
			snapshot.entries = append(snapshot.entries, entry)
		case model.DataTypeField:
			var field model.Field
			if err := json.Unmarshal(row.Data, &field); err != nil {
				logRowSkip(logger, row, err)
				continue
			}
			snapshot.fields = append(snapshot.fields, field)
		case model.DataTypeInventory:
			var item model.InventoryItem
			if err := json.Unmarshal(row.Data, &item); err != nil {
				logRowSkip(logger, row, err)
				continue
			}
			snapshot.inventory = append(snapshot.inventory, item)
		case model.DataTypeInventoryUsage:
			var event model.InventoryUsage
			if err := json.Unmarshal(row.Data, &event); err != nil {
				logRowSkip(logger, row, err)
				continue
			}
			snapshot.usage = append(snapshot.usage, event)
		default:
			logRowSkip(logger, row, model.ErrUnknownDataType)
		}
	}
	return snapshot
}

func logRowSkip(logger *zap.Logger, row model.Row, err error) {
	logger.Warn("skipping unreadable remote row",
		zap.String("row_id", row.ID),
		zap.String("data_type", string(row.DataType)),
		zap.Error(err))
}
