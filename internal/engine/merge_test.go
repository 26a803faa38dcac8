package engine

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/model"
)

func entryAt(id string, updatedAt time.Time, notes string) model.Entry {
	return model.Entry{ID: id, Notes: notes, UpdatedAt: updatedAt}
}

func TestMergeByIDNewerRemoteWins(t *testing.T) {
	older := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	merged := mergeByID(
		[]model.Entry{entryAt("e-1", older, "local")},
		[]model.Entry{entryAt("e-1", newer, "remote")},
	)
	if len(merged) != 1 {
		t.Fatalf("expected one merged record, got %d", len(merged))
	}
	if merged[0].Notes != "remote" {
		t.Fatalf("expected newer remote copy to win, got %q", merged[0].Notes)
	}
}

func TestMergeByIDNewerLocalSurvives(t *testing.T) {
	older := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	merged := mergeByID(
		[]model.Entry{entryAt("e-1", newer, "local")},
		[]model.Entry{entryAt("e-1", older, "remote")},
	)
	if merged[0].Notes != "local" {
		t.Fatalf("expected newer local copy to survive, got %q", merged[0].Notes)
	}
}

func TestMergeByIDEqualTimestampsFavorRemote(t *testing.T) {
	instant := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	merged := mergeByID(
		[]model.Entry{entryAt("e-1", instant, "local")},
		[]model.Entry{entryAt("e-1", instant, "remote")},
	)
	if merged[0].Notes != "remote" {
		t.Fatalf("expected the tie to go to remote, got %q", merged[0].Notes)
	}
}

func TestMergeByIDKeepsDisjointRecordsFromBothSides(t *testing.T) {
	instant := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	merged := mergeByID(
		[]model.Entry{entryAt("local-only", instant, "")},
		[]model.Entry{entryAt("remote-only", instant, "")},
	)
	if len(merged) != 2 {
		t.Fatalf("expected union of disjoint records, got %d", len(merged))
	}
	if merged[0].ID != "local-only" || merged[1].ID != "remote-only" {
		t.Fatalf("expected local order preserved with remote appended, got %+v", merged)
	}
}

func TestMergeByIDIsIdempotent(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	local := []model.Entry{
		entryAt("e-1", base, "one"),
		entryAt("e-2", base.Add(time.Minute), "two"),
	}
	remote := []model.Entry{
		entryAt("e-2", base.Add(2*time.Minute), "two updated"),
		entryAt("e-3", base, "three"),
	}

	once := mergeByID(local, remote)
	twice := mergeByID(once, remote)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeUsageIsSetUnionWithoutOverwrites(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	local := []model.InventoryUsage{
		{ID: "u-1", QuantityUsed: 5, UsedAt: base},
	}
	remote := []model.InventoryUsage{
		{ID: "u-1", QuantityUsed: 999, UsedAt: base.Add(time.Hour)},
		{ID: "u-2", QuantityUsed: 3, UsedAt: base},
	}

	merged := mergeUsageByID(local, remote)
	if len(merged) != 2 {
		t.Fatalf("expected two usage events, got %d", len(merged))
	}
	if merged[0].QuantityUsed != 5 {
		t.Fatalf("usage events must never be overwritten, got %g", merged[0].QuantityUsed)
	}
	if merged[1].ID != "u-2" {
		t.Fatalf("expected the unknown remote event appended, got %+v", merged[1])
	}
}

func TestDropIDsFiltersTombstonedRecords(t *testing.T) {
	instant := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []model.Entry{
		entryAt("keep", instant, ""),
		entryAt("gone", instant, ""),
	}

	filtered := dropIDs(records, []string{"gone"})
	if len(filtered) != 1 || filtered[0].ID != "keep" {
		t.Fatalf("expected tombstoned record dropped, got %+v", filtered)
	}
}

func TestBuildRowsFlattensEveryCollection(t *testing.T) {
	instant := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows, err := buildRows("farm-1",
		[]model.Entry{entryAt("e-1", instant, "")},
		[]model.Field{{ID: "f-1", UpdatedAt: instant}},
		[]model.InventoryItem{{ID: "i-1", UpdatedAt: instant}},
		[]model.InventoryUsage{{ID: "u-1", UsedAt: instant}},
	)
	if err != nil {
		t.Fatalf("build rows failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected four rows, got %d", len(rows))
	}
	types := map[string]model.DataType{}
	for _, row := range rows {
		if row.FarmID != "farm-1" {
			t.Fatalf("expected farm id on every row, got %q", row.FarmID)
		}
		types[row.ID] = row.DataType
	}
	if types["e-1"] != model.DataTypeEntry || types["f-1"] != model.DataTypeField ||
		types["i-1"] != model.DataTypeInventory || types["u-1"] != model.DataTypeInventoryUsage {
		t.Fatalf("unexpected data types: %v", types)
	}
}

func TestPartitionRowsSkipsUndecodableRows(t *testing.T) {
	instant := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	good, err := model.NewRow("farm-1", model.DataTypeEntry, entryAt("e-1", instant, "fine"))
	if err != nil {
		t.Fatalf("failed to build row: %v", err)
	}
	corrupt := model.Row{
		ID:       "broken",
		FarmID:   "farm-1",
		DataType: model.DataTypeEntry,
		Data:     json.RawMessage(`{"id":`),
	}
	unknown := model.Row{
		ID:       "weird",
		FarmID:   "farm-1",
		DataType: model.DataType("hologram"),
		Data:     json.RawMessage(`{}`),
	}

	snapshot := partitionRows([]model.Row{good, corrupt, unknown}, zap.NewNop())
	if len(snapshot.entries) != 1 || snapshot.entries[0].ID != "e-1" {
		t.Fatalf("expected only the decodable entry, got %+v", snapshot.entries)
	}
}
