package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseDataTypeAcceptsTheFourKinds(t *testing.T) {
	for _, raw := range []string{"entry", "field", "inventory", "inventory_usage"} {
		parsed, err := ParseDataType(raw)
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", raw, err)
		}
		if string(parsed) != raw {
			t.Fatalf("unexpected parse result for %q: %q", raw, parsed)
		}
	}
}

func TestParseDataTypeRejectsUnknownKind(t *testing.T) {
	if _, err := ParseDataType("hologram"); !errors.Is(err, ErrUnknownDataType) {
		t.Fatalf("expected ErrUnknownDataType, got %v", err)
	}
}

func TestNewRowCarriesIdentityTypeAndTimestamp(t *testing.T) {
	updatedAt := time.Date(2025, 4, 1, 10, 30, 0, 0, time.FixedZone("CST", -6*3600))
	entry := Entry{ID: "e-1", Notes: "north plot", UpdatedAt: updatedAt}

	row, err := NewRow("farm-1", DataTypeEntry, entry)
	if err != nil {
		t.Fatalf("failed to build row: %v", err)
	}
	if row.ID != "e-1" || row.FarmID != "farm-1" || row.DataType != DataTypeEntry {
		t.Fatalf("unexpected row identity: %+v", row)
	}
	if !row.UpdatedAt.Equal(updatedAt) || row.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected the timestamp normalized to UTC, got %v", row.UpdatedAt)
	}

	var decoded Entry
	if err := json.Unmarshal(row.Data, &decoded); err != nil {
		t.Fatalf("row data must round-trip: %v", err)
	}
	if decoded.Notes != "north plot" {
		t.Fatalf("unexpected decoded payload: %+v", decoded)
	}
}
