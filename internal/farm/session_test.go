package farm

import (
	"errors"
	"strings"
	"testing"
)

func mustLoadSession(t *testing.T, kv *memoryKV) *Session {
	t.Helper()
	session, err := LoadSession(SessionConfig{Storage: kv, IDs: &sequentialIDs{}})
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	return session
}

func TestLoadSessionMintsDeviceIDOnce(t *testing.T) {
	kv := newMemoryKV()

	first := mustLoadSession(t, kv)
	if first.DeviceID() == "" {
		t.Fatalf("expected a device id minted on first load")
	}
	if !strings.HasPrefix(first.DeviceID(), "dev-") {
		t.Fatalf("unexpected device id shape: %q", first.DeviceID())
	}

	second := mustLoadSession(t, kv)
	if second.DeviceID() != first.DeviceID() {
		t.Fatalf("device id must be stable across loads: %q vs %q",
			first.DeviceID(), second.DeviceID())
	}
}

func TestSetFarmPersistsAcrossReload(t *testing.T) {
	kv := newMemoryKV()
	session := mustLoadSession(t, kv)

	if err := session.SetFarm("farm-1", "Home Farm", "Alex", true); err != nil {
		t.Fatalf("set farm failed: %v", err)
	}

	reloaded := mustLoadSession(t, kv)
	if reloaded.FarmID() != "farm-1" || reloaded.FarmName() != "Home Farm" {
		t.Fatalf("expected farm binding restored, got %q/%q",
			reloaded.FarmID(), reloaded.FarmName())
	}
	if reloaded.UserName() != "Alex" {
		t.Fatalf("expected user name restored, got %q", reloaded.UserName())
	}
	if !reloaded.IsAdmin() {
		t.Fatalf("expected admin flag restored")
	}
}

func TestClearFarmKeepsDeviceIDAndUserName(t *testing.T) {
	kv := newMemoryKV()
	session := mustLoadSession(t, kv)
	deviceID := session.DeviceID()

	if err := session.SetFarm("farm-1", "Home Farm", "Alex", true); err != nil {
		t.Fatalf("set farm failed: %v", err)
	}
	if err := session.ClearFarm(); err != nil {
		t.Fatalf("clear farm failed: %v", err)
	}

	reloaded := mustLoadSession(t, kv)
	if reloaded.FarmID() != "" || reloaded.IsAdmin() {
		t.Fatalf("expected farm state cleared")
	}
	if reloaded.DeviceID() != deviceID {
		t.Fatalf("device id must survive clearing the farm")
	}
	if reloaded.UserName() != "Alex" {
		t.Fatalf("user name must survive clearing the farm, got %q", reloaded.UserName())
	}
}

func TestNewFarmIDTrimsWhitespace(t *testing.T) {
	id, err := NewFarmID("  farm-1  ")
	if err != nil {
		t.Fatalf("expected trimmed id to validate, got %v", err)
	}
	if id.String() != "farm-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestNewFarmIDRejectsEmptyAndOversized(t *testing.T) {
	if _, err := NewFarmID("   "); !errors.Is(err, ErrInvalidFarmID) {
		t.Fatalf("expected ErrInvalidFarmID for blank input, got %v", err)
	}
	if _, err := NewFarmID(strings.Repeat("x", 191)); !errors.Is(err, ErrInvalidFarmID) {
		t.Fatalf("expected ErrInvalidFarmID for oversized input, got %v", err)
	}
}
