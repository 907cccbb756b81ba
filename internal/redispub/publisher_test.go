package redispub

import (
	"testing"
	"time"

	"github.com/chaz8081/doorman-monitor/internal/state"
)

func TestSnapshotFieldsUnknownOptionals(t *testing.T) {
	snap := state.Snapshot{
		LockPosition: state.LockUnknown,
		DoorPosition: state.DoorUnknown,
	}

	fields := SnapshotFields(snap)
	if fields["lock-state"] != "unknown" {
		t.Errorf("lock-state = %q", fields["lock-state"])
	}
	if fields["battery-level"] != "unknown" {
		t.Errorf("battery-level = %q, want unknown when never read", fields["battery-level"])
	}
	if fields["rssi"] != "unknown" {
		t.Errorf("rssi = %q, want unknown when never read", fields["rssi"])
	}
	if fields["connected"] != "false" {
		t.Errorf("connected = %q", fields["connected"])
	}
	if _, ok := fields["last-updated"]; ok {
		t.Error("last-updated must be absent for a zero timestamp")
	}
	if _, ok := fields["last-activity"]; ok {
		t.Error("last-activity must be absent before any activity")
	}
}

func TestSnapshotFieldsPopulated(t *testing.T) {
	battery := 85
	rssi := -61
	updated := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	snap := state.Snapshot{
		LockPosition:        state.LockLocked,
		DoorPosition:        state.DoorClosed,
		BatteryPercent:      &battery,
		RSSI:                &rssi,
		DoorbellRinging:     true,
		AutoLockEnabled:     true,
		AutoLockDurationSec: 120,
		Connected:           true,
		Model:               "Doorman L3S",
		Serial:              "Y123",
		Firmware:            "1.4.2",
		LastUpdated:         updated,
		LastActivity:        updated,
		LastActivityKind:    "door_open",
	}

	fields := SnapshotFields(snap)
	want := map[string]string{
		"lock-state":         "locked",
		"door-state":         "closed",
		"battery-level":      "85",
		"rssi":               "-61",
		"doorbell-ringing":   "true",
		"auto-lock-enabled":  "true",
		"auto-lock-duration": "120",
		"connected":          "true",
		"lock-model":         "Doorman L3S",
		"lock-serial":        "Y123",
		"lock-firmware":      "1.4.2",
		"last-updated":       "2025-03-10T12:00:00Z",
		"last-activity":      "2025-03-10T12:00:00Z",
		"last-activity-type": "door_open",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
		}
	}
	if len(fields) != len(want) {
		t.Errorf("got %d fields, want %d", len(fields), len(want))
	}
}
