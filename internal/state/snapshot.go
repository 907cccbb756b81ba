// Package state holds the authoritative in-process record of the lock's
// current state and its append-only change history. All mutation goes
// through the Ledger, which deduplicates values, appends accepted changes
// to a durable JSONL log, and notifies subscribers in mutation order.
package state

import "time"

// LockPosition is the bolt position reported by the lock.
type LockPosition string

const (
	LockLocked      LockPosition = "locked"
	LockUnlocked    LockPosition = "unlocked"
	LockLocking     LockPosition = "locking"
	LockUnlocking   LockPosition = "unlocking"
	LockJammed      LockPosition = "jammed"
	LockCalibrating LockPosition = "calibrating"
	LockUnknown     LockPosition = "unknown"
)

// DoorPosition is the door sensor position.
type DoorPosition string

const (
	DoorOpen    DoorPosition = "open"
	DoorClosed  DoorPosition = "closed"
	DoorAjar    DoorPosition = "ajar"
	DoorUnknown DoorPosition = "unknown"
)

// Snapshot is the current-state aggregate for the monitored lock.
// There is exactly one live instance, owned by the Ledger; readers
// always receive copies.
type Snapshot struct {
	LockPosition        LockPosition `json:"lock_state"`
	DoorPosition        DoorPosition `json:"door_state"`
	BatteryPercent      *int         `json:"battery_level"`
	BatteryVoltage      *float64     `json:"battery_voltage"`
	DoorbellRinging     bool         `json:"doorbell_ringing"`
	AutoLockEnabled     bool         `json:"auto_lock_enabled"`
	AutoLockDurationSec int          `json:"auto_lock_duration"`
	Connected           bool         `json:"connected"`
	RSSI                *int         `json:"rssi"`
	Model               string       `json:"lock_model"`
	Serial              string       `json:"lock_serial"`
	Firmware            string       `json:"lock_firmware"`
	LastUpdated         time.Time    `json:"last_updated"`
	LastActivity        time.Time    `json:"last_activity"`
	LastActivityKind    string       `json:"last_activity_type"`
}

func newSnapshot() Snapshot {
	return Snapshot{
		LockPosition: LockUnknown,
		DoorPosition: DoorUnknown,
	}
}
