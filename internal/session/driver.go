// Package session owns the lifecycle of the BLE link to the lock. The
// radio session itself (discovery, encrypted handshake, decoding) is an
// external collaborator behind the Driver and Session interfaces; the
// Coordinator here routes its decoded events into the state ledger and
// exposes start/stop/poll to the rest of the application.
package session

import (
	"context"
	"time"

	"github.com/chaz8081/doorman-monitor/internal/state"
)

// Advertisement is one BLE broadcast from the scanner, used to resolve
// the physical device and its signal metadata before connecting.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int
	HasLockService   bool // advertises the lock's command service UUID
	ManufacturerData map[uint16][]byte
}

// DeviceKey identifies the target lock and carries the provisioned
// symmetric key the link driver needs for its encrypted handshake.
type DeviceKey struct {
	Name                string // BLE local name; empty means match by address
	Address             string // BLE address; empty means match by name
	Key                 []byte
	KeyIndex            int
	IdleDisconnectDelay time.Duration
	AlwaysConnected     bool
}

// Provisioned reports whether a key has been configured.
func (k DeviceKey) Provisioned() bool {
	return len(k.Key) > 0
}

// BatteryReading is a decoded battery sample.
type BatteryReading struct {
	Percent int
	Voltage float64
}

// AutoLockSetting is the lock's decoded auto-lock configuration.
type AutoLockSetting struct {
	Enabled     bool
	DurationSec int
}

// DeviceInfo is decoded lock hardware metadata.
type DeviceInfo struct {
	Model    string
	Serial   string
	Firmware string
}

// ConnectionInfo carries link metadata delivered alongside an update.
type ConnectionInfo struct {
	RSSI int
}

// Update is one decoded event from the link. Nil fields were not
// present in the event.
type Update struct {
	Lock     *state.LockPosition
	Door     *state.DoorPosition
	Doorbell *bool
	Battery  *BatteryReading
	AutoLock *AutoLockSetting
	AuthOK   *bool
	Info     *DeviceInfo
	Conn     *ConnectionInfo
}

// Driver creates link sessions. Implementations wrap the external BLE
// session library; tests use a mock.
type Driver interface {
	// Begin prepares a session for the given device. onUpdate receives
	// every decoded event until Close.
	Begin(key DeviceKey, onUpdate func(Update)) (Session, error)
}

// Session is one live link session. Implementations own their timeout
// behavior; callers treat any returned error as a failed, retryable
// operation.
type Session interface {
	// UpdateAdvertisement feeds fresh advertisement data. The driver
	// needs a live feed to resolve the radio address and signal
	// metadata before it can connect; the read trigger alone does not
	// suffice.
	UpdateAdvertisement(adv Advertisement)
	// RequestRead performs an immediate connect-read-disconnect cycle.
	RequestRead(ctx context.Context) error
	// Close tears the session down. Safe to call more than once.
	Close() error
}
