package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/doorman-monitor/internal/state"
)

// ErrNoKey is returned by Start when no device key is provisioned. The
// caller can keep running in a degraded, poll-less state.
var ErrNoKey = errors.New("session: no device key provisioned")

// Diagnostics is a read-only view of the coordinator for observers.
type Diagnostics struct {
	Running       bool   `json:"running"`
	Connected     bool   `json:"connected"`
	DeviceFound   bool   `json:"device_found"`
	TargetName    string `json:"lock_name"`
	TargetAddress string `json:"lock_address"`
	SessionID     string `json:"session_id"`
}

// Coordinator owns the link session exclusively: no other component
// drives the radio. It routes decoded link events into the ledger and
// reports field changes to registered activity callbacks.
type Coordinator struct {
	driver Driver
	ledger *state.Ledger
	key    DeviceKey

	mu          sync.Mutex
	sess        Session
	running     bool
	deviceFound bool
	sessionID   string

	cbMu        sync.Mutex
	activityCbs []func()
}

// New creates a Coordinator for the given device.
func New(driver Driver, ledger *state.Ledger, key DeviceKey) *Coordinator {
	return &Coordinator{driver: driver, ledger: ledger, key: key}
}

// RegisterActivityCallback adds a callback fired whenever a decoded
// link event actually changed ledger state. The scheduler registers
// its OnActivity here.
func (c *Coordinator) RegisterActivityCallback(cb func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.activityCbs = append(c.activityCbs, cb)
}

// Start begins the link session. Without a provisioned key it refuses
// with ErrNoKey; the rest of the system keeps running without polls.
// Starting an already-running coordinator is a no-op.
func (c *Coordinator) Start() error {
	if !c.key.Provisioned() {
		slog.Error("[session] no BLE key configured, monitor will not start")
		return ErrNoKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	id := uuid.NewString()
	sess, err := c.driver.Begin(c.key, c.onUpdate)
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	c.sess = sess
	c.running = true
	c.deviceFound = false
	c.sessionID = id

	c.ledger.UpdateConnection(false, nil)
	slog.Info("[session] monitor started, waiting for lock advertisements",
		"session_id", id,
		"name", orAuto(c.key.Name),
		"address", orAuto(c.key.Address))
	return nil
}

// Stop tears the session down. Idempotent; teardown errors are
// swallowed so shutdown cannot hang on a half-dead link.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	sess := c.sess
	wasRunning := c.running
	c.sess = nil
	c.running = false
	c.deviceFound = false
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Debug("[session] close error (ignored)", "error", err)
		}
	}
	if wasRunning {
		c.ledger.UpdateConnection(false, nil)
		slog.Info("[session] monitor stopped")
	}
}

// FeedAdvertisement forwards an advertisement to the session when it
// identifies the configured target and the coordinator is running.
func (c *Coordinator) FeedAdvertisement(adv Advertisement) {
	c.mu.Lock()
	sess := c.sess
	running := c.running
	c.mu.Unlock()
	if !running || sess == nil {
		return
	}
	if !c.matchesTarget(adv) {
		return
	}

	sess.UpdateAdvertisement(adv)

	c.mu.Lock()
	first := !c.deviceFound
	c.deviceFound = true
	c.mu.Unlock()
	if first {
		slog.Info("[session] lock advertisement received",
			"name", adv.LocalName, "address", adv.Address, "rssi", adv.RSSI)
	}
}

// PollOnce requests an immediate read from the active session. A
// failure marks the connection down in the ledger; it is a best-effort
// probe, and the error is only for the caller's bookkeeping.
func (c *Coordinator) PollOnce(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	running := c.running
	c.mu.Unlock()
	if !running || sess == nil {
		return nil
	}

	slog.Debug("[session] initiating poll update")
	if err := sess.RequestRead(ctx); err != nil {
		slog.Warn("[session] poll update failed", "error", err)
		c.ledger.UpdateConnection(false, nil)
		return fmt.Errorf("session: poll: %w", err)
	}
	return nil
}

// Diagnostics returns a snapshot of the coordinator for observers.
func (c *Coordinator) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Diagnostics{
		Running:       c.running,
		Connected:     c.ledger.Snapshot().Connected,
		DeviceFound:   c.deviceFound,
		TargetName:    c.key.Name,
		TargetAddress: c.key.Address,
		SessionID:     c.sessionID,
	}
}

// onUpdate routes one decoded link event into the ledger. Connection
// metadata alone does not count as activity: only lock, door, battery
// and doorbell changes raise the polling frequency.
func (c *Coordinator) onUpdate(u Update) {
	changed := false

	if u.Lock != nil && c.ledger.UpdateLockPosition(*u.Lock, state.SourceLink) {
		changed = true
	}
	if u.Door != nil && c.ledger.UpdateDoorPosition(*u.Door, state.SourceLink) {
		changed = true
	}
	if u.Doorbell != nil {
		// A ring raises the cadence; the return to idle does not.
		if c.ledger.UpdateDoorbell(*u.Doorbell, state.SourceLink) && *u.Doorbell {
			changed = true
		}
	}
	if u.Battery != nil {
		v := u.Battery.Voltage
		if c.ledger.UpdateBattery(u.Battery.Percent, &v, state.SourceLink) {
			changed = true
		}
	}
	if u.AutoLock != nil {
		c.ledger.UpdateAutoLock(u.AutoLock.Enabled, u.AutoLock.DurationSec)
	}
	if u.AuthOK != nil && !*u.AuthOK {
		slog.Warn("[session] link authentication failed")
	}
	if u.Info != nil {
		c.ledger.UpdateDeviceInfo(u.Info.Model, u.Info.Serial, u.Info.Firmware)
	}
	if u.Conn != nil {
		rssi := u.Conn.RSSI
		c.ledger.UpdateConnection(true, &rssi)
	}

	if changed {
		c.notifyActivity()
	}
}

func (c *Coordinator) notifyActivity() {
	c.cbMu.Lock()
	cbs := make([]func(), len(c.activityCbs))
	copy(cbs, c.activityCbs)
	c.cbMu.Unlock()
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("[session] activity callback panicked", "panic", r)
				}
			}()
			cb()
		}()
	}
}

// matchesTarget checks the advertisement against the configured
// address (case-insensitive) or local name.
func (c *Coordinator) matchesTarget(adv Advertisement) bool {
	if c.key.Address != "" && strings.EqualFold(adv.Address, c.key.Address) {
		return true
	}
	if c.key.Name != "" && adv.LocalName == c.key.Name {
		return true
	}
	return false
}

func orAuto(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}
