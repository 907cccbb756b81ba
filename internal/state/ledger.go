package state

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Callback receives the post-mutation snapshot and the event that was
// accepted. Callbacks run synchronously at the point of mutation, in
// mutation order; a panicking callback is logged and isolated from the
// mutator and from other callbacks.
type Callback func(Snapshot, ChangeEvent)

// Ledger serializes all mutations of the lock's state behind a single
// writer. A mutator accepts a new value and emits a ChangeEvent iff the
// value differs from what is stored; accepted mutations are appended to
// the durable event log and broadcast to subscribers before the mutator
// returns. Reads of the last-committed snapshot are lock-free.
type Ledger struct {
	mu      sync.Mutex
	snap    Snapshot
	log     *EventLog
	subs    []Callback
	current atomic.Pointer[Snapshot]
}

// NewLedger creates a Ledger backed by the JSONL event log at eventsFile.
// The most recent maxMemory events are loaded from disk for observers.
func NewLedger(eventsFile string, maxMemory int) *Ledger {
	l := &Ledger{
		snap: newSnapshot(),
		log:  NewEventLog(eventsFile, maxMemory),
	}
	l.publish()
	return l
}

// Subscribe registers cb for change notifications. Not safe to call
// concurrently with mutations; register subscribers during wiring.
func (l *Ledger) Subscribe(cb Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, cb)
}

// Snapshot returns a copy of the last-committed state without taking
// the writer lock.
func (l *Ledger) Snapshot() Snapshot {
	return *l.current.Load()
}

// RecentEvents returns up to count recent events, oldest first.
func (l *Ledger) RecentEvents(count int) []ChangeEvent {
	return l.log.Recent(count)
}

// publish stores the current snapshot for lock-free readers.
// Caller must hold mu (or be the constructor).
func (l *Ledger) publish() {
	snap := l.snap
	l.current.Store(&snap)
}

// commit appends ev durably and notifies subscribers. Caller holds mu,
// which is what guarantees subscribers observe events in acceptance
// order. A durable-write failure is logged but does not roll back the
// in-memory state or skip notification.
func (l *Ledger) commit(ev ChangeEvent) {
	l.publish()
	if err := l.log.Append(ev); err != nil {
		slog.Error("[state] event log write failed", "error", err)
	}
	snap := l.snap
	for _, cb := range l.subs {
		l.invoke(cb, snap, ev)
	}
}

func (l *Ledger) invoke(cb Callback, snap Snapshot, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[state] subscriber callback panicked", "panic", r)
		}
	}()
	cb(snap, ev)
}

// UpdateLockPosition records a new bolt position. Returns true if the
// value changed and an event was emitted.
func (l *Ledger) UpdateLockPosition(pos LockPosition, source Source) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos == l.snap.LockPosition {
		return false
	}
	old := l.snap.LockPosition
	now := time.Now().UTC()
	l.snap.LockPosition = pos
	l.snap.LastUpdated = now
	l.snap.LastActivity = now
	l.snap.LastActivityKind = string(pos)
	l.commit(ChangeEvent{
		Timestamp: now,
		Kind:      KindLockState,
		OldValue:  string(old),
		NewValue:  string(pos),
		Source:    source,
	})
	slog.Info("[state] lock state changed", "old", old, "new", pos, "source", source)
	return true
}

// UpdateDoorPosition records a new door sensor position. Returns true
// if the value changed and an event was emitted.
func (l *Ledger) UpdateDoorPosition(pos DoorPosition, source Source) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos == l.snap.DoorPosition {
		return false
	}
	old := l.snap.DoorPosition
	now := time.Now().UTC()
	l.snap.DoorPosition = pos
	l.snap.LastUpdated = now
	l.snap.LastActivity = now
	l.snap.LastActivityKind = "door_" + string(pos)
	l.commit(ChangeEvent{
		Timestamp: now,
		Kind:      KindDoorState,
		OldValue:  string(old),
		NewValue:  string(pos),
		Source:    source,
	})
	slog.Info("[state] door state changed", "old", old, "new", pos, "source", source)
	return true
}

// UpdateBattery records a battery reading. Deduplication is on the
// percentage; voltage rides along with an accepted change. Returns true
// if the percentage changed and an event was emitted.
func (l *Ledger) UpdateBattery(percent int, voltage *float64, source Source) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snap.BatteryPercent != nil && *l.snap.BatteryPercent == percent {
		return false
	}
	old := "unknown"
	if l.snap.BatteryPercent != nil {
		old = fmt.Sprintf("%d", *l.snap.BatteryPercent)
	}
	now := time.Now().UTC()
	p := percent
	l.snap.BatteryPercent = &p
	l.snap.BatteryVoltage = voltage
	l.snap.LastUpdated = now
	l.commit(ChangeEvent{
		Timestamp: now,
		Kind:      KindBattery,
		OldValue:  old,
		NewValue:  fmt.Sprintf("%d", percent),
		Source:    source,
	})
	slog.Info("[state] battery changed", "old", old, "new", percent, "source", source)
	return true
}

// UpdateDoorbell records the doorbell ringing flag. Only a ring (not
// the return to idle) counts as activity. Returns true if the flag
// flipped and an event was emitted.
func (l *Ledger) UpdateDoorbell(ringing bool, source Source) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ringing == l.snap.DoorbellRinging {
		return false
	}
	old := doorbellLabel(l.snap.DoorbellRinging)
	now := time.Now().UTC()
	l.snap.DoorbellRinging = ringing
	l.snap.LastUpdated = now
	if ringing {
		l.snap.LastActivity = now
		l.snap.LastActivityKind = "doorbell"
	}
	l.commit(ChangeEvent{
		Timestamp: now,
		Kind:      KindDoorbell,
		OldValue:  old,
		NewValue:  doorbellLabel(ringing),
		Source:    source,
	})
	slog.Info("[state] doorbell changed", "old", old, "new", doorbellLabel(ringing), "source", source)
	return true
}

// UpdateConnection records link connectivity. The signal strength is
// always stored; an event is emitted only when the connected flag
// flips. rssi may be nil when no reading is available.
func (l *Ledger) UpdateConnection(connected bool, rssi *int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	flipped := connected != l.snap.Connected
	now := time.Now().UTC()
	l.snap.Connected = connected
	l.snap.RSSI = rssi
	l.snap.LastUpdated = now
	if !flipped {
		l.publish()
		return
	}
	l.commit(ChangeEvent{
		Timestamp: now,
		Kind:      KindConnection,
		OldValue:  connectionLabel(!connected),
		NewValue:  connectionLabel(connected),
		Source:    SourceSystem,
	})
	slog.Info("[state] connection changed", "connected", connected)
}

// UpdateDeviceInfo stores lock hardware metadata. Metadata is not
// state: no change detection, no event.
func (l *Ledger) UpdateDeviceInfo(model, serial, firmware string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Model = model
	l.snap.Serial = serial
	l.snap.Firmware = firmware
	l.publish()
}

// UpdateAutoLock stores the lock's auto-lock configuration. No change
// detection, no event.
func (l *Ledger) UpdateAutoLock(enabled bool, durationSec int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.AutoLockEnabled = enabled
	l.snap.AutoLockDurationSec = durationSec
	l.publish()
}

func doorbellLabel(ringing bool) string {
	if ringing {
		return "ringing"
	}
	return "idle"
}

func connectionLabel(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}
