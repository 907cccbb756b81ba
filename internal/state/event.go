package state

import "time"

// Kind classifies a change event.
type Kind string

const (
	KindLockState  Kind = "lock_state"
	KindDoorState  Kind = "door_state"
	KindBattery    Kind = "battery"
	KindDoorbell   Kind = "doorbell"
	KindConnection Kind = "connection"
)

// Source identifies which path produced a change event.
type Source string

const (
	// SourceLink marks changes pushed asynchronously by the BLE link.
	SourceLink Source = "link"
	// SourcePoll marks changes read during a scheduled poll.
	SourcePoll Source = "poll"
	// SourceSystem marks changes generated by the monitor itself.
	SourceSystem Source = "system"
)

// ChangeEvent is one accepted state mutation. Values are stringified
// so the audit log stays uniform across event kinds. Events are
// immutable once created.
type ChangeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"event_type"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Source    Source    `json:"source"`
}
