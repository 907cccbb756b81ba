// Package redispub mirrors the lock's state into Redis so other
// services on the host can consume it: the current snapshot lives in a
// hash, and every change event is published on a channel. The
// publisher is a plain ledger subscriber; Redis being down never
// affects the monitor itself.
package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/chaz8081/doorman-monitor/internal/state"
)

const (
	// KeyState is the hash holding the current snapshot fields.
	KeyState = "doorman"
	// ChannelEvents carries one JSON change event per message.
	ChannelEvents = "doorman:events"
)

// Publisher mirrors ledger state into Redis.
type Publisher struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redispub: connect to %s: %w", addr, err)
	}

	return &Publisher{client: client, ctx: ctx}, nil
}

// Attach subscribes the publisher to the ledger.
func (p *Publisher) Attach(ledger *state.Ledger) {
	ledger.Subscribe(p.onChange)
}

// onChange writes the full snapshot hash and publishes the event. A
// single pipeline keeps the hash and the notification consistent.
func (p *Publisher) onChange(snap state.Snapshot, ev state.ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("[redispub] marshal event", "error", err)
		return
	}

	pipe := p.client.Pipeline()
	pipe.HSet(p.ctx, KeyState, SnapshotFields(snap))
	pipe.Publish(p.ctx, ChannelEvents, payload)
	if _, err := pipe.Exec(p.ctx); err != nil {
		slog.Warn("[redispub] publish failed", "error", err)
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// SnapshotFields flattens a snapshot into hash fields. Optional
// readings that were never seen are published as "unknown".
func SnapshotFields(snap state.Snapshot) map[string]string {
	fields := map[string]string{
		"lock-state":         string(snap.LockPosition),
		"door-state":         string(snap.DoorPosition),
		"battery-level":      "unknown",
		"rssi":               "unknown",
		"doorbell-ringing":   strconv.FormatBool(snap.DoorbellRinging),
		"auto-lock-enabled":  strconv.FormatBool(snap.AutoLockEnabled),
		"auto-lock-duration": strconv.Itoa(snap.AutoLockDurationSec),
		"connected":          strconv.FormatBool(snap.Connected),
		"lock-model":         snap.Model,
		"lock-serial":        snap.Serial,
		"lock-firmware":      snap.Firmware,
	}
	if snap.BatteryPercent != nil {
		fields["battery-level"] = strconv.Itoa(*snap.BatteryPercent)
	}
	if snap.RSSI != nil {
		fields["rssi"] = strconv.Itoa(*snap.RSSI)
	}
	if !snap.LastUpdated.IsZero() {
		fields["last-updated"] = snap.LastUpdated.Format("2006-01-02T15:04:05Z07:00")
	}
	if !snap.LastActivity.IsZero() {
		fields["last-activity"] = snap.LastActivity.Format("2006-01-02T15:04:05Z07:00")
		fields["last-activity-type"] = snap.LastActivityKind
	}
	return fields
}
