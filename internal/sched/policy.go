// Package sched implements the adaptive duty-cycle scheduler: a pure
// policy that computes the next poll interval from time-of-day and
// recent activity, and a driver loop that sleeps and triggers polls.
package sched

import "time"

// Mode labels which policy branch selected the current interval.
type Mode string

const (
	ModeActive Mode = "active"
	ModeQuiet  Mode = "quiet"
	ModeNormal Mode = "normal"
)

// Config holds the polling cadence parameters.
type Config struct {
	ActiveInterval      time.Duration // poll interval after recent activity
	NormalInterval      time.Duration // default poll interval
	QuietInterval       time.Duration // poll interval during quiet hours
	ActiveDecay         time.Duration // how long activity keeps us in active mode
	BatteryPollInterval time.Duration // separate, slower battery cadence
	QuietHoursStart     int           // local hour 0-23
	QuietHoursEnd       int           // local hour 0-23, half-open [start, end)
}

// DefaultConfig mirrors the battery-friendly defaults: 2 minutes while
// active, 10 minutes normally, 30 minutes overnight, hourly battery.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:      2 * time.Minute,
		NormalInterval:      10 * time.Minute,
		QuietInterval:       30 * time.Minute,
		ActiveDecay:         10 * time.Minute,
		BatteryPollInterval: time.Hour,
		QuietHoursStart:     1,
		QuietHoursEnd:       6,
	}
}

// NextInterval computes the poll interval and mode for the given
// moment. Active mode wins over quiet hours. Activity decay compares
// time.Time values that carry monotonic readings, so it survives
// wall-clock adjustments; quiet hours follow the local wall clock.
// A zero lastActivity means activity was never recorded.
func NextInterval(now, lastActivity time.Time, cfg Config) (time.Duration, Mode) {
	if !lastActivity.IsZero() && now.Sub(lastActivity) < cfg.ActiveDecay {
		return cfg.ActiveInterval, ModeActive
	}
	if inQuietHours(now.Hour(), cfg.QuietHoursStart, cfg.QuietHoursEnd) {
		return cfg.QuietInterval, ModeQuiet
	}
	return cfg.NormalInterval, ModeNormal
}

// ShouldPollBattery reports whether the slow battery cadence has
// elapsed. A zero lastBatteryPoll means battery was never read, which
// is due immediately.
func ShouldPollBattery(now, lastBatteryPoll time.Time, interval time.Duration) bool {
	if lastBatteryPoll.IsZero() {
		return true
	}
	return now.Sub(lastBatteryPoll) >= interval
}

// inQuietHours checks hour against the half-open window [start, end).
// When start > end the window wraps across midnight.
func inQuietHours(hour, start, end int) bool {
	if start < end {
		return start <= hour && hour < end
	}
	return hour >= start || hour < end
}
