package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PollFunc performs one immediate read of the lock. An error means the
// poll failed; the loop logs it and retries on the next interval.
type PollFunc func(ctx context.Context) error

// Status is a read-only view of the scheduler for observers.
type Status struct {
	Mode               Mode     `json:"mode"`
	NextIntervalSec    float64  `json:"next_interval_sec"`
	LastActivityAgoSec *float64 `json:"last_activity_ago_sec"`
	LastPollAgoSec     *float64 `json:"last_poll_ago_sec"`
	ShouldPollBattery  bool     `json:"should_poll_battery"`
}

// Scheduler tracks activity and poll bookkeeping and runs the
// duty-cycle loop. Bookkeeping is ephemeral: it resets on process
// restart, so the first interval after a restart is never active mode.
type Scheduler struct {
	cfg Config

	mu              sync.Mutex
	lastActivity    time.Time
	lastPoll        time.Time
	lastBatteryPoll time.Time
	running         bool
}

// New creates a Scheduler with the given cadence configuration.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// OnActivity records lock activity, switching to high-frequency
// polling until the decay window passes. Safe for concurrent use; the
// session coordinator calls this from the link event path.
func (s *Scheduler) OnActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	slog.Debug("[sched] activity detected, switching to active polling")
}

// MarkPolled records that a poll just completed.
func (s *Scheduler) MarkPolled() {
	s.mu.Lock()
	s.lastPoll = time.Now()
	s.mu.Unlock()
}

// MarkBatteryPolled records that a battery read just completed.
func (s *Scheduler) MarkBatteryPolled() {
	s.mu.Lock()
	s.lastBatteryPoll = time.Now()
	s.mu.Unlock()
}

// NextInterval returns the interval and mode the policy selects now.
func (s *Scheduler) NextInterval() (time.Duration, Mode) {
	s.mu.Lock()
	last := s.lastActivity
	s.mu.Unlock()
	return NextInterval(time.Now(), last, s.cfg)
}

// ShouldPollBattery reports whether the battery cadence is due.
func (s *Scheduler) ShouldPollBattery() bool {
	s.mu.Lock()
	last := s.lastBatteryPoll
	s.mu.Unlock()
	return ShouldPollBattery(time.Now(), last, s.cfg.BatteryPollInterval)
}

// Running reports whether the duty-cycle loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a diagnostic snapshot for observers.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	lastActivity := s.lastActivity
	lastPoll := s.lastPoll
	lastBattery := s.lastBatteryPoll
	s.mu.Unlock()

	now := time.Now()
	interval, mode := NextInterval(now, lastActivity, s.cfg)
	st := Status{
		Mode:              mode,
		NextIntervalSec:   interval.Seconds(),
		ShouldPollBattery: ShouldPollBattery(now, lastBattery, s.cfg.BatteryPollInterval),
	}
	if !lastActivity.IsZero() {
		ago := now.Sub(lastActivity).Seconds()
		st.LastActivityAgoSec = &ago
	}
	if !lastPoll.IsZero() {
		ago := now.Sub(lastPoll).Seconds()
		st.LastPollAgoSec = &ago
	}
	return st
}

// Run executes the duty-cycle loop until ctx is cancelled: compute the
// interval, sleep, poll. A failed poll is logged and never terminates
// the loop; cancellation during the sleep exits without a final poll.
func (s *Scheduler) Run(ctx context.Context, poll PollFunc) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	slog.Info("[sched] adaptive scheduler started")
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		interval, mode := s.NextInterval()
		slog.Debug("[sched] next poll scheduled", "mode", mode, "interval", interval)

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("[sched] adaptive scheduler stopped")
			return
		case <-timer.C:
		}

		if err := poll(ctx); err != nil {
			slog.Error("[sched] poll failed", "error", err)
			continue
		}
		s.MarkPolled()
	}
}
