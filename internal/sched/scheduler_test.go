package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fastConfig polls every few milliseconds so loop tests finish quickly.
func fastConfig() Config {
	return Config{
		ActiveInterval:      5 * time.Millisecond,
		NormalInterval:      5 * time.Millisecond,
		QuietInterval:       5 * time.Millisecond,
		ActiveDecay:         time.Minute,
		BatteryPollInterval: time.Hour,
		QuietHoursStart:     1,
		QuietHoursEnd:       6,
	}
}

func TestRunPollsRepeatedly(t *testing.T) {
	s := New(fastConfig())
	var polls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(context.Context) error {
			polls.Add(1)
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for polls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected >= 3 polls, got %d", polls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if s.Running() {
		t.Error("Running() = true after loop exit")
	}
}

func TestRunContinuesAfterPollError(t *testing.T) {
	s := New(fastConfig())
	var polls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(context.Context) error {
			polls.Add(1)
			return errors.New("lock out of range")
		})
	}()

	deadline := time.After(2 * time.Second)
	for polls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop should survive poll errors, got %d polls", polls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	// Failed polls must not advance the bookkeeping.
	if got := s.Status().LastPollAgoSec; got != nil {
		t.Errorf("LastPollAgoSec = %v after only failed polls, want nil", *got)
	}
}

func TestRunStopsWithoutFinalPoll(t *testing.T) {
	cfg := fastConfig()
	cfg.NormalInterval = time.Hour // long sleep so cancellation hits it
	s := New(cfg)
	var polls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(context.Context) error {
			polls.Add(1)
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
	if polls.Load() != 0 {
		t.Errorf("cancellation during sleep should skip the poll, got %d", polls.Load())
	}
}

func TestOnActivitySwitchesToActiveMode(t *testing.T) {
	cfg := testConfig()
	s := New(cfg)

	if _, mode := s.NextInterval(); mode == ModeActive {
		t.Fatal("fresh scheduler should not be in active mode")
	}
	s.OnActivity()
	interval, mode := s.NextInterval()
	if mode != ModeActive {
		t.Errorf("mode = %q after activity, want %q", mode, ModeActive)
	}
	if interval != cfg.ActiveInterval {
		t.Errorf("interval = %v, want %v", interval, cfg.ActiveInterval)
	}
}

func TestBatteryCadenceIndependent(t *testing.T) {
	s := New(testConfig())

	if !s.ShouldPollBattery() {
		t.Error("battery should be due before the first battery poll")
	}
	s.MarkBatteryPolled()
	if s.ShouldPollBattery() {
		t.Error("battery should not be due right after a battery poll")
	}
	// The main poll bookkeeping must not affect the battery cadence.
	s.MarkPolled()
	if s.ShouldPollBattery() {
		t.Error("MarkPolled must not reset the battery cadence")
	}
}

func TestStatus(t *testing.T) {
	s := New(testConfig())

	st := s.Status()
	if st.LastActivityAgoSec != nil {
		t.Error("LastActivityAgoSec should be nil before any activity")
	}
	if st.LastPollAgoSec != nil {
		t.Error("LastPollAgoSec should be nil before any poll")
	}
	if !st.ShouldPollBattery {
		t.Error("ShouldPollBattery should start true")
	}
	if st.NextIntervalSec <= 0 {
		t.Errorf("NextIntervalSec = %v, want > 0", st.NextIntervalSec)
	}

	s.OnActivity()
	s.MarkPolled()
	st = s.Status()
	if st.Mode != ModeActive {
		t.Errorf("Mode = %q after activity, want %q", st.Mode, ModeActive)
	}
	if st.LastActivityAgoSec == nil {
		t.Error("LastActivityAgoSec should be set after activity")
	}
	if st.LastPollAgoSec == nil {
		t.Error("LastPollAgoSec should be set after a poll")
	}
}
