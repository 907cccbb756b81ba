package dashboard

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chaz8081/doorman-monitor/internal/sched"
	"github.com/chaz8081/doorman-monitor/internal/session"
	"github.com/chaz8081/doorman-monitor/internal/state"
)

func newTestServer(t *testing.T, diagFn func() session.Diagnostics) (*Server, *state.Ledger) {
	t.Helper()
	ledger := state.NewLedger(filepath.Join(t.TempDir(), "events.jsonl"), 100)
	scheduler := sched.New(sched.DefaultConfig())
	return New(ledger, scheduler, diagFn), ledger
}

func TestHandleState(t *testing.T) {
	s, ledger := newTestServer(t, nil)
	ledger.UpdateLockPosition(state.LockLocked, state.SourcePoll)

	w := httptest.NewRecorder()
	s.handleState(w, httptest.NewRequest("GET", "/api/state", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if snap.LockPosition != state.LockLocked {
		t.Errorf("lock state = %q, want locked", snap.LockPosition)
	}
}

func TestHandleEvents(t *testing.T) {
	s, ledger := newTestServer(t, nil)
	ledger.UpdateLockPosition(state.LockLocked, state.SourcePoll)
	ledger.UpdateDoorPosition(state.DoorOpen, state.SourceLink)

	w := httptest.NewRecorder()
	s.handleEvents(w, httptest.NewRequest("GET", "/api/events", nil))

	var events []state.ChangeEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != state.KindLockState || events[1].Kind != state.KindDoorState {
		t.Errorf("events out of order: %+v", events)
	}
}

func TestHandleEventsCountParam(t *testing.T) {
	s, ledger := newTestServer(t, nil)
	ledger.UpdateLockPosition(state.LockLocked, state.SourcePoll)
	ledger.UpdateLockPosition(state.LockUnlocked, state.SourcePoll)
	ledger.UpdateLockPosition(state.LockLocked, state.SourcePoll)

	w := httptest.NewRecorder()
	s.handleEvents(w, httptest.NewRequest("GET", "/api/events?count=2", nil))

	var events []state.ChangeEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("count=2 returned %d events", len(events))
	}
}

func TestHandleEventsBadCount(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for _, raw := range []string{"zero", "-1", "0"} {
		w := httptest.NewRecorder()
		s.handleEvents(w, httptest.NewRequest("GET", "/api/events?count="+raw, nil))
		if w.Code != 400 {
			t.Errorf("count=%s: status = %d, want 400", raw, w.Code)
		}
	}
}

func TestHandleEventsEmptyIsArray(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	s.handleEvents(w, httptest.NewRequest("GET", "/api/events", nil))

	// Clients expect [], never null.
	if got := string(w.Body.Bytes()[:2]); got != "[]" {
		t.Errorf("empty events body starts with %q, want []", got)
	}
}

func TestHandleScheduler(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	s.handleScheduler(w, httptest.NewRequest("GET", "/api/scheduler", nil))

	var status sched.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if status.Mode != sched.ModeNormal && status.Mode != sched.ModeQuiet {
		t.Errorf("mode = %q", status.Mode)
	}
}

func TestHandleDiagnostics(t *testing.T) {
	diag := session.Diagnostics{Running: true, TargetName: "Aug-A1B2", SessionID: "abc"}
	s, _ := newTestServer(t, func() session.Diagnostics { return diag })

	w := httptest.NewRecorder()
	s.handleDiagnostics(w, httptest.NewRequest("GET", "/api/diagnostics", nil))

	var got session.Diagnostics
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !got.Running || got.TargetName != "Aug-A1B2" || got.SessionID != "abc" {
		t.Errorf("diagnostics = %+v", got)
	}
}

func TestHandleDiagnosticsNilFn(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	s.handleDiagnostics(w, httptest.NewRequest("GET", "/api/diagnostics", nil))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200 with zero diagnostics", w.Code)
	}
}

func TestOnChangeFanOutAndSlowClientDrop(t *testing.T) {
	s, ledger := newTestServer(t, nil)

	fast := make(chan []byte, 16)
	slow := make(chan []byte) // unbuffered and never read
	s.mu.Lock()
	s.clients[fast] = struct{}{}
	s.clients[slow] = struct{}{}
	s.mu.Unlock()

	ledger.UpdateLockPosition(state.LockLocked, state.SourceLink)

	select {
	case payload := <-fast:
		var msg sseMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if msg.Type != "state_update" || msg.Event.Kind != state.KindLockState {
			t.Errorf("payload = %+v", msg)
		}
	default:
		t.Fatal("fast client did not receive the event")
	}

	s.mu.Lock()
	_, slowStill := s.clients[slow]
	_, fastStill := s.clients[fast]
	s.mu.Unlock()
	if slowStill {
		t.Error("slow client should have been dropped")
	}
	if !fastStill {
		t.Error("fast client should remain subscribed")
	}
}
