// Package ble wraps tinygo-org/bluetooth for the monitor: a continuous
// advertisement scanner that feeds the session coordinator, a one-shot
// discovery scan for the CLI, and a GATT-backed link driver.
package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/doorman-monitor/internal/session"
)

// The Yale/August command service UUID advertised by the locks, and
// the manufacturer ID found in their advertisement payloads.
const lockServiceUUIDString = "0000fe24-0000-1000-8000-00805f9b34fb"

const yaleManufacturerID uint16 = 465

var lockServiceUUID = mustParseUUID(lockServiceUUIDString)

var lockNamePrefixes = []string{"Aug-", "Yale-", "YD-"}

// DiscoveredLock is one lock found during a discovery scan.
type DiscoveredLock struct {
	Name    string
	Address string
	RSSI    int
}

// Scanner runs a continuous advertisement scan and forwards every
// result to a callback. The coordinator needs this live feed so the
// link driver can resolve the radio address and signal metadata before
// connecting; on-demand reads alone fail without it.
type Scanner struct {
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	running bool
}

// NewScanner creates a Scanner on the given adapter.
func NewScanner(adapter *bluetooth.Adapter) *Scanner {
	return &Scanner{adapter: adapter}
}

// Start enables the adapter and begins scanning in the background,
// invoking onAdv for every advertisement seen. Starting a running
// scanner is a no-op.
func (s *Scanner) Start(onAdv func(session.Advertisement)) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.adapter.Enable(); err != nil {
		s.setRunning(false)
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	go func() {
		err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			onAdv(toAdvertisement(result))
		})
		if err != nil {
			slog.Error("[ble] advertisement scan ended", "error", err)
		}
		s.setRunning(false)
	}()

	slog.Info("[ble] advertisement scanner started")
	return nil
}

// Stop ends the background scan. Idempotent.
func (s *Scanner) Stop() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	if err := s.adapter.StopScan(); err != nil {
		slog.Debug("[ble] stop scan error (ignored)", "error", err)
	}
}

func (s *Scanner) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// ScanForLocks scans for Yale/August-looking devices for the given
// duration and returns them deduplicated by address. Used by the
// discovery CLI command.
func ScanForLocks(adapter *bluetooth.Adapter, timeout time.Duration) ([]DiscoveredLock, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	var mu sync.Mutex
	var found []DiscoveredLock
	seen := make(map[string]bool)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		<-ctx.Done()
		adapter.StopScan()
	}()

	err := adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := toAdvertisement(result)
		if !IsLockAdvertisement(adv) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[adv.Address] {
			return
		}
		seen[adv.Address] = true
		found = append(found, DiscoveredLock{
			Name:    adv.LocalName,
			Address: adv.Address,
			RSSI:    adv.RSSI,
		})
		slog.Info("[ble] found lock", "name", adv.LocalName, "address", adv.Address, "rssi", adv.RSSI)
	})
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return found, nil
}

// IsLockAdvertisement reports whether an advertisement looks like a
// Yale/August lock: command service UUID, Yale manufacturer data, or a
// known name prefix.
func IsLockAdvertisement(adv session.Advertisement) bool {
	if adv.HasLockService {
		return true
	}
	if _, ok := adv.ManufacturerData[yaleManufacturerID]; ok {
		return true
	}
	for _, prefix := range lockNamePrefixes {
		if len(adv.LocalName) >= len(prefix) && adv.LocalName[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func toAdvertisement(result bluetooth.ScanResult) session.Advertisement {
	mfr := make(map[uint16][]byte)
	for _, elem := range result.ManufacturerData() {
		mfr[elem.CompanyID] = elem.Data
	}
	return session.Advertisement{
		Address:          result.Address.String(),
		LocalName:        result.LocalName(),
		RSSI:             int(result.RSSI),
		HasLockService:   result.HasServiceUUID(lockServiceUUID),
		ManufacturerData: mfr,
	}
}

func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("ble: bad UUID %q: %v", s, err))
	}
	return uuid
}
