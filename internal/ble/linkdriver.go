package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/doorman-monitor/internal/session"
)

// LinkDriver implements session.Driver over tinygo-org/bluetooth. It
// covers the lock's plain GATT surface (battery service and device
// information service) plus advertisement-derived signal metadata.
// Decoding the encrypted command channel (lock and door positions,
// doorbell) is the job of a dedicated session library plugged in behind
// the same interface.
type LinkDriver struct {
	adapter *bluetooth.Adapter
}

// NewLinkDriver creates a driver on the given adapter.
func NewLinkDriver(adapter *bluetooth.Adapter) *LinkDriver {
	return &LinkDriver{adapter: adapter}
}

// Begin prepares a link session for the given device.
func (d *LinkDriver) Begin(key session.DeviceKey, onUpdate func(session.Update)) (session.Session, error) {
	if err := d.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}
	return &linkSession{
		adapter:  d.adapter,
		key:      key,
		onUpdate: onUpdate,
	}, nil
}

var _ session.Driver = (*LinkDriver)(nil)

type linkSession struct {
	adapter  *bluetooth.Adapter
	key      session.DeviceKey
	onUpdate func(session.Update)

	mu       sync.Mutex
	addr     *bluetooth.Address // resolved from advertisements
	lastRSSI int
	device   *bluetooth.Device // held only in always-connected mode
	closed   bool
}

// UpdateAdvertisement stores the device's current radio address and
// signal strength. RequestRead fails until the first advertisement has
// been seen.
func (s *linkSession) UpdateAdvertisement(adv session.Advertisement) {
	mac, err := bluetooth.ParseMAC(adv.Address)
	if err != nil {
		slog.Debug("[ble] unparsable advertisement address", "address", adv.Address, "error", err)
		return
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}
	s.mu.Lock()
	s.addr = &addr
	s.lastRSSI = adv.RSSI
	s.mu.Unlock()
}

// RequestRead connects (or reuses the held connection in
// always-connected mode), reads the battery and device information
// services, reports the decoded values, and schedules the disconnect
// after the configured idle delay.
func (s *linkSession) RequestRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("ble: session closed")
	}
	addr := s.addr
	rssi := s.lastRSSI
	device := s.device
	s.mu.Unlock()

	if addr == nil {
		return errors.New("ble: device address not resolved yet (no advertisement received)")
	}

	if device == nil {
		dev, err := connectWithContext(ctx, s.adapter, *addr)
		if err != nil {
			return fmt.Errorf("ble: connect: %w", err)
		}
		device = dev
		if s.key.AlwaysConnected {
			s.mu.Lock()
			s.device = device
			s.mu.Unlock()
		} else {
			defer s.scheduleDisconnect(device)
		}
	}

	update, err := readDeviceState(device)
	if err != nil {
		return err
	}
	update.Conn = &session.ConnectionInfo{RSSI: rssi}
	s.onUpdate(*update)
	return nil
}

// Close tears the session down. Safe to call more than once.
func (s *linkSession) Close() error {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.closed = true
	s.mu.Unlock()
	if device != nil {
		return device.Disconnect()
	}
	return nil
}

// scheduleDisconnect drops the connection after the idle delay, giving
// the lock a short window to push pending notifications first.
func (s *linkSession) scheduleDisconnect(device *bluetooth.Device) {
	delay := s.key.IdleDisconnectDelay
	if delay <= 0 {
		if err := device.Disconnect(); err != nil {
			slog.Debug("[ble] disconnect error (ignored)", "error", err)
		}
		return
	}
	time.AfterFunc(delay, func() {
		if err := device.Disconnect(); err != nil {
			slog.Debug("[ble] disconnect error (ignored)", "error", err)
		}
	})
}

// connectWithContext wraps adapter.Connect, which blocks with its own
// internal timeout, so callers can bail out early on ctx cancellation.
func connectWithContext(ctx context.Context, adapter *bluetooth.Adapter, addr bluetooth.Address) (*bluetooth.Device, error) {
	type result struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return &r.device, nil
	}
}

// readDeviceState reads the battery level and device information
// characteristics from a connected device.
func readDeviceState(device *bluetooth.Device) (*session.Update, error) {
	svcs, err := device.DiscoverServices([]bluetooth.UUID{
		bluetooth.ServiceUUIDBattery,
		bluetooth.ServiceUUIDDeviceInformation,
	})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) < 2 {
		return nil, fmt.Errorf("ble: expected battery and device info services, got %d", len(svcs))
	}

	update := &session.Update{}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{
		bluetooth.CharacteristicUUIDBatteryLevel,
	})
	if err == nil && len(chars) == 1 {
		buf := make([]byte, 1)
		if n, err := chars[0].Read(buf); err == nil && n == 1 {
			update.Battery = &session.BatteryReading{Percent: int(buf[0])}
		}
	}

	infoChars, err := svcs[1].DiscoverCharacteristics([]bluetooth.UUID{
		bluetooth.CharacteristicUUIDModelNumberString,
		bluetooth.CharacteristicUUIDSerialNumberString,
		bluetooth.CharacteristicUUIDFirmwareRevisionString,
	})
	if err == nil && len(infoChars) == 3 {
		update.Info = &session.DeviceInfo{
			Model:    readString(infoChars[0]),
			Serial:   readString(infoChars[1]),
			Firmware: readString(infoChars[2]),
		}
	}

	if update.Battery == nil && update.Info == nil {
		return nil, errors.New("ble: no readable characteristics")
	}
	return update, nil
}

func readString(char bluetooth.DeviceCharacteristic) string {
	buf := make([]byte, 64)
	n, err := char.Read(buf)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(buf[:n]), "\x00")
}
