package session

import (
	"context"
	"errors"
	"sync"
)

// mockSession records advertisements and read requests.
type mockSession struct {
	mu      sync.Mutex
	advs    []Advertisement
	reads   int
	readErr error
	closes  int
}

func (s *mockSession) UpdateAdvertisement(adv Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advs = append(s.advs, adv)
}

func (s *mockSession) RequestRead(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.readErr
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return errors.New("mock: close always grumbles")
}

func (s *mockSession) advCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.advs)
}

func (s *mockSession) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *mockSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// mockDriver hands out a single mockSession and captures the decoded
// event callback so tests can inject link events.
type mockDriver struct {
	mu       sync.Mutex
	sess     *mockSession
	onUpdate func(Update)
	beginErr error
	begins   int
}

func newMockDriver() *mockDriver {
	return &mockDriver{sess: &mockSession{}}
}

func (d *mockDriver) Begin(_ DeviceKey, onUpdate func(Update)) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.begins++
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.onUpdate = onUpdate
	return d.sess, nil
}

// inject delivers a decoded link event as the driver would.
func (d *mockDriver) inject(u Update) {
	d.mu.Lock()
	cb := d.onUpdate
	d.mu.Unlock()
	if cb != nil {
		cb(u)
	}
}

var _ Driver = (*mockDriver)(nil)
var _ Session = (*mockSession)(nil)
