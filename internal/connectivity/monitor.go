// Package connectivity tracks whether the notes API is reachable. A
// Monitor holds the current online flag and notifies subscribers on
// transitions; a Probe drives a Monitor from a WebSocket presence
// connection.
package connectivity

import (
	"log/slog"
	"sync"
)

// Monitor is the connectivity signal consumed by the offline engine.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(online bool)
	logger    *slog.Logger
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool, logger *slog.Logger) *Monitor {
	return &Monitor{
		online:    online,
		listeners: make(map[int]func(bool)),
		logger:    logger,
	}
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

// Set updates the connectivity state. Subscribers are called only when
// the state actually changes, outside the lock, in subscription order.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()

	if m.online == online {
		m.mu.Unlock()
		return
	}

	m.online = online
	fns := m.snapshot()
	m.mu.Unlock()

	m.logger.Info("connectivity changed", slog.Bool("online", online))

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn for connectivity transitions and returns a
// function that removes it.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.listeners, id)
	}
}

// snapshot returns listeners ordered by id. Caller holds mu.
func (m *Monitor) snapshot() []func(bool) {
	fns := make([]func(bool), 0, len(m.listeners))

	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}

	return fns
}
