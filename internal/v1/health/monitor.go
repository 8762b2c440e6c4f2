package health

import (
	"context"
	"sync"
	"time"

	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/metrics"
	"github.com/rebenew/partysync/internal/v1/room"
	"github.com/rebenew/partysync/internal/v1/types"
	"go.uber.org/zap"
)

// Monitor watches every registered room and enforces the host reconnection
// window. It runs two periodic loops: a liveness check that flags rooms
// whose host has dropped (warning members once per unhealthy edge, not per
// tick), and a cleanup sweep that expires rooms whose window has fully
// elapsed. A per-room timer armed on host loss makes expiration prompt
// even between sweeps; the sweep is the safety net behind it.
type Monitor struct {
	registry *room.Registry

	checkInterval      time.Duration
	cleanupInterval    time.Duration
	reconnectionWindow time.Duration

	mu        sync.Mutex
	unhealthy map[types.RoomIdType]bool
	pending   map[types.RoomIdType]*time.Timer

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a Monitor. Call Start to begin the loops.
func NewMonitor(registry *room.Registry, checkInterval, cleanupInterval, reconnectionWindow time.Duration) *Monitor {
	return &Monitor{
		registry:           registry,
		checkInterval:      checkInterval,
		cleanupInterval:    cleanupInterval,
		reconnectionWindow: reconnectionWindow,
		unhealthy:          make(map[types.RoomIdType]bool),
		pending:            make(map[types.RoomIdType]*time.Timer),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Start launches the background loops.
func (m *Monitor) Start() {
	go m.run()
	logging.Info(context.Background(), "Health monitor started",
		zap.Duration("checkInterval", m.checkInterval),
		zap.Duration("cleanupInterval", m.cleanupInterval),
		zap.Duration("reconnectionWindow", m.reconnectionWindow))
}

// Stop halts the loops and cancels every pending expiration timer.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done

		m.mu.Lock()
		for id, t := range m.pending {
			t.Stop()
			delete(m.pending, id)
		}
		m.mu.Unlock()
	})
}

func (m *Monitor) run() {
	defer close(m.done)

	check := time.NewTicker(m.checkInterval)
	defer check.Stop()
	cleanup := time.NewTicker(m.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-check.C:
			m.checkRooms()
		case <-cleanup.C:
			m.sweep()
		}
	}
}

// HostLost arms the expiration timer for a room whose host connection just
// dropped. Wire this as the registry's host-loss callback. A re-drop
// re-arms the timer from the new disconnect instant.
func (m *Monitor) HostLost(id types.RoomIdType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.pending[id]; ok {
		t.Stop()
	}
	m.pending[id] = time.AfterFunc(m.reconnectionWindow, func() {
		m.expireIfDue(id)
	})

	logging.Info(context.Background(), "Host lost, expiration armed",
		zap.String("roomId", string(id)),
		zap.Duration("window", m.reconnectionWindow))
}

// expireIfDue fires when a room's reconnection window may have elapsed.
// A host that returned in the meantime makes it a no-op; ExpirationDue
// re-checks against the latest host activity, so a drop-return-drop
// sequence is handled by whichever timer fires against a still-absent host.
func (m *Monitor) expireIfDue(id types.RoomIdType) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()

	r := m.registry.Get(id)
	if r == nil {
		return
	}
	if !r.ExpirationDue(m.reconnectionWindow) {
		return
	}
	m.expire(id)
}

func (m *Monitor) expire(id types.RoomIdType) {
	if m.registry.Delete(id, types.HealthSystemPrincipal, "host reconnection window elapsed") {
		metrics.RoomsExpired.Inc()
		m.mu.Lock()
		delete(m.unhealthy, id)
		if t, ok := m.pending[id]; ok {
			t.Stop()
			delete(m.pending, id)
		}
		m.mu.Unlock()
		logging.Warn(context.Background(), "Room expired",
			zap.String("roomId", string(id)))
	}
}

// checkRooms evaluates host liveness for every room. Warnings fire on the
// healthy-to-unhealthy edge only; a room that stays broken across ticks
// does not spam its members.
func (m *Monitor) checkRooms() {
	for _, r := range m.registry.Snapshot() {
		id := r.ID()
		isUnhealthy := r.State() == types.RoomStateHostDisconnected

		m.mu.Lock()
		was := m.unhealthy[id]
		if isUnhealthy {
			m.unhealthy[id] = true
		} else {
			delete(m.unhealthy, id)
		}
		m.mu.Unlock()

		switch {
		case isUnhealthy && !was:
			metrics.HealthTransitions.WithLabelValues("unhealthy").Inc()
			r.NotifyHealthWarning("host disconnected, reconnection window running")
		case !isUnhealthy && was:
			metrics.HealthTransitions.WithLabelValues("healthy").Inc()
		}
	}
}

// sweep expires every room whose host has been absent past the window.
// Catches rooms whose per-drop timer was lost (e.g. restart of the loop).
func (m *Monitor) sweep() {
	for _, r := range m.registry.Snapshot() {
		if r.ExpirationDue(m.reconnectionWindow) {
			m.expire(r.ID())
		}
	}
}
