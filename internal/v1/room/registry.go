package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/metrics"
	"github.com/rebenew/partysync/internal/v1/types"
	"go.uber.org/zap"
)

var (
	ErrRoomExists    = errors.New("room already exists")
	ErrInvalidRoomID = errors.New("roomId cannot be empty")
	ErrInvalidHostID = errors.New("hostId cannot be empty")
)

// Registry is the process-wide map of live rooms. It owns creation and
// deletion; everything inside a room is the room's own business.
type Registry struct {
	mu    sync.Mutex
	rooms map[types.RoomIdType]*Room

	broadcaster *Broadcaster
	hostTimeout time.Duration

	// onHostLost is handed to every created room so the health monitor can
	// arm expiration when a host connection drops.
	onHostLost func(types.RoomIdType)
}

// NewRegistry creates an empty registry.
func NewRegistry(b *Broadcaster, hostTimeout time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[types.RoomIdType]*Room),
		broadcaster: b,
		hostTimeout: hostTimeout,
	}
}

// SetHostLossFunc registers the host-loss callback applied to rooms created
// from now on. Wire this before the server starts accepting traffic.
func (reg *Registry) SetHostLossFunc(f func(types.RoomIdType)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.onHostLost = f
	for _, r := range reg.rooms {
		r.SetHostLossFunc(f)
	}
}

// Create makes a new room bound to the given host identity. Fails when the
// ID is taken or either identifier is blank.
func (reg *Registry) Create(id types.RoomIdType, hostID types.SenderIdType) (*Room, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, ErrInvalidRoomID
	}
	if strings.TrimSpace(string(hostID)) == "" {
		return nil, ErrInvalidHostID
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.rooms[id]; exists {
		return nil, ErrRoomExists
	}

	r := NewRoom(id, hostID, reg.hostTimeout, reg.broadcaster)
	if reg.onHostLost != nil {
		r.SetHostLossFunc(reg.onHostLost)
	}
	reg.rooms[id] = r

	metrics.ActiveRooms.Set(float64(len(reg.rooms)))
	logging.Info(context.Background(), "Room created",
		zap.String("roomId", string(id)), zap.String("hostId", string(hostID)),
		zap.Int("totalRooms", len(reg.rooms)))
	return r, nil
}

// Get returns the room, or nil when absent.
func (reg *Registry) Get(id types.RoomIdType) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[id]
}

// Exists reports whether a room is registered under id.
func (reg *Registry) Exists(id types.RoomIdType) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.rooms[id]
	return ok
}

// Delete terminates and removes a room. Only the room's host or the health
// monitor principal may delete; anyone else gets false with the room
// untouched. The terminal event distinguishes an explicit close from an
// expiration.
func (reg *Registry) Delete(id types.RoomIdType, caller types.SenderIdType, reason string) bool {
	reg.mu.Lock()
	r, ok := reg.rooms[id]
	reg.mu.Unlock()
	if !ok {
		return false
	}

	event := types.EventRoomClosed
	if caller == types.HealthSystemPrincipal {
		event = types.EventRoomExpired
	} else if !r.IsHost(caller) {
		return false
	}

	r.Terminate(event, reason)

	reg.mu.Lock()
	delete(reg.rooms, id)
	total := len(reg.rooms)
	reg.mu.Unlock()

	metrics.ActiveRooms.Set(float64(total))
	metrics.RoomMembers.DeleteLabelValues(string(id))
	logging.Info(context.Background(), "Room deleted",
		zap.String("roomId", string(id)), zap.String("caller", string(caller)),
		zap.String("reason", reason), zap.Int("totalRooms", total))
	return true
}

// Snapshot returns the current set of rooms. The slice is a copy; the
// rooms are live.
func (reg *Registry) Snapshot() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Stats aggregates registry-wide counters for the stats endpoint.
func (reg *Registry) Stats() map[string]any {
	rooms := reg.Snapshot()

	totalMembers := 0
	byState := make(map[string]int)
	for _, r := range rooms {
		totalMembers += r.MemberCount()
		byState[string(r.State())]++
	}

	return map[string]any{
		"totalRooms":   len(rooms),
		"totalMembers": totalMembers,
		"roomsByState": byState,
		"timestamp":    time.Now().UnixMilli(),
	}
}

// Shutdown terminates every room, notifying members before their
// connections close.
func (reg *Registry) Shutdown(reason string) {
	rooms := reg.Snapshot()
	for _, r := range rooms {
		r.Terminate(types.EventRoomClosed, reason)
	}

	reg.mu.Lock()
	for id := range reg.rooms {
		metrics.RoomMembers.DeleteLabelValues(string(id))
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()

	metrics.ActiveRooms.Set(0)
	logging.Info(context.Background(), "Registry shut down",
		zap.Int("roomsClosed", len(rooms)))
}
