package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/metrics"
	"github.com/rebenew/partysync/internal/v1/types"
	"go.uber.org/zap"
)

// Result is the outcome of a room command. Failed commands leave the room
// unchanged and produce no broadcast; Reason feeds the ACK envelope.
type Result struct {
	OK     bool
	Reason string
}

func resultOK() Result {
	return Result{OK: true, Reason: types.ReasonSuccess}
}

func resultFail(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// Room is the unit of state and concurrency: one mutex guards membership,
// the queue, playback, settings, and activity timestamps. Every command
// validates, mutates, and captures its broadcast recipients inside a single
// critical section, so observers can never see a broadcast that contradicts
// the room state that produced it.
type Room struct {
	mu sync.Mutex

	id     types.RoomIdType
	hostID types.SenderIdType
	state  types.RoomState

	// Guest permission flags. Control defaults open, queue edits closed.
	allowGuestsControl   bool
	allowGuestsEditQueue bool

	queue           []types.TrackEntry
	nowPlayingIndex int // -1 when nothing is loaded

	// nowStartedAt is the epoch-millis instant playback of the current track
	// would have started from position zero; position = now - nowStartedAt.
	// While PAUSED the position is frozen in positionAtPause instead.
	nowStartedAt    int64
	positionAtPause int64

	members  map[types.SenderIdType]types.ClientHandle
	hostConn types.ClientHandle

	createdAt        time.Time
	lastActivity     time.Time
	lastHostActivity time.Time

	// End-of-track timer. timerGen invalidates callbacks from cancelled or
	// superseded schedules: a firing callback that observes a stale
	// generation is a no-op.
	trackEndTimer *time.Timer
	timerGen      uint64

	hostTimeout time.Duration
	broadcaster *Broadcaster

	// onHostLost is invoked (outside the lock) when the host connection
	// drops, so the health monitor can arm the expiration clock.
	onHostLost func(types.RoomIdType)
}

// NewRoom creates a room in CREATED state with the given host identity.
// The host is not yet connected; the host-absence clock starts now.
func NewRoom(id types.RoomIdType, hostID types.SenderIdType, hostTimeout time.Duration, b *Broadcaster) *Room {
	now := time.Now()
	return &Room{
		id:                 id,
		hostID:             hostID,
		state:              types.RoomStateCreated,
		allowGuestsControl: true,
		nowPlayingIndex:    -1,
		members:            make(map[types.SenderIdType]types.ClientHandle),
		createdAt:          now,
		lastActivity:       now,
		lastHostActivity:   now,
		hostTimeout:        hostTimeout,
		broadcaster:        b,
	}
}

// ID returns the room identifier.
func (r *Room) ID() types.RoomIdType { return r.id }

// HostID returns the host's sender identity.
func (r *Room) HostID() types.SenderIdType { return r.hostID }

// IsHost reports whether sender is the room's host identity.
func (r *Room) IsHost(sender types.SenderIdType) bool { return sender == r.hostID }

// SetHostLossFunc registers the callback fired when the host connection
// drops. Must be called before members attach.
func (r *Room) SetHostLossFunc(f func(types.RoomIdType)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onHostLost = f
}

// State returns the current lifecycle state.
func (r *Room) State() types.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MemberCount returns the number of connected members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// HostConnected reports whether the host currently has a live connection.
func (r *Room) HostConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostConnectedLocked()
}

func (r *Room) hostConnectedLocked() bool {
	return r.hostConn != nil && r.hostConn.IsOpen()
}

// LastActivityAt returns the time of the last accepted command or
// membership change.
func (r *Room) LastActivityAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// LastHostActivityAt returns the last time the host was seen (connection,
// command, heartbeat, or disconnect instant).
func (r *Room) LastHostActivityAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHostActivity
}

// ExpirationDue reports whether the host has been absent longer than the
// reconnection window. A connected host is never expired.
func (r *Room) ExpirationDue(window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == types.RoomStateTerminated {
		return false
	}
	if r.hostConnectedLocked() {
		return false
	}
	return time.Since(r.lastHostActivity) >= window
}

// RecordActivity touches the activity clocks for an accepted frame from
// sender (heartbeats included).
func (r *Room) RecordActivity(sender types.SenderIdType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}
}

func (r *Room) touchActivityLocked() {
	r.lastActivity = time.Now()
}

func (r *Room) touchHostActivityLocked() {
	r.lastHostActivity = time.Now()
}

// canControlLocked: host always; guests when allowGuestsControl.
func (r *Room) canControlLocked(sender types.SenderIdType) bool {
	return sender == r.hostID || r.allowGuestsControl
}

// canEditQueueLocked: host always; guests when allowGuestsEditQueue.
func (r *Room) canEditQueueLocked(sender types.SenderIdType) bool {
	return sender == r.hostID || r.allowGuestsEditQueue
}

// recipientsLocked snapshots the open member handles, excluding at most one
// sender. Pass "" to exclude nobody.
func (r *Room) recipientsLocked(exclude types.SenderIdType) []types.ClientHandle {
	out := make([]types.ClientHandle, 0, len(r.members))
	for s, h := range r.members {
		if exclude != "" && s == exclude {
			continue
		}
		if h.IsOpen() {
			out = append(out, h)
		}
	}
	return out
}

// guestMayJoinLocked: guests may attach while the host is connected or
// within the host-absence timeout.
func (r *Room) guestMayJoinLocked() bool {
	if r.hostConnectedLocked() {
		return true
	}
	return time.Since(r.lastHostActivity) <= r.hostTimeout
}

// AttachMember registers a connection under the sender identity. A second
// attach for the same sender replaces the old connection and closes it.
// Host role is decided by identity match against the room's host, never by
// what the client claims.
func (r *Room) AttachMember(sender types.SenderIdType, handle types.ClientHandle) Result {
	if strings.TrimSpace(string(sender)) == "" || handle == nil {
		return resultFail(types.ReasonJoinFailed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == types.RoomStateTerminated {
		return resultFail(types.ReasonRoomNotActive)
	}

	isHost := sender == r.hostID
	if !isHost && !r.guestMayJoinLocked() {
		return resultFail(types.ReasonJoinFailed)
	}

	if prev, exists := r.members[sender]; exists && prev != handle {
		prev.Close()
	}
	r.members[sender] = handle
	r.touchActivityLocked()

	if isHost {
		wasDisconnected := r.state == types.RoomStateHostDisconnected
		r.hostConn = handle
		r.touchHostActivityLocked()

		if r.nowPlayingIndex >= 0 {
			r.state = types.RoomStateActive
			r.scheduleTrackEndLocked()
		} else if wasDisconnected {
			r.state = types.RoomStateCreated
		}

		event := types.EventHostConnected
		if wasDisconnected {
			event = types.EventHostReconnected
		}
		r.broadcaster.System(r.id, event,
			map[string]any{"hostId": string(sender)}, r.recipientsLocked(sender))
	} else {
		r.broadcaster.System(r.id, types.EventUserJoined,
			map[string]any{"userId": string(sender)}, r.recipientsLocked(sender))
	}

	metrics.RoomMembers.WithLabelValues(string(r.id)).Set(float64(len(r.members)))
	logging.Info(context.Background(), "Member attached",
		zap.String("roomId", string(r.id)), zap.String("senderId", string(sender)),
		zap.Bool("isHost", isHost), zap.Int("members", len(r.members)))
	return resultOK()
}

// DetachMember removes the member owning this exact handle. A handle that
// was already replaced by a reconnect detaches nobody. Host departure
// flips the room to HOST_DISCONNECTED and starts the reconnection window;
// playback state (position, queue, timer base) is preserved so a
// reconnecting host resumes where the room left off.
func (r *Room) DetachMember(handle types.ClientHandle) {
	if handle == nil {
		return
	}

	r.mu.Lock()

	var sender types.SenderIdType
	found := false
	for s, h := range r.members {
		if h == handle {
			sender = s
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return
	}

	delete(r.members, sender)
	r.touchActivityLocked()
	metrics.RoomMembers.WithLabelValues(string(r.id)).Set(float64(len(r.members)))

	var hostLost func(types.RoomIdType)
	if sender == r.hostID && r.hostConn == handle {
		r.hostConn = nil
		r.touchHostActivityLocked()
		if r.state != types.RoomStateTerminated {
			r.state = types.RoomStateHostDisconnected
		}
		r.broadcaster.System(r.id, types.EventHostDisconnected,
			map[string]any{"hostId": string(sender)}, r.recipientsLocked(""))
		hostLost = r.onHostLost
	} else {
		r.broadcaster.System(r.id, types.EventUserLeft,
			map[string]any{"userId": string(sender)}, r.recipientsLocked(""))
	}

	id := r.id
	members := len(r.members)
	r.mu.Unlock()

	logging.Info(context.Background(), "Member detached",
		zap.String("roomId", string(id)), zap.String("senderId", string(sender)),
		zap.Int("members", members))

	if hostLost != nil {
		hostLost(id)
	}
}

// IsMember reports whether sender currently has a registered connection.
func (r *Room) IsMember(sender types.SenderIdType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[sender]
	return ok
}

// MemberHandle returns the live handle for sender, or nil.
func (r *Room) MemberHandle(sender types.SenderIdType) types.ClientHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[sender]
}

// Snapshot takes an atomic read of the full room state.
func (r *Room) Snapshot() types.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() types.RoomSnapshot {
	clients := make([]types.SenderIdType, 0, len(r.members))
	for s := range r.members {
		clients = append(clients, s)
	}

	playlist := make([]types.TrackEntry, len(r.queue))
	copy(playlist, r.queue)

	var idx *int
	var nowPlaying *types.TrackEntry
	if r.nowPlayingIndex >= 0 && r.nowPlayingIndex < len(r.queue) {
		i := r.nowPlayingIndex
		idx = &i
		t := r.queue[i]
		nowPlaying = &t
	}

	return types.RoomSnapshot{
		Room: types.RoomInfo{
			RoomID:               r.id,
			HostSenderID:         r.hostID,
			AllowGuestsAddTracks: r.allowGuestsEditQueue,
			Clients:              clients,
			PlaylistSize:         len(r.queue),
		},
		State:           r.state,
		Playlist:        playlist,
		NowPlayingIndex: idx,
		NowPlaying:      nowPlaying,
		Settings: types.SettingsInfo{
			AllowGuestsEditQueue: r.allowGuestsEditQueue,
			AllowGuestsControl:   r.allowGuestsControl,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

// Playback returns the lightweight playback view used by the HTTP facade.
func (r *Room) Playback() types.PlaybackInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := types.PlaybackInfo{
		PositionMs: r.positionLocked(),
		IsPlaying:  r.state == types.RoomStateActive,
		Timestamp:  time.Now().UnixMilli(),
	}
	if r.nowPlayingIndex >= 0 && r.nowPlayingIndex < len(r.queue) {
		t := r.queue[r.nowPlayingIndex]
		info.CurrentTrackID = t.TrackID
		info.CurrentTrackTitle = t.Title
		info.DurationMs = t.DurationMs
	}
	return info
}

// SendFullState unicasts the current snapshot to one handle.
func (r *Room) SendFullState(handle types.ClientHandle) {
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.broadcaster.FullState(handle, snap)
}

// ForwardAddRequest relays a guest's track suggestion to the host as a
// system unicast. Fails when no host connection is live.
func (r *Room) ForwardAddRequest(sender types.SenderIdType, trackID, title string) Result {
	if strings.TrimSpace(trackID) == "" {
		return resultFail(types.ReasonMissingParams)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hostConnectedLocked() {
		return resultFail(types.ReasonActionFailed)
	}
	if title == "" {
		title = types.UnknownTrackTitle
	}

	r.broadcaster.unicast(r.hostConn, types.MsgTypeSystem, map[string]any{
		"event":       types.EventAddTrackRequest,
		"trackId":     trackID,
		"title":       title,
		"requestedBy": string(sender),
		"roomId":      string(r.id),
		"timestamp":   time.Now().UnixMilli(),
	})
	r.touchActivityLocked()
	return resultOK()
}

// NotifyHealthWarning broadcasts a health_warning system event. Called by
// the monitor on a healthy-to-unhealthy edge.
func (r *Room) NotifyHealthWarning(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == types.RoomStateTerminated {
		return
	}
	r.broadcaster.System(r.id, types.EventHealthWarning,
		map[string]any{"detail": detail}, r.recipientsLocked(""))
}

// Terminate broadcasts a final system event, closes every member
// connection, and moves the room to TERMINATED. Idempotent.
func (r *Room) Terminate(event, reason string) {
	r.mu.Lock()

	if r.state == types.RoomStateTerminated {
		r.mu.Unlock()
		return
	}

	recipients := r.recipientsLocked("")
	r.broadcaster.System(r.id, event, map[string]any{"reason": reason}, recipients)
	if event != types.EventRoomClosed {
		// Expired rooms still finish with the terminal close event so
		// clients need only one teardown path.
		r.broadcaster.System(r.id, types.EventRoomClosed, map[string]any{"reason": reason}, recipients)
	}

	r.cancelTrackEndLocked()
	r.state = types.RoomStateTerminated

	handles := make([]types.ClientHandle, 0, len(r.members))
	for _, h := range r.members {
		handles = append(handles, h)
	}
	r.members = make(map[types.SenderIdType]types.ClientHandle)
	r.hostConn = nil

	id := r.id
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}

	logging.Info(context.Background(), "Room terminated",
		zap.String("roomId", string(id)), zap.String("event", event),
		zap.String("reason", reason))
}
