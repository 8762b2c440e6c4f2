package room

import (
	"testing"
	"time"

	"github.com/rebenew/partysync/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoomID = types.RoomIdType("room-1")
	testHostID = types.SenderIdType("host-1")
	testGuest  = types.SenderIdType("guest-1")
	testGuest2 = types.SenderIdType("guest-2")
)

func newTestRoom() *Room {
	return NewRoom(testRoomID, testHostID, 10*time.Minute, NewBroadcaster(nil))
}

func TestAttachMember_HostConnect(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()

	res := r.AttachMember(testHostID, host)
	require.True(t, res.OK)

	assert.True(t, r.HostConnected())
	assert.Equal(t, types.RoomStateCreated, r.State(), "no track loaded, state stays CREATED")
	assert.Equal(t, 1, r.MemberCount())
}

func TestAttachMember_GuestNotifiesOthersButNotSelf(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	guest := newFakeHandle()

	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AttachMember(testGuest, guest).OK)

	assert.True(t, host.hasSystemEvent(t, types.EventUserJoined))
	assert.False(t, guest.hasSystemEvent(t, types.EventUserJoined), "join notice must exclude the joiner")
}

func TestAttachMember_BlankSenderRejected(t *testing.T) {
	r := newTestRoom()

	res := r.AttachMember("  ", newFakeHandle())
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonJoinFailed, res.Reason)
	assert.Equal(t, 0, r.MemberCount())
}

func TestAttachMember_ReplacementClosesOldHandle(t *testing.T) {
	r := newTestRoom()
	first := newFakeHandle()
	second := newFakeHandle()

	require.True(t, r.AttachMember(testGuest, first).OK)
	require.True(t, r.AttachMember(testGuest, second).OK)

	assert.True(t, first.isClosed(), "replaced connection must be closed")
	assert.True(t, second.IsOpen())
	assert.Equal(t, 1, r.MemberCount(), "same sender, single membership")
}

func TestAttachMember_GuestBlockedAfterHostTimeout(t *testing.T) {
	r := NewRoom(testRoomID, testHostID, 50*time.Millisecond, NewBroadcaster(nil))
	r.mu.Lock()
	r.lastHostActivity = time.Now().Add(-time.Second)
	r.mu.Unlock()

	res := r.AttachMember(testGuest, newFakeHandle())
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonJoinFailed, res.Reason)
}

func TestAttachMember_GuestAllowedWhileHostConnected(t *testing.T) {
	r := NewRoom(testRoomID, testHostID, 50*time.Millisecond, NewBroadcaster(nil))
	require.True(t, r.AttachMember(testHostID, newFakeHandle()).OK)

	r.mu.Lock()
	r.lastHostActivity = time.Now().Add(-time.Second)
	r.mu.Unlock()

	assert.True(t, r.AttachMember(testGuest, newFakeHandle()).OK,
		"a connected host overrides the absence clock")
}

func TestDetachMember_HostStartsReconnectionWindow(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	guest := newFakeHandle()

	var lost []types.RoomIdType
	r.SetHostLossFunc(func(id types.RoomIdType) { lost = append(lost, id) })

	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AttachMember(testGuest, guest).OK)

	r.DetachMember(host)

	assert.Equal(t, types.RoomStateHostDisconnected, r.State())
	assert.False(t, r.HostConnected())
	assert.True(t, guest.hasSystemEvent(t, types.EventHostDisconnected))
	require.Len(t, lost, 1)
	assert.Equal(t, testRoomID, lost[0])
}

func TestDetachMember_StaleHandleIsNoOp(t *testing.T) {
	r := newTestRoom()
	old := newFakeHandle()
	replacement := newFakeHandle()

	require.True(t, r.AttachMember(testGuest, old).OK)
	require.True(t, r.AttachMember(testGuest, replacement).OK)

	// The old connection's read loop exits after the replacement attached;
	// its detach must not evict the new connection.
	r.DetachMember(old)

	assert.Equal(t, 1, r.MemberCount())
	assert.True(t, r.IsMember(testGuest))
}

func TestDetachMember_HostReconnectWithinWindow(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	guest := newFakeHandle()

	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AttachMember(testGuest, guest).OK)
	require.True(t, r.AddTrack(testHostID, "t1", "Track One", 0).OK)
	require.True(t, r.Play(testHostID, nil, nil).OK)

	r.DetachMember(host)
	require.Equal(t, types.RoomStateHostDisconnected, r.State())

	host2 := newFakeHandle()
	require.True(t, r.AttachMember(testHostID, host2).OK)

	assert.Equal(t, types.RoomStateActive, r.State(), "loaded track resumes ACTIVE on host return")
	assert.True(t, guest.hasSystemEvent(t, types.EventHostReconnected))
}

func TestExpirationDue(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	require.True(t, r.AttachMember(testHostID, host).OK)

	assert.False(t, r.ExpirationDue(time.Minute), "connected host never expires")

	r.DetachMember(host)
	assert.False(t, r.ExpirationDue(time.Minute), "window has not elapsed")

	r.mu.Lock()
	r.lastHostActivity = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()
	assert.True(t, r.ExpirationDue(time.Minute))
}

func TestTerminate_ClosesMembersAndIsIdempotent(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	guest := newFakeHandle()

	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AttachMember(testGuest, guest).OK)

	r.Terminate(types.EventRoomClosed, "host requested close")

	assert.Equal(t, types.RoomStateTerminated, r.State())
	assert.Equal(t, 0, r.MemberCount())
	assert.True(t, host.isClosed())
	assert.True(t, guest.isClosed())
	assert.True(t, guest.hasSystemEvent(t, types.EventRoomClosed))

	// Second call must not panic or re-broadcast.
	before := guest.countType(t, types.MsgTypeSystem)
	r.Terminate(types.EventRoomClosed, "again")
	assert.Equal(t, before, guest.countType(t, types.MsgTypeSystem))
}

func TestAttachMember_TerminatedRoomRejects(t *testing.T) {
	r := newTestRoom()
	r.Terminate(types.EventRoomClosed, "closed")

	res := r.AttachMember(testGuest, newFakeHandle())
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonRoomNotActive, res.Reason)
}

func TestForwardAddRequest(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	guest := newFakeHandle()

	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AttachMember(testGuest, guest).OK)
	host.reset()

	res := r.ForwardAddRequest(testGuest, "trk-9", "Suggested Song")
	require.True(t, res.OK)

	env := host.lastEnvelope(t)
	assert.Equal(t, types.MsgTypeSystem, env.Type)
	assert.Equal(t, types.EventAddTrackRequest, env.StringData("event"))
	assert.Equal(t, "trk-9", env.StringData("trackId"))
	assert.Equal(t, string(testGuest), env.StringData("requestedBy"))
	assert.Empty(t, guest.envelopes(t), "request goes to the host alone")
}

func TestForwardAddRequest_NoHostConnection(t *testing.T) {
	r := newTestRoom()
	require.True(t, r.AttachMember(testGuest, newFakeHandle()).OK)

	res := r.ForwardAddRequest(testGuest, "trk-9", "Suggested Song")
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonActionFailed, res.Reason)
}

func TestSnapshot(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AddTrack(testHostID, "t1", "One", 180_000).OK)
	require.True(t, r.AddTrack(testHostID, "t2", "Two", 200_000).OK)
	require.True(t, r.Play(testHostID, nil, nil).OK)

	snap := r.Snapshot()

	assert.Equal(t, testRoomID, snap.Room.RoomID)
	assert.Equal(t, testHostID, snap.Room.HostSenderID)
	assert.Equal(t, types.RoomStateActive, snap.State)
	assert.Len(t, snap.Playlist, 2)
	require.NotNil(t, snap.NowPlayingIndex)
	assert.Equal(t, 0, *snap.NowPlayingIndex)
	require.NotNil(t, snap.NowPlaying)
	assert.Equal(t, "t1", snap.NowPlaying.TrackID)
	assert.True(t, snap.Settings.AllowGuestsControl)
	assert.False(t, snap.Settings.AllowGuestsEditQueue)

	// Snapshot playlist is a copy; mutating it must not touch the room.
	snap.Playlist[0].Title = "mutated"
	assert.Equal(t, "One", r.QueueSnapshot()[0].Title)
}
