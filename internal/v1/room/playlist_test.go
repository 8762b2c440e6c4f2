package room

import (
	"testing"
	"time"

	"github.com/rebenew/partysync/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTrack(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	guest := newFakeHandle()
	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AttachMember(testGuest, guest).OK)
	guest.reset()

	res := r.AddTrack(testHostID, "t1", "", 180_000)
	require.True(t, res.OK)

	queue := r.QueueSnapshot()
	require.Len(t, queue, 1)
	assert.Equal(t, types.UnknownTrackTitle, queue[0].Title, "empty title gets the placeholder")
	assert.Equal(t, testHostID, queue[0].AddedBy)
	assert.NotZero(t, queue[0].AddedAt)

	env := guest.lastEnvelope(t)
	assert.Equal(t, types.MsgTypePlaylistUpdate, env.Type)
	assert.Equal(t, types.SubTypeAdd, env.StringData("action"))
	assert.Equal(t, float64(1), env.Data["playlistSize"])
}

func TestAddTrack_GuestNeedsEditFlag(t *testing.T) {
	r := newTestRoom()
	require.True(t, r.AttachMember(testHostID, newFakeHandle()).OK)
	require.True(t, r.AttachMember(testGuest, newFakeHandle()).OK)

	res := r.AddTrack(testGuest, "t1", "One", 0)
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonActionFailed, res.Reason)
	assert.Empty(t, r.QueueSnapshot())

	require.True(t, r.UpdateSettings(testHostID, nil, boolPtr(true)).OK)
	require.True(t, r.AddTrack(testGuest, "t1", "One", 0).OK)
	assert.Equal(t, testGuest, r.QueueSnapshot()[0].AddedBy)
}

func TestAddTrack_BlankTrackIDFails(t *testing.T) {
	r := newTestRoom()
	require.True(t, r.AttachMember(testHostID, newFakeHandle()).OK)

	res := r.AddTrack(testHostID, "   ", "One", 0)
	require.False(t, res.OK)
	assert.Empty(t, r.QueueSnapshot())
}

func queuedRoom(t *testing.T) (*Room, *fakeHandle) {
	t.Helper()
	r := newTestRoom()
	host := newFakeHandle()
	require.True(t, r.AttachMember(testHostID, host).OK)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, r.AddTrack(testHostID, id, "Track "+id, 180_000).OK)
	}
	host.reset()
	return r, host
}

func trackIDs(r *Room) []string {
	queue := r.QueueSnapshot()
	out := make([]string, len(queue))
	for i, e := range queue {
		out[i] = e.TrackID
	}
	return out
}

func TestRemoveTrack_BeforeCurrentShiftsIndex(t *testing.T) {
	r, _ := queuedRoom(t)
	require.True(t, r.Play(testHostID, intPtr(2), nil).OK)

	require.True(t, r.RemoveTrack(testHostID, 0).OK)

	assert.Equal(t, []string{"b", "c", "d"}, trackIDs(r))
	assert.Equal(t, "c", r.Playback().CurrentTrackID, "index follows the same track")
	assert.Equal(t, types.RoomStateActive, r.State())
}

func TestRemoveTrack_CurrentUnloadsPlayback(t *testing.T) {
	r, host := queuedRoom(t)
	require.True(t, r.Play(testHostID, intPtr(1), nil).OK)
	host.reset()

	require.True(t, r.RemoveTrack(testHostID, 1).OK)

	assert.Equal(t, []string{"a", "c", "d"}, trackIDs(r))
	assert.Equal(t, types.RoomStateCreated, r.State())
	assert.False(t, r.Playback().IsPlaying)
	assert.Empty(t, r.Playback().CurrentTrackID)

	env := host.lastEnvelope(t)
	assert.Equal(t, types.SubTypeRemove, env.StringData("action"))
	assert.Nil(t, env.Data["nowPlayingIndex"])
}

func TestRemoveTrack_AfterCurrentKeepsIndex(t *testing.T) {
	r, _ := queuedRoom(t)
	require.True(t, r.Play(testHostID, intPtr(1), nil).OK)

	require.True(t, r.RemoveTrack(testHostID, 3).OK)

	assert.Equal(t, "b", r.Playback().CurrentTrackID)
	assert.Equal(t, types.RoomStateActive, r.State())
}

func TestRemoveTrack_OutOfRange(t *testing.T) {
	r, host := queuedRoom(t)

	require.False(t, r.RemoveTrack(testHostID, -1).OK)
	require.False(t, r.RemoveTrack(testHostID, 4).OK)
	assert.Len(t, r.QueueSnapshot(), 4)
	assert.Equal(t, 0, host.countType(t, types.MsgTypePlaylistUpdate))
}

func TestMoveTrack_IndexFollowsTrack(t *testing.T) {
	r, _ := queuedRoom(t)
	require.True(t, r.Play(testHostID, intPtr(1), nil).OK)

	// Moving the playing track relocates the index with it.
	require.True(t, r.MoveTrack(testHostID, 1, 3).OK)
	assert.Equal(t, []string{"a", "c", "d", "b"}, trackIDs(r))
	assert.Equal(t, "b", r.Playback().CurrentTrackID)

	// Moving a later track across the playing one shifts the index up.
	require.True(t, r.MoveTrack(testHostID, 0, 3).OK)
	assert.Equal(t, []string{"c", "d", "b", "a"}, trackIDs(r))
	assert.Equal(t, "b", r.Playback().CurrentTrackID)
}

func TestMoveTrack_OutOfRange(t *testing.T) {
	r, _ := queuedRoom(t)

	require.False(t, r.MoveTrack(testHostID, 0, 4).OK)
	require.False(t, r.MoveTrack(testHostID, -1, 2).OK)
	assert.Equal(t, []string{"a", "b", "c", "d"}, trackIDs(r))
}

func TestClearQueue_HostOnly(t *testing.T) {
	r, host := queuedRoom(t)
	guest := newFakeHandle()
	require.True(t, r.AttachMember(testGuest, guest).OK)
	require.True(t, r.UpdateSettings(testHostID, nil, boolPtr(true)).OK)
	require.True(t, r.Play(testHostID, nil, nil).OK)

	// Even with the edit flag on, clearing is host-only.
	res := r.ClearQueue(testGuest)
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonNotAuthorized, res.Reason)
	assert.Len(t, r.QueueSnapshot(), 4)

	host.reset()
	require.True(t, r.ClearQueue(testHostID).OK)
	assert.Empty(t, r.QueueSnapshot())
	assert.Equal(t, types.RoomStateCreated, r.State())
	assert.True(t, host.hasSystemEvent(t, types.EventPlaylistCleared))
}

func TestReplaceQueue(t *testing.T) {
	r, host := queuedRoom(t)
	require.True(t, r.Play(testHostID, intPtr(3), nil).OK)
	host.reset()

	replacement := []types.TrackEntry{
		{TrackID: "x", Title: "X", AddedBy: testGuest, DurationMs: 100_000},
		{TrackID: "y", Title: "Y", DurationMs: 120_000},
	}
	require.True(t, r.ReplaceQueue(testHostID, replacement).OK)

	queue := r.QueueSnapshot()
	require.Len(t, queue, 2)
	assert.Equal(t, testGuest, queue[0].AddedBy, "original attribution survives")
	assert.Equal(t, testHostID, queue[1].AddedBy, "missing attribution falls to the caller")

	// Index 3 no longer exists in a 2-entry queue.
	assert.False(t, r.Playback().IsPlaying)
	assert.Equal(t, types.RoomStateCreated, r.State())
	assert.True(t, host.hasSystemEvent(t, types.EventPlaylistSync))
}

func TestReplaceQueue_GuestRejected(t *testing.T) {
	r, _ := queuedRoom(t)
	require.True(t, r.AttachMember(testGuest, newFakeHandle()).OK)

	res := r.ReplaceQueue(testGuest, nil)
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonNotAuthorized, res.Reason)
	assert.Len(t, r.QueueSnapshot(), 4)
}

func TestReplaceQueue_InvalidEntryRejectsWhole(t *testing.T) {
	r, _ := queuedRoom(t)

	res := r.ReplaceQueue(testHostID, []types.TrackEntry{
		{TrackID: "ok", Title: "OK"},
		{TrackID: "", Title: "Broken"},
	})
	require.False(t, res.OK)
	assert.Equal(t, []string{"a", "b", "c", "d"}, trackIDs(r), "partial replacement never applies")
}

func TestUpdateSettings(t *testing.T) {
	r, host := queuedRoom(t)
	host.reset()

	require.True(t, r.UpdateSettings(testHostID, boolPtr(false), boolPtr(true)).OK)

	s := r.Settings()
	assert.False(t, s.AllowGuestsControl)
	assert.True(t, s.AllowGuestsEditQueue)

	env := host.lastEnvelope(t)
	assert.Equal(t, types.MsgTypeSettingsUpdated, env.Type)
	assert.Equal(t, false, env.Data["allowGuestsControl"])
	assert.Equal(t, true, env.Data["allowGuestsEditQueue"])

	// nil means "no change".
	require.True(t, r.UpdateSettings(testHostID, nil, boolPtr(false)).OK)
	s = r.Settings()
	assert.False(t, s.AllowGuestsControl)
	assert.False(t, s.AllowGuestsEditQueue)
}

func TestUpdateSettings_GuestRejected(t *testing.T) {
	r, _ := queuedRoom(t)
	require.True(t, r.AttachMember(testGuest, newFakeHandle()).OK)

	res := r.UpdateSettings(testGuest, boolPtr(true), boolPtr(true))
	require.False(t, res.OK)
	assert.Equal(t, types.ReasonNotAuthorized, res.Reason)
	assert.True(t, r.Settings().AllowGuestsControl)
	assert.False(t, r.Settings().AllowGuestsEditQueue)
}

func TestUpdateTrackDuration_RearmsTimerForCurrent(t *testing.T) {
	r := newTestRoom()
	host := newFakeHandle()
	require.True(t, r.AttachMember(testHostID, host).OK)
	require.True(t, r.AddTrack(testHostID, "t1", "One", 0).OK)
	require.True(t, r.AddTrack(testHostID, "t2", "Two", 180_000).OK)
	require.True(t, r.Play(testHostID, nil, nil).OK)

	// Duration unknown, no timer armed.
	r.mu.Lock()
	require.Nil(t, r.trackEndTimer)
	r.mu.Unlock()

	host.reset()
	require.True(t, r.UpdateTrackDuration(testHostID, 0, 40).OK)

	require.Eventually(t, func() bool {
		return r.Playback().CurrentTrackID == "t2"
	}, time.Second, 5*time.Millisecond, "learned duration arms auto-advance")
}

func TestUpdateTrackDuration_Validation(t *testing.T) {
	r, _ := queuedRoom(t)

	require.False(t, r.UpdateTrackDuration(testGuest, 0, 1000).OK)
	require.False(t, r.UpdateTrackDuration(testHostID, 9, 1000).OK)

	require.True(t, r.UpdateTrackDuration(testHostID, 0, -5).OK)
	assert.Equal(t, int64(0), r.QueueSnapshot()[0].DurationMs, "negative duration clamps to unknown")
}
