package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomStateConstants(t *testing.T) {
	assert.Equal(t, RoomState("CREATED"), RoomStateCreated)
	assert.Equal(t, RoomState("ACTIVE"), RoomStateActive)
	assert.Equal(t, RoomState("PAUSED"), RoomStatePaused)
	assert.Equal(t, RoomState("HOST_DISCONNECTED"), RoomStateHostDisconnected)
	assert.Equal(t, RoomState("TERMINATED"), RoomStateTerminated)
}

func TestNewTrackEntry_Valid(t *testing.T) {
	before := time.Now().UnixMilli()
	entry, err := NewTrackEntry("trk-1", "Song", "user-1", 180_000)
	require.NoError(t, err)

	assert.Equal(t, "trk-1", entry.TrackID)
	assert.Equal(t, "Song", entry.Title)
	assert.Equal(t, SenderIdType("user-1"), entry.AddedBy)
	assert.Equal(t, int64(180_000), entry.DurationMs)
	assert.GreaterOrEqual(t, entry.AddedAt, before)
}

func TestNewTrackEntry_EmptyTrackID(t *testing.T) {
	_, err := NewTrackEntry("", "Song", "user-1", 1000)
	assert.Error(t, err)

	_, err = NewTrackEntry("   ", "Song", "user-1", 1000)
	assert.Error(t, err)
}

func TestNewTrackEntry_EmptyAddedBy(t *testing.T) {
	_, err := NewTrackEntry("trk-1", "Song", "", 1000)
	assert.Error(t, err)
}

func TestNewTrackEntry_DefaultsTitle(t *testing.T) {
	entry, err := NewTrackEntry("trk-1", "", "user-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, UnknownTrackTitle, entry.Title)
}

func TestNewTrackEntry_ClampsNegativeDuration(t *testing.T) {
	entry, err := NewTrackEntry("trk-1", "Song", "user-1", -500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.DurationMs)
}

func TestNewSyncMsg_StampsTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	msg := NewSyncMsg(MsgTypeSystem, map[string]any{"event": EventUserJoined})

	assert.Equal(t, MsgTypeSystem, msg.Type)
	assert.Equal(t, EventUserJoined, msg.Data["event"])
	assert.GreaterOrEqual(t, msg.Timestamp, before)
}

// Accessors must tolerate the float64 numbers encoding/json produces.
func TestSyncMsgAccessors_AfterJSONRoundTrip(t *testing.T) {
	raw := []byte(`{
		"type": "playback",
		"subType": "seek",
		"roomId": "room-1",
		"senderId": "user-1",
		"data": {"positionMs": 45000, "trackIndex": 2, "isPlaying": false, "label": "x"}
	}`)

	var msg SyncMsg
	require.NoError(t, json.Unmarshal(raw, &msg))

	pos := msg.Int64Data("positionMs")
	require.NotNil(t, pos)
	assert.Equal(t, int64(45000), *pos)

	idx := msg.IntData("trackIndex")
	require.NotNil(t, idx)
	assert.Equal(t, 2, *idx)

	assert.False(t, msg.BoolData("isPlaying", true))
	assert.Equal(t, "x", msg.StringData("label"))
}

func TestSyncMsgAccessors_AbsentKeys(t *testing.T) {
	msg := SyncMsg{Data: map[string]any{"other": 1}}

	assert.Nil(t, msg.IntData("trackIndex"))
	assert.Nil(t, msg.Int64Data("positionMs"))
	assert.Nil(t, msg.BoolDataPtr("isPlaying"))
	assert.Equal(t, "", msg.StringData("label"))
	assert.True(t, msg.BoolData("isPlaying", true), "default preserved")
}

func TestSyncMsgAccessors_NilData(t *testing.T) {
	var msg SyncMsg

	assert.Nil(t, msg.IntData("x"))
	assert.Nil(t, msg.Int64Data("x"))
	assert.Nil(t, msg.BoolDataPtr("x"))
	assert.Equal(t, "", msg.StringData("x"))
	assert.False(t, msg.BoolData("x", false))
}

func TestBoolDataPtr_DistinguishesFalseFromAbsent(t *testing.T) {
	msg := SyncMsg{Data: map[string]any{"flag": false}}

	ptr := msg.BoolDataPtr("flag")
	require.NotNil(t, ptr)
	assert.False(t, *ptr)
}
