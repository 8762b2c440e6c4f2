package room

import (
	"testing"
	"time"

	"github.com/rebenew/partysync/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewBroadcaster(nil), 10*time.Minute)
}

func TestRegistryCreate(t *testing.T) {
	reg := newTestRegistry()

	r, err := reg.Create(testRoomID, testHostID)
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.True(t, reg.Exists(testRoomID))
	assert.Same(t, r, reg.Get(testRoomID))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryCreate_Validation(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Create("", testHostID)
	assert.ErrorIs(t, err, ErrInvalidRoomID)

	_, err = reg.Create(testRoomID, " ")
	assert.ErrorIs(t, err, ErrInvalidHostID)

	_, err = reg.Create(testRoomID, testHostID)
	require.NoError(t, err)
	_, err = reg.Create(testRoomID, "other-host")
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestRegistryDelete_HostOnly(t *testing.T) {
	reg := newTestRegistry()
	r, err := reg.Create(testRoomID, testHostID)
	require.NoError(t, err)

	guest := newFakeHandle()
	require.True(t, r.AttachMember(testGuest, guest).OK)

	assert.False(t, reg.Delete(testRoomID, testGuest, "nope"), "guest cannot delete")
	assert.True(t, reg.Exists(testRoomID))

	assert.True(t, reg.Delete(testRoomID, testHostID, "host closed the room"))
	assert.False(t, reg.Exists(testRoomID))
	assert.Equal(t, types.RoomStateTerminated, r.State())
	assert.True(t, guest.isClosed())
	assert.True(t, guest.hasSystemEvent(t, types.EventRoomClosed))
}

func TestRegistryDelete_HealthSystemExpires(t *testing.T) {
	reg := newTestRegistry()
	r, err := reg.Create(testRoomID, testHostID)
	require.NoError(t, err)

	guest := newFakeHandle()
	require.True(t, r.AttachMember(testGuest, guest).OK)

	assert.True(t, reg.Delete(testRoomID, types.HealthSystemPrincipal, "reconnection window elapsed"))
	assert.False(t, reg.Exists(testRoomID))
	assert.True(t, guest.hasSystemEvent(t, types.EventRoomExpired),
		"monitor deletions announce the expiration")
	assert.True(t, guest.hasSystemEvent(t, types.EventRoomClosed),
		"followed by the terminal close event")
}

func TestRegistryDelete_Missing(t *testing.T) {
	reg := newTestRegistry()
	assert.False(t, reg.Delete("nope", testHostID, "gone"))
}

func TestRegistryStats(t *testing.T) {
	reg := newTestRegistry()

	r1, err := reg.Create("room-a", "host-a")
	require.NoError(t, err)
	_, err = reg.Create("room-b", "host-b")
	require.NoError(t, err)

	require.True(t, r1.AttachMember("host-a", newFakeHandle()).OK)
	require.True(t, r1.AttachMember("guest-a", newFakeHandle()).OK)

	stats := reg.Stats()
	assert.Equal(t, 2, stats["totalRooms"])
	assert.Equal(t, 2, stats["totalMembers"])
	byState := stats["roomsByState"].(map[string]int)
	assert.Equal(t, 2, byState[string(types.RoomStateCreated)])
}

func TestRegistryShutdown(t *testing.T) {
	reg := newTestRegistry()

	r1, err := reg.Create("room-a", "host-a")
	require.NoError(t, err)
	_, err = reg.Create("room-b", "host-b")
	require.NoError(t, err)

	h := newFakeHandle()
	require.True(t, r1.AttachMember("guest-a", h).OK)

	reg.Shutdown("server shutting down")

	assert.Equal(t, 0, reg.Count())
	assert.True(t, h.isClosed())
	assert.True(t, h.hasSystemEvent(t, types.EventRoomClosed))
}

func TestRegistrySetHostLossFunc_AppliesToExistingRooms(t *testing.T) {
	reg := newTestRegistry()
	r, err := reg.Create(testRoomID, testHostID)
	require.NoError(t, err)

	var fired []types.RoomIdType
	reg.SetHostLossFunc(func(id types.RoomIdType) { fired = append(fired, id) })

	host := newFakeHandle()
	require.True(t, r.AttachMember(testHostID, host).OK)
	r.DetachMember(host)

	require.Len(t, fired, 1)
	assert.Equal(t, testRoomID, fired[0])
}
