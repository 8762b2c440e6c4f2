package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/types"
	"go.uber.org/zap"
)

// BusPublisher mirrors room events to an external pub/sub channel. A nil
// publisher means single-instance mode; every mirror call is a no-op.
type BusPublisher interface {
	Publish(ctx context.Context, roomID string, event string, payload any) error
}

// Broadcaster owns outbound serialization and fan-out. Each event envelope
// is marshalled exactly once and the same byte slice is handed to every
// recipient; per-connection ordering is the ClientHandle's job (buffered
// send channel drained by a single writer goroutine).
//
// Delivery is best-effort: a member with a full backlog drops the frame
// rather than stalling the fan-out for the rest of the room.
type Broadcaster struct {
	bus BusPublisher
}

// NewBroadcaster creates a Broadcaster. bus may be nil.
func NewBroadcaster(bus BusPublisher) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// fanout marshals the envelope once and sends the shared bytes to every
// recipient, then mirrors the event to the bus if one is configured.
func (b *Broadcaster) fanout(roomID types.RoomIdType, envelopeType string, data map[string]any, recipients []types.ClientHandle) {
	msg := types.NewSyncMsg(envelopeType, data)
	raw, err := json.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal broadcast envelope",
			zap.String("roomId", string(roomID)), zap.String("type", envelopeType), zap.Error(err))
		return
	}

	for _, h := range recipients {
		h.Send(raw)
	}

	if b.bus != nil {
		go func() {
			if err := b.bus.Publish(context.Background(), string(roomID), envelopeType, data); err != nil {
				logging.Warn(context.Background(), "Failed to mirror event to bus",
					zap.String("roomId", string(roomID)), zap.String("type", envelopeType), zap.Error(err))
			}
		}()
	}
}

// unicast marshals and sends an envelope to a single handle.
func (b *Broadcaster) unicast(handle types.ClientHandle, envelopeType string, data map[string]any) {
	if handle == nil {
		return
	}
	raw, err := json.Marshal(types.NewSyncMsg(envelopeType, data))
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal unicast envelope",
			zap.String("type", envelopeType), zap.Error(err))
		return
	}
	handle.Send(raw)
}

// System broadcasts a system event envelope:
// {type:"system", data:{event, roomId, timestamp, ...extra}}.
func (b *Broadcaster) System(roomID types.RoomIdType, event string, extra map[string]any, recipients []types.ClientHandle) {
	data := map[string]any{
		"event":     event,
		"roomId":    string(roomID),
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range extra {
		data[k] = v
	}
	b.fanout(roomID, types.MsgTypeSystem, data, recipients)
}

// Playback broadcasts the authoritative playback state. Playback frames
// are never excluded from the originator: everyone converges on the same
// position.
func (b *Broadcaster) Playback(roomID types.RoomIdType, action string, track *types.TrackEntry, trackIndex *int, positionMs int64, recipients []types.ClientHandle) {
	data := map[string]any{
		"action":            action,
		"currentTrack":      track,
		"currentTrackIndex": trackIndex,
		"positionMs":        positionMs,
		"roomId":            string(roomID),
		"timestamp":         time.Now().UnixMilli(),
	}
	b.fanout(roomID, types.MsgTypePlayback, data, recipients)
}

// PlaylistUpdate broadcasts an add/remove/move mutation of the queue.
func (b *Broadcaster) PlaylistUpdate(roomID types.RoomIdType, action string, track types.TrackEntry, playlistSize int, nowPlayingIndex *int, fromIndex, toIndex *int, recipients []types.ClientHandle) {
	data := map[string]any{
		"action":          action,
		"track":           track,
		"playlistSize":    playlistSize,
		"nowPlayingIndex": nowPlayingIndex,
		"roomId":          string(roomID),
		"timestamp":       time.Now().UnixMilli(),
	}
	if fromIndex != nil {
		data["fromIndex"] = *fromIndex
	}
	if toIndex != nil {
		data["toIndex"] = *toIndex
	}
	b.fanout(roomID, types.MsgTypePlaylistUpdate, data, recipients)
}

// SettingsUpdated broadcasts the room's permission flags.
func (b *Broadcaster) SettingsUpdated(roomID types.RoomIdType, settings types.SettingsInfo, recipients []types.ClientHandle) {
	data := map[string]any{
		"allowGuestsEditQueue": settings.AllowGuestsEditQueue,
		"allowGuestsControl":   settings.AllowGuestsControl,
		"roomId":               string(roomID),
	}
	b.fanout(roomID, types.MsgTypeSettingsUpdated, data, recipients)
}

// Ack unicasts a command acknowledgement carrying the originating
// correlation ID.
func (b *Broadcaster) Ack(handle types.ClientHandle, success bool, reason, correlationID string) {
	b.unicast(handle, types.MsgTypeAck, map[string]any{
		"success":       success,
		"reason":        reason,
		"correlationId": correlationID,
		"timestamp":     time.Now().UnixMilli(),
	})
}

// Error unicasts an error envelope to one client.
func (b *Broadcaster) Error(handle types.ClientHandle, errorCode, message, correlationID string) {
	b.unicast(handle, types.MsgTypeError, map[string]any{
		"errorCode":     errorCode,
		"message":       message,
		"correlationId": correlationID,
		"timestamp":     time.Now().UnixMilli(),
	})
}

// FullState unicasts the one-shot post-authentication room snapshot.
func (b *Broadcaster) FullState(handle types.ClientHandle, snap types.RoomSnapshot) {
	b.unicast(handle, types.MsgTypeFullState, map[string]any{
		"room":            snap.Room,
		"state":           snap.State,
		"playlist":        snap.Playlist,
		"nowPlayingIndex": snap.NowPlayingIndex,
		"nowPlaying":      snap.NowPlaying,
		"settings":        snap.Settings,
		"timestamp":       snap.Timestamp,
	})
}
