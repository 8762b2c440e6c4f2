package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/metrics"
	"github.com/rebenew/partysync/internal/v1/room"
	"github.com/rebenew/partysync/internal/v1/types"
)

// ack replies to one inbound frame and records the event metric.
func (g *Gateway) ack(c *Client, label string, success bool, reason, correlationID string) {
	status := "success"
	if !success {
		status = "failure"
	}
	metrics.WebsocketEvents.WithLabelValues(label, status).Inc()
	g.broadcaster.Ack(c, success, reason, correlationID)
}

// handleMessage routes one decoded frame. Every inbound frame gets exactly
// one ACK; a panic anywhere below is converted into a processing_error ACK
// and the connection stays open.
func (g *Gateway) handleMessage(ctx context.Context, c *Client, msg *types.SyncMsg) {
	label := msg.Type
	if label == "" {
		label = "unknown"
	}
	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if rec := recover(); rec != nil {
			logging.Error(ctx, "Panic while handling frame",
				zap.String("type", msg.Type), zap.String("subType", msg.SubType),
				zap.String("senderId", string(c.SenderID())), zap.Any("panic", rec))
			g.ack(c, label, false, types.ReasonProcessingError, msg.CorrelationID)
		}
	}()

	if msg.Type == "" {
		g.ack(c, label, false, types.ReasonInvalidMessage, msg.CorrelationID)
		return
	}

	if msg.Type == types.MsgTypeAuth {
		g.handleAuth(c, msg)
		return
	}

	// Everything else requires a bound session, and the frame's identifiers
	// must match it. Claimed identity is never trusted over the binding.
	if !c.isAuthenticated() {
		g.ack(c, label, false, types.ReasonInvalidSession, msg.CorrelationID)
		return
	}
	if msg.SenderID != "" && types.SenderIdType(msg.SenderID) != c.SenderID() {
		g.ack(c, label, false, types.ReasonInvalidSession, msg.CorrelationID)
		return
	}
	if msg.RoomID != "" && types.RoomIdType(msg.RoomID) != c.RoomID() {
		g.ack(c, label, false, types.ReasonInvalidSession, msg.CorrelationID)
		return
	}

	r := g.registry.Get(c.RoomID())
	if r == nil {
		g.ack(c, label, false, types.ReasonRoomNotFound, msg.CorrelationID)
		return
	}

	sender := c.SenderID()
	r.RecordActivity(sender)

	switch msg.Type {
	case types.MsgTypeHeartbeat:
		g.ack(c, label, true, types.ReasonHeartbeatReceived, msg.CorrelationID)
	case types.MsgTypePlayback:
		g.handlePlayback(c, r, sender, msg)
	case types.MsgTypePlaylist:
		g.handlePlaylist(c, r, sender, msg)
	case types.MsgTypeSettings:
		g.handleSettings(c, r, sender, msg)
	case types.MsgTypeSystem:
		g.handleSystem(c, msg)
	default:
		g.ack(c, label, false, types.ReasonUnknownMessageType, msg.CorrelationID)
	}
}

// handleAuth binds the connection to a room and sender identity, attaches
// it as a member, and replies with the one-shot full state snapshot.
func (g *Gateway) handleAuth(c *Client, msg *types.SyncMsg) {
	if c.isAuthenticated() {
		g.ack(c, types.MsgTypeAuth, false, types.ReasonInvalidMessage, msg.CorrelationID)
		return
	}

	roomID := strings.TrimSpace(msg.RoomID)
	senderID := strings.TrimSpace(msg.SenderID)
	if roomID == "" || senderID == "" {
		g.ack(c, types.MsgTypeAuth, false, types.ReasonMissingRequiredFields, msg.CorrelationID)
		return
	}

	r := g.registry.Get(types.RoomIdType(roomID))
	if r == nil {
		g.ack(c, types.MsgTypeAuth, false, types.ReasonRoomNotFound, msg.CorrelationID)
		return
	}

	res := r.AttachMember(types.SenderIdType(senderID), c)
	if !res.OK {
		g.ack(c, types.MsgTypeAuth, false, res.Reason, msg.CorrelationID)
		return
	}

	c.bind(types.RoomIdType(roomID), types.SenderIdType(senderID))
	g.ack(c, types.MsgTypeAuth, true, types.ReasonAuthenticated, msg.CorrelationID)
	r.SendFullState(c)

	logging.Info(context.Background(), "Session authenticated",
		zap.String("roomId", roomID), zap.String("senderId", senderID))
}

func (g *Gateway) handlePlayback(c *Client, r *room.Room, sender types.SenderIdType, msg *types.SyncMsg) {
	var res room.Result

	switch msg.SubType {
	case types.SubTypePlay:
		res = r.Play(sender, msg.IntData("trackIndex"), msg.Int64Data("positionMs"))
	case types.SubTypePause:
		res = r.Pause(sender)
	case types.SubTypeNext:
		res = r.Next(sender)
	case types.SubTypePrevious:
		res = r.Previous(sender)
	case types.SubTypeSeek:
		pos := msg.Int64Data("positionMs")
		if pos == nil {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		res = r.Seek(sender, *pos)
	case types.SubTypeSyncState:
		pos := msg.Int64Data("positionMs")
		if pos == nil {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		res = r.SyncState(sender, msg.IntData("trackIndex"), pos, msg.BoolData("isPlaying", true))
	case "update_track_duration":
		idx := msg.IntData("trackIndex")
		dur := msg.Int64Data("durationMs")
		if idx == nil || dur == nil {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		res = r.UpdateTrackDuration(sender, *idx, *dur)
	default:
		g.ack(c, types.MsgTypePlayback, false, types.ReasonUnknownSubtype, msg.CorrelationID)
		return
	}

	g.ack(c, types.MsgTypePlayback, res.OK, res.Reason, msg.CorrelationID)
}

func (g *Gateway) handlePlaylist(c *Client, r *room.Room, sender types.SenderIdType, msg *types.SyncMsg) {
	var res room.Result

	switch msg.SubType {
	case types.SubTypeAdd:
		trackID := msg.StringData("trackId")
		if trackID == "" {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		var dur int64
		if d := msg.Int64Data("durationMs"); d != nil {
			dur = *d
		}
		res = r.AddTrack(sender, trackID, msg.StringData("title"), dur)
	case types.SubTypeRemove:
		idx := msg.IntData("trackIndex")
		if idx == nil {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		res = r.RemoveTrack(sender, *idx)
	case types.SubTypeMove:
		from := msg.IntData("fromIndex")
		to := msg.IntData("toIndex")
		if from == nil || to == nil {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		res = r.MoveTrack(sender, *from, *to)
	case types.SubTypeSyncQueue:
		tracks, ok := parseTracks(msg.Data["tracks"])
		if !ok {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		res = r.ReplaceQueue(sender, tracks)
	case types.SubTypeRequestAdd:
		trackID := msg.StringData("trackId")
		if trackID == "" {
			res = room.Result{OK: false, Reason: types.ReasonMissingParams}
			break
		}
		res = r.ForwardAddRequest(sender, trackID, msg.StringData("title"))
	default:
		g.ack(c, types.MsgTypePlaylist, false, types.ReasonUnknownSubtype, msg.CorrelationID)
		return
	}

	g.ack(c, types.MsgTypePlaylist, res.OK, res.Reason, msg.CorrelationID)
}

func (g *Gateway) handleSettings(c *Client, r *room.Room, sender types.SenderIdType, msg *types.SyncMsg) {
	// Wire name for the queue-edit flag is allowGuestsAddTracks; the older
	// allowGuestsEditQueue spelling is accepted too.
	editQueue := msg.BoolDataPtr("allowGuestsAddTracks")
	if editQueue == nil {
		editQueue = msg.BoolDataPtr("allowGuestsEditQueue")
	}

	res := r.UpdateSettings(sender, msg.BoolDataPtr("allowGuestsControl"), editQueue)
	g.ack(c, types.MsgTypeSettings, res.OK, res.Reason, msg.CorrelationID)
}

func (g *Gateway) handleSystem(c *Client, msg *types.SyncMsg) {
	event := msg.SubType
	if event == "" {
		event = msg.StringData("event")
	}

	switch event {
	case types.EventHealthCheck:
		g.ack(c, types.MsgTypeSystem, true, types.ReasonHealthCheckReceived, msg.CorrelationID)
	default:
		g.ack(c, types.MsgTypeSystem, false, types.ReasonUnknownSystemEvent, msg.CorrelationID)
	}
}

// parseTracks decodes the sync_queue tracks payload. Round-tripping
// through JSON keeps the field handling identical to the envelope decode.
func parseTracks(v any) ([]types.TrackEntry, bool) {
	if v == nil {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var tracks []types.TrackEntry
	if err := json.Unmarshal(raw, &tracks); err != nil {
		return nil, false
	}
	return tracks, true
}
