package types

import "time"

// SyncMsg is the unified WebSocket envelope. A single data field carries
// every payload; typed accessors below tolerate the loose numeric types
// encoding/json produces.
type SyncMsg struct {
	Type          string         `json:"type"`
	SubType       string         `json:"subType,omitempty"`
	RoomID        string         `json:"roomId,omitempty"`
	SenderID      string         `json:"senderId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Timestamp     int64          `json:"timestamp,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Inbound message types.
const (
	MsgTypeAuth      = "auth"
	MsgTypeHeartbeat = "heartbeat"
	MsgTypePlayback  = "playback"
	MsgTypePlaylist  = "playlist"
	MsgTypeSettings  = "settings"
	MsgTypeSystem    = "system"
)

// Outbound envelope types.
const (
	MsgTypeAck             = "ack"
	MsgTypeError           = "error"
	MsgTypeFullState       = "full_state"
	MsgTypePlaylistUpdate  = "playlist_update"
	MsgTypeSettingsUpdated = "room_settings_updated"
)

// Playback sub-types.
const (
	SubTypePlay      = "play"
	SubTypePause     = "pause"
	SubTypeNext      = "next"
	SubTypePrevious  = "previous"
	SubTypeSeek      = "seek"
	SubTypeSyncState = "syncState"
)

// Playlist sub-types.
const (
	SubTypeAdd        = "add"
	SubTypeRemove     = "remove"
	SubTypeMove       = "move"
	SubTypeSyncQueue  = "sync_queue"
	SubTypeRequestAdd = "request_add"
)

// System broadcast events.
const (
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventHostConnected     = "host_connected"
	EventHostDisconnected  = "host_disconnected"
	EventHostReconnected   = "host_reconnected"
	EventRoomClosed        = "room_closed"
	EventRoomExpired       = "room_expired"
	EventPlaylistCleared   = "playlist_cleared"
	EventPlaylistSync      = "playlist_sync"
	EventPlaylistEnded     = "playlist_ended"
	EventHealthWarning     = "health_warning"
	EventAddTrackRequest   = "add_track_request"
	EventHealthCheck       = "health_check"
)

// ACK failure reasons (spec'd error taxonomy).
const (
	ReasonMissingRequiredFields = "missing_required_fields"
	ReasonInvalidMessage        = "invalid_message"
	ReasonMissingParams         = "missing_params"
	ReasonUnknownMessageType    = "unknown_message_type"
	ReasonUnknownSubtype        = "unknown_subtype"
	ReasonUnknownSystemEvent    = "unknown_system_event"
	ReasonRoomNotFound          = "room_not_found"
	ReasonRoomNotActive         = "room_not_active"
	ReasonJoinFailed            = "join_failed"
	ReasonInvalidSession        = "invalid_session"
	ReasonNotAuthorized         = "not_authorized"
	ReasonActionFailed          = "action_failed"
	ReasonProcessingError       = "processing_error"
)

// ACK success reasons (wire-visible strings kept stable for clients).
const (
	ReasonAuthenticated       = "authenticated"
	ReasonSuccess             = "success"
	ReasonHeartbeatReceived   = "heartbeat_received"
	ReasonHealthCheckReceived = "health_check_received"
)

// NewSyncMsg builds an outbound envelope with the timestamp stamped.
func NewSyncMsg(msgType string, data map[string]any) SyncMsg {
	return SyncMsg{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()}
}

// --- Safe data extraction ---
// encoding/json decodes every JSON number into float64, so the numeric
// accessors normalize before converting.

// StringData returns data[key] as a string, or "" if absent.
func (m *SyncMsg) StringData(key string) string {
	if m.Data == nil {
		return ""
	}
	if s, ok := m.Data[key].(string); ok {
		return s
	}
	return ""
}

// IntData returns data[key] as an int pointer, or nil if absent or non-numeric.
func (m *SyncMsg) IntData(key string) *int {
	if m.Data == nil {
		return nil
	}
	switch v := m.Data[key].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	}
	return nil
}

// Int64Data returns data[key] as an int64 pointer, or nil if absent.
func (m *SyncMsg) Int64Data(key string) *int64 {
	if m.Data == nil {
		return nil
	}
	switch v := m.Data[key].(type) {
	case float64:
		n := int64(v)
		return &n
	case int64:
		return &v
	case int:
		n := int64(v)
		return &n
	}
	return nil
}

// BoolData returns data[key] as a bool, falling back to def when absent.
func (m *SyncMsg) BoolData(key string, def bool) bool {
	if m.Data == nil {
		return def
	}
	if b, ok := m.Data[key].(bool); ok {
		return b
	}
	return def
}

// BoolDataPtr returns data[key] as a bool pointer, or nil when absent.
// Settings updates use nil to mean "no change".
func (m *SyncMsg) BoolDataPtr(key string) *bool {
	if m.Data == nil {
		return nil
	}
	if b, ok := m.Data[key].(bool); ok {
		return &b
	}
	return nil
}
