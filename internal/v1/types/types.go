package types

import (
	"errors"
	"strings"
	"time"
)

// --- Core Domain Types ---

// RoomIdType represents a unique identifier for a sync room.
type RoomIdType string

// SenderIdType represents the opaque identifier of a client. The server
// never mints these; they arrive from the HTTP facade and WebSocket frames.
type SenderIdType string

// RoomState enumerates the lifecycle states of a room.
type RoomState string

const (
	// RoomStateCreated means the room exists but nothing is playing.
	RoomStateCreated RoomState = "CREATED"
	// RoomStateActive means a track is playing.
	RoomStateActive RoomState = "ACTIVE"
	// RoomStatePaused means a track is loaded but playback is frozen.
	RoomStatePaused RoomState = "PAUSED"
	// RoomStateHostDisconnected means the host dropped and the room is in
	// its reconnection grace window.
	RoomStateHostDisconnected RoomState = "HOST_DISCONNECTED"
	// RoomStateTerminated is terminal; the room is gone.
	RoomStateTerminated RoomState = "TERMINATED"
)

// HealthSystemPrincipal is the reserved caller identity the health monitor
// uses when it deletes expired rooms.
const HealthSystemPrincipal SenderIdType = "health_system"

// UnknownTrackTitle is substituted for empty track titles.
const UnknownTrackTitle = "Unknown Track"

// TrackEntry is one queued track. The server never fetches or plays it;
// trackId is opaque. DurationMs == 0 means the duration is unknown, which
// disables automatic end-of-track advancement.
type TrackEntry struct {
	TrackID    string       `json:"trackId"`
	Title      string       `json:"title"`
	AddedBy    SenderIdType `json:"addedBy"`
	AddedAt    int64        `json:"addedAt"`
	DurationMs int64        `json:"durationMs"`
}

// NewTrackEntry builds a validated TrackEntry, stamping AddedAt server-side.
func NewTrackEntry(trackID, title string, addedBy SenderIdType, durationMs int64) (TrackEntry, error) {
	if strings.TrimSpace(trackID) == "" {
		return TrackEntry{}, errors.New("trackId cannot be empty")
	}
	if strings.TrimSpace(string(addedBy)) == "" {
		return TrackEntry{}, errors.New("addedBy cannot be empty")
	}
	if title == "" {
		title = UnknownTrackTitle
	}
	if durationMs < 0 {
		durationMs = 0
	}
	return TrackEntry{
		TrackID:    trackID,
		Title:      title,
		AddedBy:    addedBy,
		AddedAt:    time.Now().UnixMilli(),
		DurationMs: durationMs,
	}, nil
}

// ClientHandle is the per-connection token a room holds for each member.
// Send must never block the caller; implementations buffer internally and
// drop on overflow.
type ClientHandle interface {
	Send(data []byte)
	Close()
	IsOpen() bool
}

// --- Snapshot DTOs (full_state payload and HTTP getters) ---

// RoomInfo is the room metadata slice of a snapshot.
type RoomInfo struct {
	RoomID               RoomIdType     `json:"roomId"`
	HostSenderID         SenderIdType   `json:"hostSenderId"`
	AllowGuestsAddTracks bool           `json:"allowGuestsAddTracks"`
	Clients              []SenderIdType `json:"clients"`
	PlaylistSize         int            `json:"playlistSize"`
}

// SettingsInfo carries the two guest-permission flags.
type SettingsInfo struct {
	AllowGuestsEditQueue bool `json:"allowGuestsEditQueue"`
	AllowGuestsControl   bool `json:"allowGuestsControl"`
}

// PlaybackInfo is the lightweight playback state used by the HTTP facade.
type PlaybackInfo struct {
	CurrentTrackID    string `json:"currentTrackId,omitempty"`
	CurrentTrackTitle string `json:"currentTrackTitle,omitempty"`
	PositionMs        int64  `json:"positionMs"`
	IsPlaying         bool   `json:"isPlaying"`
	DurationMs        int64  `json:"durationMs"`
	Timestamp         int64  `json:"timestamp"`
}

// RoomSnapshot is the atomic read of a room's full state, taken under the
// room's writer lock. It backs the one-shot full_state envelope sent after
// authentication and the read-only HTTP getters.
type RoomSnapshot struct {
	Room            RoomInfo     `json:"room"`
	State           RoomState    `json:"state"`
	Playlist        []TrackEntry `json:"playlist"`
	NowPlayingIndex *int         `json:"nowPlayingIndex"`
	NowPlaying      *TrackEntry  `json:"nowPlaying"`
	Settings        SettingsInfo `json:"settings"`
	Timestamp       int64        `json:"timestamp"`
}
