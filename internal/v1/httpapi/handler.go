// Package httpapi is the REST facade over the room registry: room
// creation and deletion, read-only state getters, settings updates, and
// service stats. Real-time traffic never flows through here.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/room"
	"github.com/rebenew/partysync/internal/v1/types"
)

// ConnectionCounter reports live WebSocket connections for the stats
// endpoint.
type ConnectionCounter interface {
	ConnectionCount() int
}

// Handler serves the room admin endpoints.
type Handler struct {
	registry    *room.Registry
	connections ConnectionCounter
}

// NewHandler creates a Handler. connections may be nil.
func NewHandler(registry *room.Registry, connections ConnectionCounter) *Handler {
	return &Handler{registry: registry, connections: connections}
}

// createRoomRequest is the body of POST /rooms/create.
type createRoomRequest struct {
	HostID string `json:"hostId" binding:"required"`
}

// CreateRoom handles POST /rooms/create.
// Mints a short room ID; the host identity comes from the caller.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.HostID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hostId is required"})
		return
	}

	// 8-char IDs are plenty at this scale; retry the rare collision.
	var created *room.Room
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		id := types.RoomIdType(uuid.New().String()[:8])
		created, err = h.registry.Create(id, types.SenderIdType(req.HostID))
		if err == nil {
			break
		}
		if err != room.ErrRoomExists {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if created == nil {
		logging.Error(c.Request.Context(), "Failed to mint a unique room ID", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not allocate room"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"roomId":    created.ID(),
		"hostId":    created.HostID(),
		"state":     created.State(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// DeleteRoom handles DELETE /rooms/:roomId?callerId=...
// Only the host (or the health monitor internally) may delete.
func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID := types.RoomIdType(c.Param("roomId"))
	callerID := types.SenderIdType(strings.TrimSpace(c.Query("callerId")))
	if callerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callerId is required"})
		return
	}
	// The monitor's principal is reserved for internal use.
	if callerID == types.HealthSystemPrincipal {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return
	}

	if !h.registry.Exists(roomID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if !h.registry.Delete(roomID, callerID, "host requested close") {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true, "roomId": roomID})
}

// GetRoom handles GET /rooms/:roomId and returns the full snapshot.
func (h *Handler) GetRoom(c *gin.Context) {
	r := h.registry.Get(types.RoomIdType(c.Param("roomId")))
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, r.Snapshot())
}

// GetPlaylist handles GET /rooms/:roomId/playlist.
func (h *Handler) GetPlaylist(c *gin.Context) {
	r := h.registry.Get(types.RoomIdType(c.Param("roomId")))
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	tracks := r.QueueSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"roomId": r.ID(),
		"tracks": tracks,
		"size":   len(tracks),
	})
}

// GetPlayback handles GET /rooms/:roomId/playback.
func (h *Handler) GetPlayback(c *gin.Context) {
	r := h.registry.Get(types.RoomIdType(c.Param("roomId")))
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, r.Playback())
}

// updateSettingsRequest is the body of POST /rooms/:roomId/settings.
// Absent flags are left unchanged.
type updateSettingsRequest struct {
	CallerID             string `json:"callerId" binding:"required"`
	AllowGuestsControl   *bool  `json:"allowGuestsControl"`
	AllowGuestsAddTracks *bool  `json:"allowGuestsAddTracks"`
}

// UpdateSettings handles POST /rooms/:roomId/settings. Host only.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callerId is required"})
		return
	}

	r := h.registry.Get(types.RoomIdType(c.Param("roomId")))
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	res := r.UpdateSettings(types.SenderIdType(req.CallerID), req.AllowGuestsControl, req.AllowGuestsAddTracks)
	if !res.OK {
		c.JSON(http.StatusForbidden, gin.H{"error": res.Reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId":   r.ID(),
		"settings": r.Settings(),
	})
}

// ListRooms handles GET /rooms with a lightweight view of every room.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms := h.registry.Snapshot()

	out := make([]gin.H, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, gin.H{
			"roomId":        r.ID(),
			"state":         r.State(),
			"members":       r.MemberCount(),
			"playlistSize":  len(r.QueueSnapshot()),
			"hostConnected": r.HostConnected(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"rooms": out, "count": len(out)})
}

// Stats handles GET /rooms/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats := h.registry.Stats()
	if h.connections != nil {
		stats["activeConnections"] = h.connections.ConnectionCount()
	}
	c.JSON(http.StatusOK, stats)
}
