// Package gateway owns the WebSocket surface: connection upgrade, the
// auth handshake binding a socket to a room and sender identity, and the
// dispatch of inbound frames to room operations.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rebenew/partysync/internal/v1/config"
	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/metrics"
	"github.com/rebenew/partysync/internal/v1/ratelimit"
	"github.com/rebenew/partysync/internal/v1/room"
)

// Gateway accepts WebSocket connections and routes their frames. It holds
// no room state of its own; every command goes through the registry.
type Gateway struct {
	registry    *room.Registry
	broadcaster *room.Broadcaster
	rateLimiter *ratelimit.RateLimiter

	allowedOrigins []string
	idleTimeout    time.Duration
	backlog        int

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// New creates a Gateway. rateLimiter may be nil (no connection limiting).
func New(registry *room.Registry, broadcaster *room.Broadcaster, rateLimiter *ratelimit.RateLimiter, cfg *config.Config) *Gateway {
	var origins []string
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Gateway{
		registry:       registry,
		broadcaster:    broadcaster,
		rateLimiter:    rateLimiter,
		allowedOrigins: origins,
		idleTimeout:    cfg.ClientIdleTimeout,
		backlog:        cfg.MaxOutboundBacklog,
		clients:        make(map[*Client]struct{}),
	}
}

// validateOrigin checks if the request origin is in the allowed list.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil // Allow non-browser clients (e.g., for testing)
	}
	if len(allowedOrigins) == 0 {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// ServeWs upgrades the HTTP request and starts the connection's pumps.
// GET /ws/sync
// The socket carries no identity yet; the first auth frame binds it.
func (g *Gateway) ServeWs(c *gin.Context) {
	if g.rateLimiter != nil && !g.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	if err := validateOrigin(c.Request, g.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, g.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	g.HandleConnection(conn)
}

// HandleConnection takes an established WebSocket connection and starts
// its read and write pumps. Split from ServeWs so tests can drive mock
// connections.
func (g *Gateway) HandleConnection(conn wsConnection) *Client {
	client := newClient(conn, g, g.backlog)

	g.mu.Lock()
	g.clients[client] = struct{}{}
	g.mu.Unlock()

	metrics.IncConnection()

	go client.writePump()
	go client.readPump()

	return client
}

// handleDisconnect detaches a dying connection from its room (if it ever
// authenticated) and forgets it.
func (g *Gateway) handleDisconnect(c *Client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()

	c.Close()

	if !c.isAuthenticated() {
		return
	}
	if r := g.registry.Get(c.RoomID()); r != nil {
		r.DetachMember(c)
	}
}

// ConnectionCount returns the number of live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown closes every open connection. Rooms are shut down separately
// by the registry.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[*Client]struct{})
	g.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	logging.Info(context.Background(), "Gateway shut down",
		zap.Int("connectionsClosed", len(clients)))
}
