package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rebenew/partysync/internal/v1/bus"
	"github.com/rebenew/partysync/internal/v1/config"
	"github.com/rebenew/partysync/internal/v1/gateway"
	"github.com/rebenew/partysync/internal/v1/health"
	"github.com/rebenew/partysync/internal/v1/httpapi"
	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/middleware"
	"github.com/rebenew/partysync/internal/v1/ratelimit"
	"github.com/rebenew/partysync/internal/v1/room"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	// --- Redis Bus Initialization (Optional) ---
	// Initialize Redis for the cross-instance event mirror if enabled
	var busService *bus.Service
	if cfg.RedisEnabled {
		var err error
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil // Fallback to single-instance mode
		} else {
			slog.Info("✅ Redis event mirror initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- Rooms, Broadcast Fan-Out, and Health Monitoring ---
	// A typed-nil Service in the interface would still spawn mirror
	// goroutines, so only hand the broadcaster a live bus.
	var busPublisher room.BusPublisher
	if busService != nil {
		busPublisher = busService
	}
	broadcaster := room.NewBroadcaster(busPublisher)
	registry := room.NewRegistry(broadcaster, cfg.HostTimeout)

	monitor := health.NewMonitor(registry, cfg.HealthCheckInterval, cfg.CleanupInterval, cfg.ReconnectionWindow)
	registry.SetHostLossFunc(monitor.HostLost)
	monitor.Start()

	// --- Rate Limiting ---
	// Backed by Redis when the bus is up, in-memory otherwise.
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// --- WebSocket Gateway and REST Facade ---
	gw := gateway.New(registry, broadcaster, rateLimiter, cfg)
	api := httpapi.NewHandler(registry, gw)

	// --- Set up Server ---
	router := gin.Default()
	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	router.Use(cors.New(corsConfig))

	// Error handling and request correlation
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(rateLimiter.GlobalMiddleware())

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/sync", gw.ServeWs)
	}

	roomsGroup := router.Group("/rooms")
	{
		roomsGroup.POST("/create", rateLimiter.RoomsMiddleware(), api.CreateRoom)
		roomsGroup.GET("", api.ListRooms)
		roomsGroup.GET("/stats", api.Stats)
		roomsGroup.GET("/:roomId", api.GetRoom)
		roomsGroup.DELETE("/:roomId", api.DeleteRoom)
		roomsGroup.GET("/:roomId/playlist", api.GetPlaylist)
		roomsGroup.GET("/:roomId/playback", api.GetPlayback)
		roomsGroup.POST("/:roomId/settings", api.UpdateSettings)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new connections, then notify and close every room.
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}
	gw.Shutdown()
	registry.Shutdown("server shutting down")
	monitor.Stop()

	// Close Redis connection if it was initialized
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}

// allowedOrigins splits the comma-separated ALLOWED_ORIGINS value, falling
// back to the given defaults when it is empty.
func allowedOrigins(raw string, defaults []string) []string {
	if strings.TrimSpace(raw) == "" {
		return defaults
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return defaults
	}
	return out
}
