// Package ratelimit implements rate limiting using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/rebenew/partysync/internal/v1/config"
	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/metrics"
)

// RateLimiter holds the limiter instances. Clients are keyed by IP; the
// server has no authentication layer to key on.
type RateLimiter struct {
	apiGlobal *limiter.Limiter
	apiRooms  *limiter.Limiter
	wsIP      *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter creates a RateLimiter backed by Redis when a client is
// given, local memory otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}

	apiRoomsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, fmt.Errorf("invalid API rooms rate: %w", err)
	}

	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		apiGlobal: limiter.New(store, apiGlobalRate),
		apiRooms:  limiter.New(store, apiRoomsRate),
		wsIP:      limiter.New(store, wsIPRate),
		store:     store,
	}, nil
}

// GlobalMiddleware enforces the per-IP global API limit.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return rl.middlewareFor(rl.apiGlobal, "global")
}

// RoomsMiddleware enforces the tighter per-IP limit on room mutation
// endpoints.
func (rl *RateLimiter) RoomsMiddleware() gin.HandlerFunc {
	return rl.middlewareFor(rl.apiRooms, "rooms")
}

func (rl *RateLimiter) middlewareFor(inst *limiter.Limiter, limitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		lctx, err := inst.Get(ctx, c.ClientIP())
		if err != nil {
			// Store failure fails open: availability over enforcement.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocket reports whether a new WebSocket connection from this IP
// is allowed. On rejection it writes the 429 response itself.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS Rate limiter store failed", zap.Error(err))
		return true // Fail open
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
