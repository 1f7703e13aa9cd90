// Package ratelimit implements the fixed-window per-IP limiter backed by
// the shared cache.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/logging"
	"github.com/driftroom/driftroom/internal/v1/metrics"
)

const keyPrefix = "rate_limiter:"

// Rule is one fixed-window quota.
type Rule struct {
	Limit  uint64
	Window time.Duration
}

// Quotas for the guarded surfaces. All of them key on the caller IP, so the
// budgets share one counter per address.
var (
	RoomCreate = Rule{Limit: 10, Window: 600 * time.Second}
	RoomList   = Rule{Limit: 10, Window: 60 * time.Second}
	ChatFrame  = Rule{Limit: 10, Window: 60 * time.Second}
)

// Store is the slice of the cache client the limiter needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Decrement(ctx context.Context, key string, by int64) (int64, error)
}

// Limiter tracks per-IP budgets in the cache.
type Limiter struct {
	store Store
}

func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Allow reports whether the caller identified by ip may proceed under the
// rule. A missing counter starts a new window with the full budget; a zero
// counter denies; anything else is decremented. Every cache failure fails
// open so a degraded cache never blocks traffic.
func (l *Limiter) Allow(ctx context.Context, ip string, rule Rule) bool {
	key := keyPrefix + ip

	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		logging.Warn(ctx, "rate limiter failing open", zap.String("ip", ip), zap.Error(err))
		return true
	}

	if !ok {
		if err := l.store.SetWithTTL(ctx, key, strconv.FormatUint(rule.Limit, 10), rule.Window); err != nil {
			logging.Warn(ctx, "rate limiter failing open", zap.String("ip", ip), zap.Error(err))
		}
		return true
	}

	remaining, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		logging.Warn(ctx, "rate limiter failing open", zap.String("ip", ip), zap.Error(err))
		return true
	}
	if remaining == 0 {
		return false
	}

	if _, err := l.store.Decrement(ctx, key, 1); err != nil {
		logging.Warn(ctx, "rate limiter failing open", zap.String("ip", ip), zap.Error(err))
	}
	return true
}

// Middleware guards an endpoint with the rule. Denials are bare 429s with
// empty bodies.
func (l *Limiter) Middleware(scope string, rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), ClientIP(c.Request.Header), rule) {
			metrics.RateLimitRejections.WithLabelValues(scope).Inc()
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// ClientIP resolves the caller address from the x-forwarded-for header,
// taking the last element of the list (the hop closest to this server).
// A missing or empty header resolves to loopback.
func ClientIP(h http.Header) string {
	raw := h.Get("X-Forwarded-For")
	if raw == "" {
		return "127.0.0.1"
	}

	parts := strings.Split(raw, ",")
	ip := strings.TrimSpace(parts[len(parts)-1])
	if ip == "" {
		return "127.0.0.1"
	}
	return ip
}
