// Package health exposes the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/logging"
)

const readinessTimeout = 3 * time.Second

// Pinger is anything that can confirm a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages the health check endpoints.
type Handler struct {
	cache Pinger
	store Pinger
}

// NewHandler wires the readiness probe to its dependencies. A nil
// dependency is skipped and reported healthy.
func NewHandler(cache, store Pinger) *Handler {
	return &Handler{cache: cache, store: store}
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health. A bare 200 means the process is up; no
// dependency is consulted.
func (h *Handler) Liveness(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Readiness handles GET /health/ready. It returns 200 only when every
// critical dependency answers a ping, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{
		"cache":    h.check(ctx, "cache", h.cache),
		"database": h.check(ctx, "database", h.store),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) check(ctx context.Context, name string, dep Pinger) string {
	if dep == nil {
		return "healthy"
	}
	if err := dep.Ping(ctx); err != nil {
		logging.Error(ctx, "readiness check failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
