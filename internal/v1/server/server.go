// Package server assembles the HTTP surface: room management endpoints and
// the WebSocket entry into a room.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/driftroom/driftroom/internal/v1/config"
	"github.com/driftroom/driftroom/internal/v1/health"
	"github.com/driftroom/driftroom/internal/v1/middleware"
	"github.com/driftroom/driftroom/internal/v1/ratelimit"
	"github.com/driftroom/driftroom/internal/v1/registry"
	"github.com/driftroom/driftroom/internal/v1/session"
	"github.com/driftroom/driftroom/internal/v1/store"
	"github.com/driftroom/driftroom/internal/v1/tracing"
)

// Version is the build version, overridable at link time.
var Version = "dev"

const (
	reservationPrefix = "room:"
	reservationTTL    = 3600 * time.Second
)

// Cache is the slice of the cache client the handlers use.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store is the slice of the relational gateway the handlers and the
// sessions they spawn use.
type Store interface {
	FindRoom(ctx context.Context, id uuid.UUID) (store.Room, error)
	PromoteRoom(ctx context.Context, id uuid.UUID, beforeCommit func() error) (store.Room, error)
	session.MessageStore
}

// Options wires a Server.
type Options struct {
	Config   *config.Config
	Cache    Cache
	Store    Store
	Registry *registry.Registry
	Limiter  *ratelimit.Limiter
	Health   *health.Handler
}

// Server bundles the process state the handlers share. Constructed once in
// main; no package-level singletons apart from the logger and the
// prometheus collectors.
type Server struct {
	cfg     *config.Config
	cache   Cache
	store   Store
	reg     *registry.Registry
	limiter *ratelimit.Limiter
	health  *health.Handler
}

// New builds the server bundle.
func New(opts Options) *Server {
	return &Server{
		cfg:     opts.Config,
		cache:   opts.Cache,
		store:   opts.Store,
		reg:     opts.Registry,
		limiter: opts.Limiter,
		health:  opts.Health,
	}
}

// Router assembles the middleware chain and the routes.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(s.cfg.Origins()))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.RequestLogger())
	if tracing.Enabled() {
		r.Use(otelgin.Middleware("driftroom"))
	}

	r.GET("/version", s.version)
	r.GET("/health", s.health.Liveness)
	r.GET("/health/ready", s.health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	roomGroup := r.Group("/room")
	{
		roomGroup.POST("/create", s.limiter.Middleware("room_create", ratelimit.RoomCreate), s.createRoom)
		roomGroup.GET("/list", s.limiter.Middleware("room_list", ratelimit.RoomList), s.listRooms)
		roomGroup.Any("/:roomId", s.connectRoom)
	}

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// envelope is the uniform REST response body.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func (s *Server) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, envelope{Success: false, Data: message})
}

func reservationKey(id uuid.UUID) string {
	return reservationPrefix + id.String()
}
