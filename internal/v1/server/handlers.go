package server

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/identity"
	"github.com/driftroom/driftroom/internal/v1/logging"
	"github.com/driftroom/driftroom/internal/v1/ratelimit"
	"github.com/driftroom/driftroom/internal/v1/session"
	"github.com/driftroom/driftroom/internal/v1/store"
)

// RoomInfo is one row of the room listing.
type RoomInfo struct {
	UUID       string `json:"uuid"`
	RoomSize   int    `json:"room_size"`
	ConnectURL string `json:"connect_url"`
}

// version handles GET /version.
func (s *Server) version(c *gin.Context) {
	s.ok(c, Version)
}

// createRoom handles POST /room/create. The room exists only as a cache
// reservation until the first peer connects.
func (s *Server) createRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := identity.NewRoomID()

	if err := s.cache.SetWithTTL(ctx, reservationKey(roomID), roomID.String(), reservationTTL); err != nil {
		fail(c, http.StatusInternalServerError, "could not reserve room")
		return
	}

	logging.Info(ctx, "room reserved", zap.String("room_id", roomID.String()))
	s.ok(c, roomID.String())
}

// listRooms handles GET /room/list. Only rooms with connected peers show
// up; reservations nobody has joined yet do not.
func (s *Server) listRooms(c *gin.Context) {
	counts := s.reg.Snapshot()

	rooms := make([]RoomInfo, 0, len(counts))
	for _, rc := range counts {
		rooms = append(rooms, RoomInfo{
			UUID:       rc.ID.String(),
			RoomSize:   rc.Subscribers,
			ConnectURL: s.cfg.ConnectURL(rc.ID.String()),
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomSize > rooms[j].RoomSize })

	s.ok(c, rooms)
}

// connectRoom handles /room/:roomId. Admission first, then the WebSocket
// upgrade; the handler blocks for the life of the session.
func (s *Server) connectRoom(c *gin.Context) {
	ctx := c.Request.Context()

	roomID, err := identity.ParseRoomID(c.Param("roomId"))
	if err != nil {
		fail(c, http.StatusNotFound, "room not found")
		return
	}
	ctx = logging.WithRoom(ctx, roomID.String())

	room, ok := s.admitRoom(ctx, c, roomID)
	if !ok {
		return
	}

	conn, err := session.Upgrade(c.Writer, c.Request)
	if err != nil {
		// The upgrader has already written the handshake error.
		logging.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	sess := session.New(session.Config{
		Conn:     conn,
		Registry: s.reg,
		Store:    s.store,
		Limiter:  s.limiter,
		RoomID:   roomID,
		RoomKey:  room.ID,
		ClientIP: ratelimit.ClientIP(c.Request.Header),
	})
	sess.Run(ctx)
}

// admitRoom resolves the identifier to a persisted room, promoting a cache
// reservation when one exists. On failure the response has been written
// and ok is false.
func (s *Server) admitRoom(ctx context.Context, c *gin.Context, roomID uuid.UUID) (store.Room, bool) {
	key := reservationKey(roomID)

	_, reserved, err := s.cache.Get(ctx, key)
	if err != nil {
		fail(c, http.StatusInternalServerError, "room lookup failed")
		return store.Room{}, false
	}

	if reserved {
		// First peer: promote the reservation into a row. The reservation
		// delete rides inside the transaction window; a promotion failure
		// leaves no row and no reservation.
		room, err := s.store.PromoteRoom(ctx, roomID, func() error {
			return s.cache.Delete(ctx, key)
		})
		if err != nil {
			logging.Error(ctx, "room promotion failed", zap.Error(err))
			fail(c, http.StatusInternalServerError, "room promotion failed")
			return store.Room{}, false
		}
		logging.Info(ctx, "room promoted")
		return room, true
	}

	room, err := s.store.FindRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "room not found")
		return store.Room{}, false
	}
	if err != nil {
		logging.Error(ctx, "room lookup failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "room lookup failed")
		return store.Room{}, false
	}
	return room, true
}
