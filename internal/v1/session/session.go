// Package session runs one WebSocket connection through its room lifetime:
// join (history replay plus announcement), serve (reader and writer pumps),
// close (leave announcement and teardown).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/identity"
	"github.com/driftroom/driftroom/internal/v1/logging"
	"github.com/driftroom/driftroom/internal/v1/metrics"
	"github.com/driftroom/driftroom/internal/v1/ratelimit"
	"github.com/driftroom/driftroom/internal/v1/registry"
	"github.com/driftroom/driftroom/internal/v1/store"
)

const (
	writeWait   = 10 * time.Second
	replayLimit = 100
)

// Conn is the slice of the WebSocket connection the session drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// MessageStore is the slice of the relational gateway the session uses.
type MessageStore interface {
	RecentPayloads(ctx context.Context, roomID int32, limit int32) ([]string, error)
	SaveMessage(ctx context.Context, roomID int32, body string, beforeCommit func() error) (store.Message, error)
}

// FrameLimiter guards inbound chat frames.
type FrameLimiter interface {
	Allow(ctx context.Context, ip string, rule ratelimit.Rule) bool
}

// chatPayload is the persisted and fanned-out form of one chat message.
type chatPayload struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// Announcement texts. The exact wording is part of the client contract.
func joinAnnouncement(handle string) []byte {
	return []byte(fmt.Sprintf("user %s joined to room", handle))
}

func leaveAnnouncement(handle string) []byte {
	return []byte(fmt.Sprintf("user %s leave the room", handle))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Anonymous service, no origin restrictions.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade switches the request onto the WebSocket protocol. On failure the
// upgrader has already written the error response.
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Config wires one session.
type Config struct {
	Conn     Conn
	Registry *registry.Registry
	Store    MessageStore
	Limiter  FrameLimiter
	RoomID   uuid.UUID
	RoomKey  int32
	ClientIP string
}

// Session is one peer's connection to one room.
type Session struct {
	conn    Conn
	reg     *registry.Registry
	store   MessageStore
	limiter FrameLimiter

	roomID  uuid.UUID
	roomKey int32
	handle  string
	ip      string

	hub *registry.Hub
	sub *registry.Subscription

	closeOnce sync.Once
}

// New prepares a session for an upgraded connection and assigns its
// anonymous handle.
func New(cfg Config) *Session {
	return &Session{
		conn:    cfg.Conn,
		reg:     cfg.Registry,
		store:   cfg.Store,
		limiter: cfg.Limiter,
		roomID:  cfg.RoomID,
		roomKey: cfg.RoomKey,
		ip:      cfg.ClientIP,
		handle:  identity.NewHandle(),
	}
}

// Handle returns the anonymous handle assigned to this session.
func (s *Session) Handle() string {
	return s.handle
}

// Run joins the room, replays history, and serves the connection until
// either side ends it. It blocks for the life of the socket.
func (s *Session) Run(ctx context.Context) {
	ctx = logging.WithRoom(ctx, s.roomID.String())
	ctx = logging.WithHandle(ctx, s.handle)

	s.hub, s.sub = s.reg.Join(s.roomID)
	metrics.IncConnection()
	logging.Info(ctx, "peer joined room")

	// History goes to this socket only, before any live frame. The
	// subscription already exists, so frames published meanwhile queue up
	// behind the replay.
	s.replayHistory(ctx)

	// Everyone hears the join, this session included.
	_ = s.hub.Publish(joinAnnouncement(s.handle))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(ctx)
	}()

	s.readPump(ctx)
	wg.Wait()
}

// replayHistory writes the room's recent messages to this socket, oldest
// first. Failure is session-local: live traffic still flows.
func (s *Session) replayHistory(ctx context.Context) {
	payloads, err := s.store.RecentPayloads(ctx, s.roomKey, replayLimit)
	if err != nil {
		logging.Error(ctx, "history replay failed", zap.Error(err))
		return
	}

	for _, p := range payloads {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			logging.Warn(ctx, "history replay aborted", zap.Error(err))
			return
		}
	}
}

// readPump consumes socket frames until a close frame or a read error.
// Text frames are rate checked, persisted, and fanned out; every other
// frame type is ignored.
func (s *Session) readPump(ctx context.Context) {
	defer s.teardown(ctx)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleFrame(ctx, data)
	}
}

// writePump forwards hub frames to the socket until the subscription
// channel closes or a write fails.
func (s *Session) writePump(ctx context.Context) {
	defer s.teardown(ctx)

	for frame := range s.sub.Frames() {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logging.Warn(ctx, "write failed, closing session", zap.Error(err))
			return
		}
	}

	// Subscription released or lost to backlog overflow.
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// handleFrame runs one inbound chat frame through the limiter, the store,
// and the hub. The publish happens inside the save's transaction window,
// before the commit; a failed publish rolls the insert back. A denied or
// failed frame is dropped without feedback to the sender.
func (s *Session) handleFrame(ctx context.Context, data []byte) {
	if !s.limiter.Allow(ctx, s.ip, ratelimit.ChatFrame) {
		metrics.ChatMessages.WithLabelValues(metrics.MessageRateLimited).Inc()
		return
	}

	payload, err := json.Marshal(chatPayload{User: s.handle, Message: string(data)})
	if err != nil {
		metrics.ChatMessages.WithLabelValues(metrics.MessageFailed).Inc()
		logging.Error(ctx, "marshal chat payload failed", zap.Error(err))
		return
	}

	start := time.Now()
	_, err = s.store.SaveMessage(ctx, s.roomKey, string(payload), func() error {
		return s.hub.Publish(payload)
	})
	metrics.FrameHandlingDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ChatMessages.WithLabelValues(metrics.MessageFailed).Inc()
		logging.Error(ctx, "chat frame dropped", zap.Error(err))
		return
	}
	metrics.ChatMessages.WithLabelValues(metrics.MessageDelivered).Inc()
}

// teardown runs exactly once, from whichever pump exits first: leave
// announcement, registry release, socket close. The release closes the
// subscription channel, which ends the writer; the socket close unblocks
// the reader.
func (s *Session) teardown(ctx context.Context) {
	s.closeOnce.Do(func() {
		_ = s.hub.Publish(leaveAnnouncement(s.handle))
		s.reg.Leave(s.roomID, s.sub)
		_ = s.conn.Close()
		metrics.DecConnection()
		logging.Info(ctx, "peer left room")
	})
}
