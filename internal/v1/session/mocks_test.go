package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftroom/driftroom/internal/v1/ratelimit"
	"github.com/driftroom/driftroom/internal/v1/store"
)

var errConnClosed = errors.New("use of closed connection")

// readResult is one scripted outcome for MockConnection.ReadMessage.
type readResult struct {
	messageType int
	data        []byte
	err         error
}

// MockConnection implements Conn with scripted reads and recorded writes.
// Reads block until a result is queued or the connection is closed, the
// way a real socket would.
type MockConnection struct {
	WriteMessageFunc func(messageType int, data []byte) error

	mu     sync.Mutex
	writes [][]byte

	reads     chan readResult
	writeCh   chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newMockConnection() *MockConnection {
	return &MockConnection{
		reads:   make(chan readResult, 16),
		writeCh: make(chan []byte, 256),
		closeCh: make(chan struct{}),
	}
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case r := <-m.reads:
		return r.messageType, r.data, r.err
	case <-m.closeCh:
		return 0, nil, errConnClosed
	}
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	select {
	case <-m.closeCh:
		return errConnClosed
	default:
	}

	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.writes = append(m.writes, cp)
	m.mu.Unlock()

	select {
	case m.writeCh <- cp:
	default:
	}
	return nil
}

func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (m *MockConnection) queueText(text string) {
	m.reads <- readResult{messageType: websocket.TextMessage, data: []byte(text)}
}

func (m *MockConnection) queueBinary(data []byte) {
	m.reads <- readResult{messageType: websocket.BinaryMessage, data: data}
}

func (m *MockConnection) queueReadError() {
	m.reads <- readResult{err: errors.New("peer gone")}
}

// nextWrite blocks until the connection records another write.
func (m *MockConnection) nextWrite(t *testing.T) string {
	t.Helper()
	select {
	case data := <-m.writeCh:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return ""
	}
}

func (m *MockConnection) allWrites() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	for i, w := range m.writes {
		out[i] = string(w)
	}
	return out
}

// MockStore implements MessageStore in memory, with the gateway's
// transaction semantics: a failing beforeCommit leaves nothing saved.
type MockStore struct {
	mu        sync.Mutex
	history   []string
	saved     []string
	recentErr error
	saveErr   error
	saveCalls int
}

func (m *MockStore) RecentPayloads(_ context.Context, _ int32, limit int32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	if int32(len(m.history)) > limit {
		return m.history[int32(len(m.history))-limit:], nil
	}
	return m.history, nil
}

func (m *MockStore) SaveMessage(_ context.Context, roomID int32, body string, beforeCommit func() error) (store.Message, error) {
	m.mu.Lock()
	m.saveCalls++
	failSave := m.saveErr
	m.mu.Unlock()

	if failSave != nil {
		return store.Message{}, failSave
	}
	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return store.Message{}, err
		}
	}

	m.mu.Lock()
	m.saved = append(m.saved, body)
	m.mu.Unlock()
	return store.Message{RoomID: roomID, Body: body}, nil
}

func (m *MockStore) savedPayloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saved...)
}

func (m *MockStore) saveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

// MockLimiter implements FrameLimiter with a fixed verdict.
type MockLimiter struct {
	mu    sync.Mutex
	allow bool
	calls int
}

func (m *MockLimiter) Allow(_ context.Context, _ string, _ ratelimit.Rule) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.allow
}

func (m *MockLimiter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
