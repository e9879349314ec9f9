package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send while no live connection exists.
// Callers are expected to queue the frame for later delivery.
var ErrNotConnected = errors.New("not connected")

const (
	defaultPort             = 443
	defaultInitialReconnect = 500 * time.Millisecond
	defaultMaxReconnect     = 30 * time.Second
)

// Session owns one logical WebSocket connection to the platform gateway.
// The connection handle is replaced on every reconnect; the session itself
// lives for the whole process.
type Session struct {
	endpoint         string
	dialer           *websocket.Dialer
	log              *slog.Logger
	initialReconnect time.Duration
	maxReconnect     time.Duration

	onFrame   func(frame []byte)
	onConnect func()

	mu     sync.Mutex
	conn   *websocket.Conn
	connID string
	closed bool
}

// NewSession builds a session for wss://{host}[:{port}]/{apiKey}. A zero or
// default port is omitted from the endpoint.
func NewSession(apiKey, host string, port int, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}

	endpoint := url.URL{Scheme: "wss", Host: host, Path: "/" + apiKey}
	if port > 0 && port != defaultPort {
		endpoint.Host = host + ":" + strconv.Itoa(port)
	}

	return &Session{
		endpoint:         endpoint.String(),
		dialer:           websocket.DefaultDialer,
		log:              log.With("component", "bot.session"),
		initialReconnect: defaultInitialReconnect,
		maxReconnect:     defaultMaxReconnect,
	}
}

// SetReconnectBackoff overrides the reconnect backoff window. Must be called
// before Connect.
func (s *Session) SetReconnectBackoff(initial, maxInterval time.Duration) {
	if initial > 0 {
		s.initialReconnect = initial
	}
	if maxInterval > 0 {
		s.maxReconnect = maxInterval
	}
}

// Endpoint returns the connection URL.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// OnFrame registers the inbound text-frame callback. Must be set before
// Connect.
func (s *Session) OnFrame(fn func(frame []byte)) {
	s.onFrame = fn
}

// OnConnect registers a callback fired after every established connection,
// including reconnects. Must be set before Connect.
func (s *Session) OnConnect(fn func()) {
	s.onConnect = fn
}

// Connect dials the endpoint once. A dial failure is returned to the caller
// and not retried; only an established connection that later drops triggers
// the reconnect loop, which runs until ctx is cancelled or Close is called.
func (s *Session) Connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		s.log.Error("Connect failed", "endpoint", s.endpoint, "error", err)
		return fmt.Errorf("connect %s: %w", s.endpoint, err)
	}

	s.install(conn)
	go s.serve(ctx, conn)
	return nil
}

// Send transmits one text frame on the current connection. A write failure
// discards the connection so the read loop can trigger reconnection.
func (s *Session) Send(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Connected reports whether a live connection exists.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close tears down the current connection and stops reconnection.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// serve reads frames until the connection drops, then re-dials the same
// endpoint indefinitely under capped exponential backoff.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		s.readLoop(conn)
		s.drop(conn)

		if ctx.Err() != nil || s.isClosed() {
			return
		}

		s.log.Info("Connection closed, reconnecting", "endpoint", s.endpoint)
		next, err := s.redial(ctx)
		if err != nil {
			return
		}
		conn = next
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.log.Warn("Connection error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if s.onFrame != nil {
			s.onFrame(data)
		}
	}
}

func (s *Session) redial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialReconnect
	policy.MaxInterval = s.maxReconnect
	policy.MaxElapsedTime = 0

	for {
		conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
		if err == nil {
			s.install(conn)
			return conn, nil
		}

		wait := policy.NextBackOff()
		s.log.Warn("Reconnect attempt failed", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		if s.isClosed() {
			return nil, ErrNotConnected
		}
	}
}

func (s *Session) install(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.connID = uuid.NewString()
	connID := s.connID
	s.mu.Unlock()

	s.log.Info("Connection established", "endpoint", s.endpoint, "connection_id", connID)

	// Fired outside the lock: the callback typically drains the outbound
	// queue, which calls Send and takes the same mutex.
	if s.onConnect != nil {
		s.onConnect()
	}
}

// drop clears the handle only if it still points at the dead connection, so a
// reconnect racing a failed Send never loses a fresh connection.
func (s *Session) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	_ = conn.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
