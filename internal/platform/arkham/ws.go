package arkham

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// DefaultHandshakeTimeout bounds the opening HTTP upgrade.
	DefaultHandshakeTimeout = 15 * time.Second

	// DefaultHeartbeat is the interval between client pings.
	DefaultHeartbeat = 30 * time.Second
)

// DialConfig describes one streaming connection attempt.
type DialConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	Heartbeat        time.Duration
}

// HandshakeError is returned by Dial when the upgrade fails. StatusCode is
// zero when no HTTP response was received.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("arkham/ws: handshake rejected with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("arkham/ws: dial: %v", e.Err)
}

// Unwrap exposes domain.ErrUnauthorized for 401 and 403 responses so callers
// can classify the failure with errors.Is.
func (e *HandshakeError) Unwrap() []error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return []error{domain.ErrUnauthorized, e.Err}
	}
	return []error{e.Err}
}

// Session is one open streaming connection. Reads must come from a single
// goroutine; writes are serialized internally.
type Session struct {
	conn      *websocket.Conn
	heartbeat time.Duration
	pongWait  time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a streaming connection with the given headers and starts the
// keep-alive ping loop.
func Dial(ctx context.Context, cfg DialConfig) (*Session, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		herr := &HandshakeError{Err: err}
		if resp != nil {
			herr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, herr
	}

	s := &Session{
		conn:      conn,
		heartbeat: cfg.Heartbeat,
		pongWait:  2 * cfg.Heartbeat,
		done:      make(chan struct{}),
	}
	s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	go s.pingLoop()
	return s, nil
}

// Subscribe sends a subscription request.
func (s *Session) Subscribe(req SubscribeRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("arkham/ws: subscribe %s: %w", req.Args.Params.Symbol, err)
	}
	return nil
}

// ReadMessage blocks until the next text frame arrives. Binary frames are
// skipped. Any error means the stream has ended.
func (s *Session) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("arkham/ws: %w: %v", domain.ErrWSDisconnect, err)
			}
			return nil, fmt.Errorf("arkham/ws: read: %w", err)
		}
		s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		if mt != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Close stops the ping loop and closes the connection. It is safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("arkham/ws: close: %w", err)
	}
	return nil
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
