// Package transport holds the live socket session used by the reconnection
// controller. A session never reconnects on its own.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"msg_client/client/chat/domain"
	"msg_client/client/common/log"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
	ErrStale        = errors.New("transport stale: no pong received")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultPingInterval     = 25 * time.Second
	defaultPingTimeout      = 60 * time.Second
)

// Listeners receive session lifecycle and inbound events. Any field may be nil.
type Listeners struct {
	OnConnect      func()
	OnConnectError func(reason string)
	OnDisconnect   func(reason string)
	OnEvent        func(name string, data json.RawMessage)
}

type Options struct {
	URL        string
	Transport  string
	Credential string
	// Reconnection must stay false: the controller owns retries.
	Reconnection     bool
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	Header           http.Header
}

func (o Options) withDefaults() Options {
	if o.Transport == "" {
		o.Transport = "websocket"
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = defaultPingTimeout
	}
	o.Reconnection = false
	return o
}

// Session is one live connection attempt and, once open, one connection.
type Session interface {
	// Open starts the handshake and returns immediately. The outcome arrives
	// through OnConnect or OnConnectError.
	Open(ctx context.Context)
	Emit(event string, payload any) error
	Connected() bool
	RemoveAllListeners()
	Close() error
}

// DialFunc builds a session; the controller calls it once per attempt.
type DialFunc func(opts Options, listeners Listeners) Session

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type WebSocketSession struct {
	opts Options

	writeMu sync.Mutex

	mu        sync.RWMutex
	conn      *websocket.Conn
	listeners Listeners
	connected bool
	closed    bool
	lastPong  time.Time
	done      chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

// NewWebSocketSession satisfies DialFunc.
func NewWebSocketSession(opts Options, listeners Listeners) Session {
	return &WebSocketSession{
		opts:      opts.withDefaults(),
		listeners: listeners,
		done:      make(chan struct{}),
	}
}

func (s *WebSocketSession) Open(ctx context.Context) {
	go s.dial(ctx)
}

func (s *WebSocketSession) dial(ctx context.Context) {
	target, err := dialURL(s.opts.URL, s.opts.Credential)
	if err != nil {
		s.fireConnectError(err.Error())
		return
	}

	header := http.Header{}
	for k, v := range s.opts.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Accept", "application/json")
	if token := strings.TrimSpace(s.opts.Credential); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		s.fireConnectError(handshakeReason(resp, err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.connected = true
	s.lastPong = time.Now()
	s.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		s.mu.Lock()
		s.lastPong = time.Now()
		s.mu.Unlock()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		s.mu.Lock()
		s.lastPong = time.Now()
		s.mu.Unlock()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	log.Debugf("event=transport_open url=%s", s.opts.URL)

	if fn := s.listenersSnapshot().OnConnect; fn != nil {
		fn()
	}
	go s.readLoop(conn)
	go s.heartbeatLoop(conn)
}

func (s *WebSocketSession) Emit(event string, payload any) error {
	s.mu.RLock()
	conn, connected, closed := s.conn, s.connected, s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !connected || conn == nil {
		return ErrNotConnected
	}

	b, err := json.Marshal(outboundEnvelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (s *WebSocketSession) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && !s.closed
}

func (s *WebSocketSession) RemoveAllListeners() {
	s.mu.Lock()
	s.listeners = Listeners{}
	s.mu.Unlock()
}

// Close tears down the connection without raising OnDisconnect.
func (s *WebSocketSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	return conn.Close()
}

func (s *WebSocketSession) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.drop(err.Error())
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			log.Warnf("event=transport_frame status=malformed bytes=%d", len(raw))
			continue
		}

		l := s.listenersSnapshot()
		if env.Event == domain.EventConnectError {
			s.drop("")
			if l.OnConnectError != nil {
				l.OnConnectError(connectErrorReason(env.Data))
			}
			return
		}
		if l.OnEvent != nil {
			l.OnEvent(env.Event, env.Data)
		}
	}
}

func (s *WebSocketSession) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(s.opts.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				log.Debugf("event=transport_ping status=failed err=%v", err)
			}

			s.mu.RLock()
			last := s.lastPong
			s.mu.RUnlock()
			if time.Since(last) > s.opts.PingTimeout {
				log.Warnf("event=transport_stale last_pong=%s timeout=%s", last.Format(time.RFC3339), s.opts.PingTimeout)
				_ = conn.Close()
				s.drop(ErrStale.Error())
				return
			}
		}
	}
}

// drop marks the session dead once. An empty reason suppresses OnDisconnect.
func (s *WebSocketSession) drop(reason string) {
	s.dropOnce.Do(func() {
		s.mu.Lock()
		wasClosed := s.closed
		s.connected = false
		s.closed = true
		conn := s.conn
		l := s.listeners
		s.mu.Unlock()
		s.closeOnce.Do(func() { close(s.done) })
		if conn != nil {
			_ = conn.Close()
		}
		if wasClosed || reason == "" {
			return
		}
		if l.OnDisconnect != nil {
			l.OnDisconnect(reason)
		}
	})
}

func (s *WebSocketSession) fireConnectError(reason string) {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	l := s.listeners
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	if closed {
		return
	}
	if l.OnConnectError != nil {
		l.OnConnectError(reason)
	}
}

func (s *WebSocketSession) listenersSnapshot() Listeners {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners
}

func dialURL(raw, credential string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	if token := strings.TrimSpace(credential); token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func handshakeReason(resp *http.Response, err error) string {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Sprintf("unauthorized: handshake status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return fmt.Sprintf("handshake status %d: %v", resp.StatusCode, err)
		}
	}
	return err.Error()
}

// connectErrorReason accepts a bare string or {"message": "..."}.
func connectErrorReason(data json.RawMessage) string {
	if len(data) == 0 {
		return "connect_error"
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil && text != "" {
		return text
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	return string(data)
}
