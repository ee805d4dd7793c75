package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
)

// Config wires together the runtime dependencies for the signaling endpoint.
type Config struct {
	Relay   *Relay
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// AllowedOrigins is matched against the browser Origin header. Empty means
	// same host only.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// IdleTimeout closes connections that send nothing (not even a pong) for
	// this long. PingInterval must be shorter. Zero disables keepalive.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	Clock ratelimit.Clock
}

// Server upgrades GET /ws to the room signaling protocol.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Relay == nil {
		cfg.Relay = NewRelay(RelayConfig{Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: origin.CheckOrigin(cfg.AllowedOrigins),
		},
		sessions: make(map[*wsSession]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Relay() *Relay { return s.cfg.Relay }

// Close disconnects every client with a going-away close frame.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for wss := range s.sessions {
		sessions = append(sessions, wss)
	}
	s.mu.Unlock()

	for _, wss := range sessions {
		wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		wss.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	rate := int64(s.cfg.MaxMessagesPerSecond)
	wss := &wsSession{
		srv:     s,
		id:      uuid.NewString(),
		conn:    conn,
		limiter: ratelimit.NewTokenBucket(s.cfg.Clock, rate, rate),
		done:    make(chan struct{}),
	}
	wss.log = s.log.With("conn_id", wss.id)

	s.mu.Lock()
	s.sessions[wss] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, wss)
		s.mu.Unlock()
	}()

	s.cfg.Metrics.Inc(metrics.ConnectionOpened)
	defer s.cfg.Metrics.Inc(metrics.ConnectionClosed)

	wss.run()
}

type wsSession struct {
	srv     *Server
	id      string
	conn    *websocket.Conn
	log     *slog.Logger
	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func (wss *wsSession) run() {
	defer wss.Close()

	cfg := wss.srv.cfg
	wss.conn.SetReadLimit(cfg.MaxMessageBytes)

	keepalive := cfg.IdleTimeout > 0 && cfg.PingInterval > 0
	if keepalive {
		_ = wss.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		wss.conn.SetPongHandler(func(string) error {
			return wss.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		})
		go wss.pingLoop(cfg.PingInterval)
	}

	relay := cfg.Relay
	relay.Attach(wss.id, wss)
	defer relay.Detach(wss.id)
	wss.log.Debug("signaling connection opened")

	for {
		msgType, data, err := wss.conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				wss.log.Debug("signaling connection idle")
				wss.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent CloseMessageTooBig.
				cfg.Metrics.Inc(metrics.BadMessage)
			}
			return
		}
		if keepalive {
			_ = wss.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		}

		// Apply the rate limit *after* reading the message so bytes already in
		// the TCP receive buffer are consumed. Closing with unread data can make
		// the OS send an RST and clients would miss the close reason.
		if !wss.limiter.Allow(1) {
			cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			_ = wss.fail(ErrorCodeRateLimited, "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			cfg.Metrics.Inc(metrics.BadMessage)
			_ = wss.fail(ErrorCodeBadMessage, "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			cfg.Metrics.Inc(metrics.BadMessage)
			_ = wss.fail(ErrorCodeBadMessage, err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		if err := relay.Handle(wss.id, msg); err != nil {
			wss.log.Debug("signaling message rejected", "type", string(msg.Type), "err", err)
		}
	}
}

func (wss *wsSession) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-wss.done:
			return
		case <-ticker.C:
		}
		wss.writeMu.Lock()
		err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		wss.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// Send implements Endpoint.
func (wss *wsSession) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wss.conn.WriteMessage(websocket.TextMessage, data)
}

func (wss *wsSession) fail(code, message string, closeCode int, closeReason string) error {
	_ = wss.Send(Message{
		Type:    MessageTypeError,
		Code:    code,
		Message: message,
	})
	wss.closeWith(closeCode, closeReason)
	return nil
}

func (wss *wsSession) closeWith(code int, reason string) {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		close(wss.done)
		_ = wss.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
