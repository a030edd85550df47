// Package socket is the WebSocket gateway.
// A connection is authenticated once on handshake, the identity is bound to it until it closes.
package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veltradev/veltra/internal/handlers/render"
	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/metrics"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 << 10
	defaultSendBuffer     = 32
)

// Label for events with unknown names, keeps metric cardinality bounded
const unknownEventLabel = "unknown"

var knownEvents = map[string]bool{
	EventPing:             true,
	EventWhoAmI:           true,
	EventConversationJoin: true,
	EventMessageSend:      true,
}

type Config struct {
	// Time to write a single frame
	WriteTimeout time.Duration

	// Time to wait for any frame or pong from the peer. Pings are sent every 9/10 of it
	PongWait time.Duration

	// Max size of incoming frame in bytes
	MaxMessageSize int64

	// Outgoing events buffered per connection
	SendBuffer int

	// Origin check of the handshake, same origin only if nil
	CheckOrigin func(r *http.Request) bool

	// Clock, time.Now if nil
	Now func() time.Time
}

type Server struct {
	cfg        Config
	auth       *Authenticator
	membership Membership
	logger     logger.Logger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	hub        *hub
}

func NewServer(cfg Config, auth *Authenticator, membership Membership, l logger.Logger, m *metrics.Metrics) *Server {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Server{
		cfg:        cfg,
		auth:       auth,
		membership: membership,
		logger:     l,
		metrics:    m,
		upgrader:   websocket.Upgrader{CheckOrigin: cfg.CheckOrigin},
		hub:        newHub(),
	}
}

// ServeHTTP authenticates the handshake and serves the connection until it closes
// Rejected handshake gets 401 and never upgrades
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SocketRejected.Inc()
		}
		s.logger.Debug("Socket handshake rejected", "remote", r.RemoteAddr, "error", err)
		render.Error(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader has already replied with error status
		s.logger.Warn("Socket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, identity, s.cfg.SendBuffer)
	s.hub.add(c)
	if s.metrics != nil {
		s.metrics.SocketConnections.Inc()
	}
	s.logger.Info("Socket connected", "user_id", identity.ID.String(), "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop(c)
	}()

	s.readLoop(ctx, c)

	c.close(websocket.CloseNormalClosure)
	<-written
	if s.metrics != nil {
		s.metrics.SocketConnections.Dec()
	}
	s.hub.remove(c)
	s.logger.Info("Socket disconnected", "user_id", identity.ID.String())
}

// Shutdown closes every open connection with 'going away' and waits until they are gone
func (s *Server) Shutdown(ctx context.Context) error {
	for _, c := range s.hub.all() {
		c.close(websocket.CloseGoingAway)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.hub.count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	conn := c.conn
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				s.logger.Warn("Socket read failed", "user_id", c.identity.ID.String(), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		var e Event
		if err := json.Unmarshal(msg, &e); err != nil || e.Name == "" {
			c.emitError(CodeBadEvent, "Event must be a json object with 'event' field", "")
			continue
		}

		s.countEvent(e.Name)
		s.handle(ctx, c, e)
	}
}

func (s *Server) writeLoop(c *client) {
	conn := c.conn
	ticker := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case e := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("Socket write failed", "user_id", c.identity.ID.String(), "error", err)
				c.close(websocket.CloseAbnormalClosure)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				c.close(websocket.CloseAbnormalClosure)
				return
			}

		case <-c.done:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, ""),
				time.Now().Add(s.cfg.WriteTimeout),
			)
			return
		}
	}
}

func (s *Server) countEvent(name string) {
	if s.metrics == nil {
		return
	}
	if !knownEvents[name] {
		name = unknownEventLabel
	}
	s.metrics.SocketEvents.WithLabelValues(name).Inc()
}
