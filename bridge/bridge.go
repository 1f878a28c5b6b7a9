// Package bridge exposes the dispatcher over a websocket endpoint. Each
// inbound text frame is handed to the message handler and the returned
// string is written back on the same connection; bus events can be
// pushed to every connected client via Broadcast.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/xiaojinao/cellium/command"
	"github.com/xiaojinao/cellium/config"
	"github.com/xiaojinao/cellium/errors"
	"github.com/xiaojinao/cellium/eventbus"
)

// MessageHandler processes one raw inbound message and returns the reply
type MessageHandler func(raw string) string

const (
	writeTimeout = 10 * time.Second

	// outboundBuffer bounds per-connection pending pushes; a client that
	// stops reading gets disconnected rather than blocking the bus.
	outboundBuffer = 64
)

// Server is the websocket bridge between frontend clients and the core
type Server struct {
	addr    string
	path    string
	handler MessageHandler
	logger  *slog.Logger

	rateLimit float64
	rateBurst int

	upgrader websocket.Upgrader
	server   *http.Server

	mu    sync.Mutex
	conns map[*client]struct{}
}

type client struct {
	conn     *websocket.Conn
	outbound chan []byte
}

// ServerOption configures a bridge Server
type ServerOption func(*Server)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a bridge server from the bridge settings
func NewServer(cfg config.BridgeConfig, handler MessageHandler, opts ...ServerOption) *Server {
	s := &Server{
		addr:      cfg.Addr,
		path:      cfg.Path,
		handler:   handler,
		logger:    slog.Default(),
		rateLimit: cfg.RateLimit,
		rateBurst: cfg.RateBurst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge binds to loopback for the local shell; origin
			// checks are not meaningful there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "bridge")
	return s
}

// Start begins serving websocket connections. Non-blocking; serve errors
// are logged.
func (s *Server) Start() error {
	if s.handler == nil {
		return errors.WrapFatal(
			errors.New("message handler cannot be nil"), "Bridge", "Start", "handler validation")
	}
	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "lifecycle check")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("bridge listening", "addr", s.addr, "path", s.path)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("bridge server failed", "error", err)
		}
	}()
	return nil
}

// Stop closes all connections and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.mu.Lock()
	for c := range s.conns {
		close(c.outbound)
		delete(s.conns, c)
	}
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

// Broadcast pushes an event envelope to every connected client
func (s *Server) Broadcast(event string, data eventbus.Data) {
	payload, err := encodeEnvelope(event, data)
	if err != nil {
		s.logger.Warn("broadcast encoding failed", "event", event, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.outbound <- payload:
		default:
			// Slow consumer; drop the connection rather than block.
			s.logger.Warn("dropping slow bridge client")
			close(c.outbound)
			delete(s.conns, c)
		}
	}
}

// AttachBus forwards every bus event to connected clients. Registered at
// the lowest priority so local handlers observe events before the push.
func (s *Server) AttachBus(bus *eventbus.Bus) error {
	_, err := bus.Subscribe(eventbus.CatchAll, func(event string, data eventbus.Data) error {
		s.Broadcast(event, data)
		return nil
	}, eventbus.WithPriority(eventbus.Lowest))
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:     conn,
		outbound: make(chan []byte, outboundBuffer),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("bridge client connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop consumes inbound frames, applies the rate limit, and runs
// each message through the handler.
func (s *Server) readLoop(c *client) {
	defer s.disconnect(c)

	var limiter *rate.Limiter
	if s.rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst)
	}

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("bridge read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if limiter != nil && !limiter.Allow() {
			s.send(c, []byte("Error: Rate limit exceeded"))
			continue
		}

		reply := s.handler(string(raw))
		if reply != "" {
			s.send(c, []byte(reply))
		}
	}
}

// writeLoop serializes all writes for a connection
func (s *Server) writeLoop(c *client) {
	for payload := range c.outbound {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Warn("bridge write failed", "error", err)
			_ = c.conn.Close()
			// Drain remaining pushes so Broadcast never blocks
			for range c.outbound {
			}
			return
		}
	}
	_ = c.conn.Close()
}

// send queues a reply for one client. Closing c.outbound always happens
// under s.mu together with removal from s.conns, so the membership check
// here is what keeps this from writing to a closed channel after a
// Broadcast drop or Stop.
func (s *Server) send(c *client, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; !ok {
		return
	}
	select {
	case c.outbound <- payload:
	default:
		s.logger.Warn("dropping reply to slow bridge client")
	}
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	if _, ok := s.conns[c]; ok {
		close(c.outbound)
		delete(s.conns, c)
	}
	s.mu.Unlock()
	s.logger.Info("bridge client disconnected")
}

// encodeEnvelope renders an event push as the same JSON envelope the
// dispatcher accepts inbound.
func encodeEnvelope(event string, data eventbus.Data) ([]byte, error) {
	m := command.NewMap()
	m.Set("event", command.String(event))
	for key, val := range data {
		v, err := command.FromAny(val)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	return command.MapValue(m).MarshalJSON()
}
