package evaluator

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/dispatcher"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/monitor"
	"github.com/specialistvlad/ensembletrack/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Server exposes a dispatcher over HTTP.
type Server struct {
	ctx      context.Context
	d        *dispatcher.Dispatcher
	token    string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	streams int
}

// NewServer creates a server for d. An empty token disables authentication.
// ctx carries the logger and bounds event dispatch.
func NewServer(ctx context.Context, d *dispatcher.Dispatcher, token string) *Server {
	return &Server{
		ctx:   ctxlog.With(ctx, "component", "evaluator-server"),
		d:     d,
		token: token,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Router builds the gin engine serving every endpoint.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthcheck", s.handleHealthcheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := router.Group("/", tokenAuth(s.token))
	{
		ws.GET("/dispatch", s.handleDispatch)
		ws.GET("/client", s.handleClient)
	}
	return router
}

// CloseConnections drops every open websocket. http.Server.Shutdown does
// not track hijacked connections.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// WaitClients blocks until every monitor stream has ended, which happens
// once each has been sent ee-terminated.
func (s *Server) WaitClients(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		n := s.streams
		s.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func tokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(monitor.TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealthcheck(c *gin.Context) {
	status := "running"
	select {
	case <-s.d.Done():
		status = "terminated"
	default:
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) upgrade(c *gin.Context) (*websocket.Conn, func(), bool) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the request.
		ctxlog.FromContext(s.ctx).Warn("Websocket upgrade failed.", "path", c.FullPath(), "error", err)
		return nil, nil, false
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	release := func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}
	return conn, release, true
}

// handleDispatch reads events from one producer. Events of a connection are
// dispatched in the order they arrive.
func (s *Server) handleDispatch(c *gin.Context) {
	conn, release, ok := s.upgrade(c)
	if !ok {
		return
	}
	defer release()
	producersConnected.Inc()
	defer producersConnected.Dec()

	logger := ctxlog.FromContext(s.ctx).With("remote_addr", c.Request.RemoteAddr)
	logger.Debug("Producer connected.")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Producer connection ended.", "error", err)
			}
			return
		}
		ev, err := event.Decode(raw)
		if err != nil {
			eventsRejected.Inc()
			logger.Warn("Rejected malformed event.", "error", err)
			continue
		}
		if err := s.d.Dispatch(s.ctx, ev); err != nil {
			if errors.Is(err, dispatcher.ErrClosed) {
				closeNormally(conn, "evaluation finished")
			}
			return
		}
	}
}

// handleClient streams the broadcast to one monitor and forwards its
// requests to the dispatcher.
func (s *Server) handleClient(c *gin.Context) {
	conn, release, ok := s.upgrade(c)
	if !ok {
		return
	}
	defer release()
	s.trackStream(1)
	defer s.trackStream(-1)

	sub := s.d.Subscribe()
	defer sub.Close()
	logger := ctxlog.FromContext(s.ctx).With("subscription", sub.ID(), "remote_addr", c.Request.RemoteAddr)
	logger.Debug("Monitor connected.")

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		defer cancel()
		s.readRequests(ctx, conn, logger)
	}()

	for {
		m, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			closeNormally(conn, "")
			logger.Debug("Monitor stream finished.")
			return
		}
		if err != nil {
			logger.Debug("Monitor disconnected.", "error", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(m); err != nil {
			logger.Debug("Writing to monitor failed.", "error", err)
			return
		}
	}
}

func (s *Server) readRequests(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := protocol.DecodeRequest(raw)
		if err != nil {
			logger.Warn("Rejected malformed monitor request.", "error", err)
			continue
		}
		monitorRequests.WithLabelValues(string(req.Kind)).Inc()

		switch req.Kind {
		case event.UserCancel:
			logger.Info("🛑 Monitor requested cancellation.")
			err = s.d.Cancel(ctx)
		case event.UserDone:
			logger.Info("Monitor signalled done.")
			err = s.d.Finish(ctx)
		}
		if err != nil && !errors.Is(err, dispatcher.ErrClosed) {
			logger.Warn("Forwarding monitor request failed.", "type", req.Kind, "error", err)
		}
	}
}

func (s *Server) trackStream(delta int) {
	s.mu.Lock()
	s.streams += delta
	s.mu.Unlock()
}

func closeNormally(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
}
