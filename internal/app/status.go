package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
)

const statusShutdownGrace = 5 * time.Second

// statusServer answers liveness checks and metric scrapes on a side port,
// separate from the evaluator's producer and monitor endpoints.
type statusServer struct {
	srv *http.Server
}

// statusRouter reports which ensemble this process is evaluating.
func (app *App) statusRouter() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"ensemble": app.model.Ensemble.ID,
			"driver":   app.model.Queue.Driver,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// startStatusServer binds the configured port. A zero port leaves the
// server off and returns nil.
func (app *App) startStatusServer(ctx context.Context) (*statusServer, error) {
	logger := ctxlog.FromContext(ctx)
	if app.config.HealthcheckPort == 0 {
		logger.Debug("Status server disabled.")
		return nil, nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(app.config.HealthcheckPort)))
	if err != nil {
		return nil, err
	}
	s := &statusServer{srv: &http.Server{
		Handler:           app.statusRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	logger.Info("🩺 Status server listening.", "health", "http://"+ln.Addr().String()+"/health")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server stopped.", "error", err)
		}
	}()
	return s, nil
}

func (s *statusServer) close(ctx context.Context) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusShutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		ctxlog.FromContext(ctx).Warn("Status server shutdown failed.", "error", err)
	}
}
