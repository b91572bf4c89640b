// Package server exposes the query engine over HTTP in the JSON dialect of
// dashboard datasource plugins.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/bunquery/internal/config"
	"github.com/kartikbazzad/bunbase/bunquery/internal/engine"
	"github.com/kartikbazzad/bunbase/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/table"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/logger"
)

// Querier is the engine surface the HTTP handlers use.
type Querier interface {
	Query(ctx context.Context, b engine.Batch) ([]table.Table, error)
	Ping(ctx context.Context, opts query.Options) error
	Search(ctx context.Context, text string, opts query.Options) error
	Pending() int
}

// Server is the HTTP front end.
type Server struct {
	addr       string
	logTimings bool
	q          Querier
	log        *slog.Logger
	router     *gin.Engine
}

// New builds the router for q.
func New(cfg *config.Config, q Querier, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	s := &Server{
		addr:       cfg.ListenAddr(),
		logTimings: cfg.Log.Timings,
		q:          q,
		log:        log,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware(cfg.Server.CORSOrigin))
	if cfg.Log.Requests {
		router.Use(requestLogMiddleware(log))
	}

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/")
	if cfg.Server.RateLimitPerMinute > 0 {
		api.Use(rateLimitMiddleware(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst))
	}
	api.POST("/", s.testConnection)
	api.POST("/search", s.search)
	api.POST("/query", s.query)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
