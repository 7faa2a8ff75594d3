package server

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/makotom/mbpsmeter/internal/config"
	"github.com/makotom/mbpsmeter/internal/history"
	"github.com/makotom/mbpsmeter/speedtest"
)

const (
	DefaultStreamDuration = 10 * time.Second
	DefaultHistoryLimit   = 20

	payloadChunkSize = 64 * 1024
	shutdownTimeout  = 5 * time.Second
	fileInfoTimeout  = 10 * time.Second
)

// DefaultUpstreamTest is the measurement /api/speedtest runs against the configured
// download URL: three averaged pings and one download capped at 8 seconds.
func DefaultUpstreamTest() speedtest.Configuration {
	c := speedtest.DefaultConfiguration()
	c.MinDuration = 0
	c.MaxDuration = 8 * time.Second
	c.PingSamples = 3
	c.UploadChunkCount = 1
	return c
}

// Server is a minimal speed test server: it streams payloads, swallows uploads,
// answers pings and keeps a shared history of results.
type Server struct {
	router         *gin.Engine
	store          history.Store
	info           config.Server
	logger         *zap.Logger
	streamDuration time.Duration
	historyLimit   int
	payload        []byte
	now            func() time.Time

	client       *http.Client
	upstreamTest speedtest.Configuration
	// one upstream test at a time
	upstream *semaphore.Weighted
}

type Option func(*Server)

func WithStore(store history.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithServerInfo sets the document served on /api/config. Empty URLs are derived from
// the address the request was sent to.
func WithServerInfo(info config.Server) Option {
	return func(s *Server) {
		s.info = info
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStreamDuration bounds how long an unsized /download keeps streaming.
func WithStreamDuration(d time.Duration) Option {
	return func(s *Server) {
		s.streamDuration = d
	}
}

// WithHistoryLimit sets how many results GET /history returns by default.
func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		s.historyLimit = n
	}
}

// WithClient sets the client used to reach the upstream download URL.
func WithClient(client *http.Client) Option {
	return func(s *Server) {
		s.client = client
	}
}

// WithUpstreamTest replaces the measurement settings of /api/speedtest. Its endpoints
// are ignored; the test always targets the configured download URL.
func WithUpstreamTest(c speedtest.Configuration) Option {
	return func(s *Server) {
		s.upstreamTest = c
	}
}

func New(opts ...Option) (*Server, error) {
	s := &Server{
		router:         gin.New(),
		logger:         zap.NewNop(),
		streamDuration: DefaultStreamDuration,
		historyLimit:   DefaultHistoryLimit,
		payload:        make([]byte, payloadChunkSize),
		now:            time.Now,
		client:         &http.Client{},
		upstreamTest:   DefaultUpstreamTest(),
		upstream:       semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := rand.Read(s.payload); err != nil {
		return nil, errors.Wrap(err, "could not generate download payload")
	}

	s.router.Use(gin.Recovery(), s.logRequests)
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/download", s.download)
	s.router.HEAD("/download", s.downloadHead)
	s.router.POST("/upload", s.upload)
	s.router.OPTIONS("/upload", s.uploadOptions)
	s.router.GET("/ping", s.ping)

	api := s.router.Group("/api")
	{
		api.GET("/config", s.getConfig)
		api.GET("/test-file-info", s.testFileInfo)
		api.GET("/speedtest", s.runUpstreamTest)
	}

	if s.store != nil {
		s.router.GET("/history", s.listHistory)
		s.router.POST("/history", s.saveHistory)
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	s.logger.Debug("request served",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Int("size", c.Writer.Size()),
		zap.String("client", c.ClientIP()),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	s.logger.Info("server listening", zap.String("addr", addr))

	select {
	case err := <-errs:
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	s.logger.Info("server stopped")
	return nil
}
