package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/dashboard"
	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/connector"
	"github.com/meshbridge-project/meshbridge/internal/db"
	"github.com/meshbridge-project/meshbridge/internal/health"
	"github.com/meshbridge-project/meshbridge/internal/metrics"
	intnet "github.com/meshbridge-project/meshbridge/internal/network"
	"github.com/meshbridge-project/meshbridge/internal/protocol"
)

// Radio is the part of the radio connector the API reads from.
type Radio interface {
	Stats() connector.ConnectorStats
	Session() *protocol.Session
	RequestSync() error
}

// Notifier reports Discord delivery counters.
type Notifier interface {
	Stats() connector.DiscordStats
}

// History serves stored events and nodes.
type History interface {
	Recent(eventType string, limit int) ([]db.StoredEvent, error)
	Nodes() ([]db.NodeRecord, error)
}

// Health reports the latest health check results.
type Health interface {
	Snapshot() []health.CheckResult
}

// Server is the HTTP status API.
type Server struct {
	cfg config.APIConfig

	radio    Radio
	notifier Notifier
	history  History
	health   Health

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, radio Radio) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:   cfg,
		radio: radio,
	}
}

// SetDependencies injects the optional sinks. Either may be nil.
func (s *Server) SetDependencies(notifier Notifier, history History) {
	s.notifier = notifier
	s.history = history
}

// SetHealth injects the health check manager.
func (s *Server) SetHealth(h Health) {
	s.health = h
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Listen, s.cfg.Port)
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := s.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ln, err := intnet.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("component", "api").Str("addr", addr).Msg("status API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	metrics.Register()

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
	}

	api := router.Group("/api")
	{
		api.GET("/status", s.handleGetStatus)
		api.GET("/health", s.handleGetHealth)
		api.GET("/contacts", s.handleGetContacts)
		api.GET("/nodes", s.handleGetNodes)
		api.GET("/events", s.handleGetEvents)
		api.POST("/resync", s.handleResync)
	}

	page := http.FileServer(http.FS(dashboard.Files()))
	router.GET("/", gin.WrapH(page))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultEventLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxEventLimit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("limit must be between 1 and %d", maxEventLimit),
		})
		return 0, false
	}
	return n, true
}
