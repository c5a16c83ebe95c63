// Package api serves the read-only HTTP status API of the serpent server
// and the WebSocket spectator stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/serpent-project/serpent/dashboard"
	"github.com/serpent-project/serpent/internal/config"
	"github.com/serpent-project/serpent/internal/game"
	"github.com/serpent-project/serpent/internal/lobby"
	intnet "github.com/serpent-project/serpent/internal/network"
)

// Lobby is the view of the game server the API reports on.
type Lobby interface {
	Stats() lobby.Stats
	Rooms() []lobby.RoomInfo
	RoomSnapshot(id uint32) (game.Snapshot, bool)
	Players() []game.PlayerInfo
	QueueIDs() []uint32
	Spectate(roomID uint32) (<-chan game.Snapshot, func(), error)
}

// Server is the HTTP status API.
type Server struct {
	cfg     *config.Config
	lobby   Lobby
	version string

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and builds its routes.
func NewServer(cfg *config.Config, lb Lobby, version string) *Server {
	if strings.EqualFold(cfg.GetLogging().Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		lobby:   lb,
		version: version,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := fmt.Sprintf(":%d", apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("status API starting")

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

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/stats", s.handleStats)
		monitor.GET("/rooms", s.handleRooms)
		monitor.GET("/rooms/:id", s.handleRoom)
		monitor.GET("/queue", s.handleQueue)
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/system", s.handleSystem)
	}

	router.GET("/api/spectate/:id", s.handleSpectate(allowedOrigins))

	// Everything outside /api/ serves the embedded spectator page.
	index, err := dashboard.Index()
	if err != nil {
		log.Warn().Err(err).Msg("dashboard UI will not be available")
	}
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || index == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})

	return router
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
