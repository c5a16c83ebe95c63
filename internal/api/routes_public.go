package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "serpent",
		"version": s.version,
	})
}

// handleServerInfo describes how to connect and what game is played.
func (s *Server) handleServerInfo(c *gin.Context) {
	server := s.cfg.GetServer()
	g := s.cfg.GetGame()

	c.JSON(http.StatusOK, gin.H{
		"version":            s.version,
		"game_port":          server.Port,
		"heartbeat_sec":      server.HeartbeatIntervalSec,
		"min_client_version": server.MinClientVersion,
		"route_dict":         server.RouteDict,
		"board": gin.H{
			"width":  g.Width,
			"height": g.Height,
		},
		"tick_ms":    g.TickMS,
		"match_size": g.MatchSize,
	})
}
