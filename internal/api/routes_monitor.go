package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/serpent-project/serpent/internal/util"
)

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.lobby.Stats())
}

func (s *Server) handleRooms(c *gin.Context) {
	rooms := s.lobby.Rooms()
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// handleRoom returns the live snapshot of one room.
func (s *Server) handleRoom(c *gin.Context) {
	id, ok := parseRoomID(c)
	if !ok {
		return
	}
	snap, found := s.lobby.RoomSnapshot(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleQueue(c *gin.Context) {
	ids := s.lobby.QueueIDs()
	c.JSON(http.StatusOK, gin.H{
		"queue": ids,
		"total": len(ids),
	})
}

func (s *Server) handlePlayers(c *gin.Context) {
	players := s.lobby.Players()
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

// handleSystem reports host information and current load.
func (s *Server) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system": util.GetSystemInfo(),
		"usage":  util.GetResourceUsage(),
	})
}

func parseRoomID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, false
	}
	return uint32(id), true
}
