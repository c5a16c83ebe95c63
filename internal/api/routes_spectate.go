package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	spectateWriteWait  = 10 * time.Second
	spectatePongWait   = 60 * time.Second
	spectatePingPeriod = 54 * time.Second
)

// handleSpectate upgrades to a WebSocket and streams every snapshot of the
// room as a JSON text frame until the room is retired or the viewer leaves.
func (s *Server) handleSpectate(allowedOrigins []string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}

	return func(c *gin.Context) {
		roomID, ok := parseRoomID(c)
		if !ok {
			return
		}
		snapshots, cancel, err := s.lobby.Spectate(roomID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		defer cancel()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Uint32("room", roomID).Msg("spectator upgrade failed")
			return
		}
		defer conn.Close()

		logger := log.With().Str("component", "spectator").Uint32("room", roomID).Str("remote", c.ClientIP()).Logger()
		logger.Debug().Msg("spectator connected")

		// The read side only services control frames and notices the viewer leaving.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadDeadline(time.Now().Add(spectatePongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(spectatePongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(spectatePingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				logger.Debug().Msg("spectator left")
				return
			case snap, open := <-snapshots:
				conn.SetWriteDeadline(time.Now().Add(spectateWriteWait))
				if !open {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
					return
				}
				if err := conn.WriteJSON(snap); err != nil {
					logger.Debug().Err(err).Msg("spectator write failed")
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(spectateWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
