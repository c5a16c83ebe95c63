package lobby

import (
	"encoding/json"

	"github.com/serpent-project/serpent/internal/game"
	"github.com/serpent-project/serpent/internal/session"
)

// Application routes.
const (
	RouteHello      = "connector.entryHandler.hello"
	RouteHelloShort = "entryHandler.hello"
	RouteMove       = "snake.move"
	RouteState      = game.StateRoute
)

type moveRequest struct {
	Dir *game.Direction `json:"dir"`
}

func (m *Manager) registerRoutes() {
	m.router.Handle(RouteHello, m.handleHello)
	m.router.Handle(RouteHelloShort, m.handleHello)
	m.router.Handle(RouteMove, m.handleMove)
}

// handleHello echoes the request body back under msg, adding the number of
// requests this session has made.
func (m *Manager) handleHello(s *session.Session, body []byte) any {
	msg := make(map[string]any)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &msg); err != nil || msg == nil {
			msg = make(map[string]any)
		}
	}
	msg["serverReqId"] = s.RequestsServed()

	return map[string]any{
		"code": 0,
		"msg":  msg,
	}
}

// handleMove records a steering request for the sender's room. Malformed
// bodies and players outside a room are ignored.
func (m *Manager) handleMove(s *session.Session, body []byte) any {
	var req moveRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Dir == nil {
		m.logger.Debug().Uint32("player", s.UID()).Bytes("body", body).Msg("ignoring malformed move")
		return nil
	}
	m.steer(s.UID(), *req.Dir)
	return nil
}

// steer forwards a direction change to the player's room.
func (m *Manager) steer(playerID uint32, dir game.Direction) bool {
	p, ok := m.player(playerID)
	if !ok {
		return false
	}
	roomID := p.RoomID()
	if roomID == 0 {
		return false
	}
	room, ok := m.room(roomID)
	if !ok {
		return false
	}
	room.HandleMove(playerID, dir)
	return true
}
