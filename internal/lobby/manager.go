// Package lobby glues protocol sessions to the snake game: it owns the
// global player and room registries, the match queue, the application
// routes, and the matchmaking and cleanup loops.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/serpent-project/serpent/internal/config"
	"github.com/serpent-project/serpent/internal/events"
	"github.com/serpent-project/serpent/internal/game"
	"github.com/serpent-project/serpent/internal/network"
	"github.com/serpent-project/serpent/internal/protocol"
	"github.com/serpent-project/serpent/internal/session"
	"github.com/serpent-project/serpent/internal/util"
)

const (
	eventSource = "lobby"
	nameKey     = "name"
)

// ErrPlayerNotFound is returned for operations on an unknown player id.
var ErrPlayerNotFound = errors.New("player not found")

// Manager is the server-side application. It implements network.ConnHandler.
//
// The player registry, the room registry and the match queue each have
// their own lock and are never held together. A room's own lock is never
// taken while a registry lock is held.
type Manager struct {
	server   config.ServerConfig
	game     config.GameConfig
	eventBus *events.EventBus
	logger   zerolog.Logger

	opts       session.Options
	router     *session.Router
	queue      *game.MatchQueue
	spectators *SpectatorHub

	playersMu sync.RWMutex
	players   map[uint32]*game.Player

	roomsMu sync.RWMutex
	rooms   map[uint32]*game.Room
	roomWG  sync.WaitGroup

	nextPlayerID  atomic.Uint32
	nextRoomID    atomic.Uint32
	roomsStarted  atomic.Uint64
	roomsFinished atomic.Uint64
	startedAt     time.Time
}

// NewManager builds the lobby from cfg. The event bus may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus) (*Manager, error) {
	server := cfg.GetServer()
	gameCfg := cfg.GetGame()

	dict, err := protocol.NewRouteDict(server.RouteDict)
	if err != nil {
		return nil, fmt.Errorf("invalid route dictionary: %w", err)
	}

	m := &Manager{
		server:     server,
		game:       gameCfg,
		eventBus:   eventBus,
		logger:     util.ComponentLogger("lobby"),
		router:     session.NewRouter(),
		queue:      game.NewMatchQueue(gameCfg.MatchSize),
		spectators: NewSpectatorHub(),
		players:    make(map[uint32]*game.Player),
		rooms:      make(map[uint32]*game.Room),
		startedAt:  time.Now(),
	}
	m.registerRoutes()

	m.opts = session.Options{
		Role:              session.RoleServer,
		HeartbeatInterval: server.HeartbeatInterval(),
		ReadTimeout:       server.ReadTimeout(),
		HandshakeTimeout:  server.HandshakeTimeout(),
		MaxBodySize:       server.MaxBodyBytes,
		Dict:              dict,
		MinClientVersion:  server.MinClientVersion,
		OnHandshake:       m.onHandshake,
		Router:            m.router,
		MessagesPerSec:    server.MaxMessagesPerSec,
		OnWorking:         m.onWorking,
		OnClose:           m.onClose,
	}

	if eventBus != nil {
		eventBus.Subscribe(events.EventShutdown, "lobby.shutdown", m.onShutdown)
	}

	m.logger.Info().
		Int("match_size", gameCfg.MatchSize).
		Int("width", gameCfg.Width).
		Int("height", gameCfg.Height).
		Dur("tick", gameCfg.TickInterval()).
		Int("routes", dict.Len()).
		Msg("lobby initialized")

	return m, nil
}

// ServeConn runs one client session until it closes.
func (m *Manager) ServeConn(ctx context.Context, conn *network.Connection) {
	session.New(conn, m.opts).Run(ctx)
}

// Router returns the application route table.
func (m *Manager) Router() *session.Router {
	return m.router
}

// Spectators returns the spectator fan-out hub.
func (m *Manager) Spectators() *SpectatorHub {
	return m.spectators
}

// onHandshake assigns the player id and answers with the board size.
func (m *Manager) onHandshake(s *session.Session, req protocol.HandshakeRequest) (int, map[string]any) {
	id := m.nextPlayerID.Add(1)
	name := strings.TrimSpace(req.DisplayName())
	if name == "" {
		name = fmt.Sprintf("Player%d", id)
	}

	s.Bind(id)
	s.Set(nameKey, name)

	return protocol.CodeOK, map[string]any{
		"id":     id,
		"width":  m.game.Width,
		"height": m.game.Height,
	}
}

// onWorking registers the new player and puts it in the match queue.
func (m *Manager) onWorking(s *session.Session) {
	name, _ := s.Get(nameKey)
	p := game.NewPlayer(s.UID(), fmt.Sprint(name), s)

	m.register(p)
	// The session may have closed before it was registered.
	if s.State() == session.StateClosed {
		m.unregister(p.ID)
		return
	}
	m.queue.Enqueue(p)

	remote := ""
	if addr := s.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	m.logger.Info().
		Uint32("player", p.ID).
		Str("name", p.Name).
		Str("remote", remote).
		Msg("player joined")

	m.emit(events.EventPlayerConnected, events.PlayerPayload{
		PlayerID: p.ID,
		Name:     p.Name,
		Remote:   remote,
	})
}

// onClose drops the player from the queue, its room and the registry.
func (m *Manager) onClose(s *session.Session, err error) {
	id := s.UID()
	if id == 0 {
		return
	}
	p, ok := m.unregister(id)
	if !ok {
		return
	}

	m.queue.RemoveID(id)
	if roomID := p.RoomID(); roomID != 0 {
		if room, ok := m.room(roomID); ok {
			room.RemovePlayer(id)
		}
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	m.logger.Info().Uint32("player", id).Str("name", p.Name).Str("reason", reason).Msg("player left")

	m.emit(events.EventPlayerDisconnected, events.PlayerPayload{
		PlayerID: id,
		Name:     p.Name,
		Reason:   reason,
	})
}

func (m *Manager) onShutdown(_ context.Context, event events.Event) error {
	reason := "server shutting down"
	if p, ok := event.Payload.(events.ShutdownPayload); ok && p.Reason != "" {
		reason = p.Reason
	}
	m.KickAll(reason)
	return nil
}

// Kick disconnects one player with a reason.
func (m *Manager) Kick(playerID uint32, reason string) error {
	p, ok := m.player(playerID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrPlayerNotFound, playerID)
	}

	m.logger.Info().Uint32("player", playerID).Str("reason", reason).Msg("kicking player")
	m.emit(events.EventPlayerKicked, events.PlayerPayload{
		PlayerID: playerID,
		Name:     p.Name,
		Reason:   reason,
	})

	if conn := p.Conn(); conn != nil {
		return conn.Kick(reason)
	}
	m.unregister(playerID)
	m.queue.RemoveID(playerID)
	return nil
}

// KickAll disconnects every player.
func (m *Manager) KickAll(reason string) {
	m.playersMu.RLock()
	ids := make([]uint32, 0, len(m.players))
	for id := range m.players {
		ids = append(ids, id)
	}
	m.playersMu.RUnlock()

	for _, id := range ids {
		if err := m.Kick(id, reason); err != nil && !errors.Is(err, ErrPlayerNotFound) {
			m.logger.Debug().Err(err).Uint32("player", id).Msg("kick failed")
		}
	}
}

func (m *Manager) register(p *game.Player) {
	m.playersMu.Lock()
	m.players[p.ID] = p
	m.playersMu.Unlock()
}

func (m *Manager) unregister(id uint32) (*game.Player, bool) {
	m.playersMu.Lock()
	defer m.playersMu.Unlock()
	p, ok := m.players[id]
	if ok {
		delete(m.players, id)
	}
	return p, ok
}

func (m *Manager) player(id uint32) (*game.Player, bool) {
	m.playersMu.RLock()
	defer m.playersMu.RUnlock()
	p, ok := m.players[id]
	return p, ok
}

func (m *Manager) room(id uint32) (*game.Room, bool) {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

func (m *Manager) emit(t events.EventType, payload interface{}) {
	m.eventBus.Emit(context.Background(), events.NewEvent(t, eventSource, payload))
}
