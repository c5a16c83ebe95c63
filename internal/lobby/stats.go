package lobby

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/serpent-project/serpent/internal/game"
)

// Stats summarizes the lobby.
type Stats struct {
	Players       int           `json:"players"`
	Queued        int           `json:"queued"`
	Rooms         int           `json:"rooms"`
	Spectators    int           `json:"spectators"`
	RoomsStarted  uint64        `json:"rooms_started"`
	RoomsFinished uint64        `json:"rooms_finished"`
	Uptime        time.Duration `json:"uptime_ns"`
}

// RoomInfo is one row of the room listing.
type RoomInfo struct {
	ID        uint32          `json:"id"`
	Status    game.RoomStatus `json:"status"`
	Tick      uint64          `json:"tick"`
	Players   []uint32        `json:"players"`
	Alive     int             `json:"alive"`
	Winner    *uint32         `json:"winner,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.playersMu.RLock()
	players := len(m.players)
	m.playersMu.RUnlock()

	m.roomsMu.RLock()
	rooms := len(m.rooms)
	m.roomsMu.RUnlock()

	return Stats{
		Players:       players,
		Queued:        m.queue.Len(),
		Rooms:         rooms,
		Spectators:    m.spectators.Count(),
		RoomsStarted:  m.roomsStarted.Load(),
		RoomsFinished: m.roomsFinished.Load(),
		Uptime:        time.Since(m.startedAt),
	}
}

// Rooms lists the live rooms by id.
func (m *Manager) Rooms() []RoomInfo {
	m.roomsMu.RLock()
	rooms := make([]*game.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.roomsMu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID() < rooms[j].ID() })

	infos := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		snap := r.Snapshot()
		alive := 0
		for _, p := range snap.Players {
			if p.Alive {
				alive++
			}
		}
		infos = append(infos, RoomInfo{
			ID:        r.ID(),
			Status:    snap.Status,
			Tick:      snap.Tick,
			Players:   snap.PlayerIDs(),
			Alive:     alive,
			Winner:    snap.Winner,
			CreatedAt: r.CreatedAt(),
		})
	}
	return infos
}

// RoomSnapshot returns the current state of one room.
func (m *Manager) RoomSnapshot(id uint32) (game.Snapshot, bool) {
	room, ok := m.room(id)
	if !ok {
		return game.Snapshot{}, false
	}
	return room.Snapshot(), true
}

// Players lists connected players by id.
func (m *Manager) Players() []game.PlayerInfo {
	m.playersMu.RLock()
	infos := make([]game.PlayerInfo, 0, len(m.players))
	for _, p := range m.players {
		infos = append(infos, p.Info())
	}
	m.playersMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// QueueIDs returns the waiting player ids in queue order.
func (m *Manager) QueueIDs() []uint32 {
	return m.queue.IDs()
}

// Spectate subscribes to a live room. The cancel function must be called
// when the watcher goes away.
func (m *Manager) Spectate(roomID uint32) (<-chan game.Snapshot, func(), error) {
	if _, ok := m.room(roomID); !ok {
		return nil, nil, fmt.Errorf("room %d not found", roomID)
	}
	id, ch := m.spectators.Subscribe(roomID, DefaultSpectatorBuffer)
	return ch, func() { m.spectators.Unsubscribe(roomID, id) }, nil
}

// Wait blocks until every room loop has returned or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.roomWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
