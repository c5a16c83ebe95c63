package game

import (
	"sync"
	"time"
)

// Conn is the outbound side of a player's connection.
type Conn interface {
	Push(route string, body any) error
	Kick(reason string) error
}

// Player is a connected participant.
//
// ID, Name and the connection never change. Status and room membership are
// guarded by the player's own lock. The game fields below are owned by the
// room the player is in and are only touched under that room's lock.
type Player struct {
	ID       uint32
	Name     string
	JoinedAt time.Time
	conn     Conn

	mu     sync.Mutex
	status PlayerStatus
	roomID uint32

	Alive            bool
	Score            int
	Direction        Direction
	PendingDirection Direction
	Segments         []Pos
}

// NewPlayer creates a player in the Matching state.
func NewPlayer(id uint32, name string, conn Conn) *Player {
	return &Player{
		ID:       id,
		Name:     name,
		JoinedAt: time.Now(),
		conn:     conn,
		status:   StatusMatching,
	}
}

// Conn returns the player's connection. It may be nil for detached players.
func (p *Player) Conn() Conn {
	return p.conn
}

// Status returns the matchmaking status.
func (p *Player) Status() PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RoomID returns the current room id, zero when not in a room.
func (p *Player) RoomID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

func (p *Player) setMatching() {
	p.mu.Lock()
	p.status = StatusMatching
	p.roomID = 0
	p.mu.Unlock()
}

func (p *Player) setInGame(roomID uint32) {
	p.mu.Lock()
	p.status = StatusInGame
	p.roomID = roomID
	p.mu.Unlock()
}

// PlayerInfo is a read-only view of a player for status listings.
type PlayerInfo struct {
	ID       uint32       `json:"id"`
	Name     string       `json:"name"`
	Status   PlayerStatus `json:"status"`
	RoomID   uint32       `json:"room_id,omitempty"`
	JoinedAt time.Time    `json:"joined_at"`
}

// Info returns a consistent view of the player's registry fields.
func (p *Player) Info() PlayerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlayerInfo{
		ID:       p.ID,
		Name:     p.Name,
		Status:   p.status,
		RoomID:   p.roomID,
		JoinedAt: p.JoinedAt,
	}
}
